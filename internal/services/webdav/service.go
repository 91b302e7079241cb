// Package webdav transfers backup artifacts to a WebDAV collection with curl.
package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/rs/zerolog"
)

// Tools lists the external commands this service needs.
var Tools = []string{"curl"}

// Service defines the interface for WebDAV operations.
type Service interface {
	Probe(ctx context.Context, cfg models.WebDAVConfig) error
	Upload(ctx context.Context, cfg models.WebDAVConfig, dir string) (*models.UploadResult, error)
	List(ctx context.Context, cfg models.WebDAVConfig) ([]string, error)
	Delete(ctx context.Context, cfg models.WebDAVConfig, name string) error
}

// Impl implements the WebDAV Service interface.
type Impl struct {
	runner command.Runner
	logger zerolog.Logger
}

// New creates a new WebDAV service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		runner: command.New(logger),
		logger: logger,
	}
}

// NewWithRunner creates a new WebDAV service with a custom runner (for testing).
func NewWithRunner(logger zerolog.Logger, runner command.Runner) *Impl {
	return &Impl{
		runner: runner,
		logger: logger,
	}
}

// ObjectURL returns the URL of name inside the configured collection.
func ObjectURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(name)
}

// curl builds a curl command with the shared flags: silent, errors shown,
// HTTP errors turned into a non-zero exit.
func curl(cfg models.WebDAVConfig, intent string, args ...string) command.Command {
	full := []string{"-sS", "-f"}
	if cfg.User != "" || cfg.Password != "" {
		full = append(full, "-u", cfg.User+":"+cfg.Password)
	}
	return command.Command{
		Name:    "curl",
		Args:    append(full, args...),
		Secrets: []string{cfg.Password},
		Intent:  intent,
	}
}

// Probe checks that the collection answers a PROPFIND request.
func (s *Impl) Probe(ctx context.Context, cfg models.WebDAVConfig) error {
	cmd := curl(cfg, "probe "+cfg.URL, "-X", "PROPFIND", "-H", "Depth: 1", "-o", "/dev/null", cfg.URL)
	code, err := s.runner.Run(ctx, cmd)
	if err != nil || code != 0 {
		return &models.ConnectivityError{Target: cfg.URL, ExitCode: code, Err: err}
	}
	return nil
}

// Upload probes the collection and uploads every file below dir. A failed
// file marks the outcome failed but does not stop the remaining uploads.
func (s *Impl) Upload(ctx context.Context, cfg models.WebDAVConfig, dir string) (*models.UploadResult, error) {
	s.logger.Info().Str("url", cfg.URL).Str("dir", dir).Msg("starting upload")

	start := time.Now()
	result := &models.UploadResult{Outcome: models.UploadFailed}

	if err := s.Probe(ctx, cfg); err != nil {
		s.logger.Error().Err(err).Str("url", cfg.URL).Msg("WebDAV endpoint not reachable")
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	files, err := listFiles(dir)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	for _, f := range files {
		name := filepath.Base(f.path)
		if err := s.uploadFile(ctx, cfg, f.path, name); err != nil {
			s.logger.Error().Err(err).Str("file", name).Msg("upload failed")
			result.Failed = append(result.Failed, name)
			if result.Error == nil {
				result.Error = err
			}
			continue
		}
		result.Uploaded = append(result.Uploaded, name)
		result.Bytes += f.size
		s.logger.Info().Str("file", name).Str("size", humanize.IBytes(uint64(f.size))).Msg("uploaded") //nolint:gosec // size is never negative
	}

	if len(result.Failed) == 0 {
		result.Outcome = models.UploadSucceeded
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("outcome", string(result.Outcome)).
		Int("uploaded", len(result.Uploaded)).
		Int("failed", len(result.Failed)).
		Str("bytes", humanize.IBytes(uint64(result.Bytes))). //nolint:gosec // size is never negative
		Dur("duration", result.Duration).
		Msg("upload finished")

	return result, nil
}

// uploadFile PUTs one file, retrying non-zero exits with exponential
// backoff up to cfg.Retries times.
func (s *Impl) uploadFile(ctx context.Context, cfg models.WebDAVConfig, path, name string) error {
	cmd := curl(cfg, "upload "+name, "-T", path, ObjectURL(cfg.URL, name))

	attempt := 0
	operation := func() error {
		attempt++
		code, err := s.runner.Run(ctx, cmd)
		if err != nil {
			return backoff.Permanent(&models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code, Err: err})
		}
		if code != 0 {
			if attempt <= cfg.Retries {
				s.logger.Warn().Str("file", name).Int("attempt", attempt).Int("exit_code", code).Msg("upload failed, retrying")
			}
			return &models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code}
		}
		return nil
	}

	return backoff.Retry(operation, newBackOff(ctx, cfg))
}

func newBackOff(ctx context.Context, cfg models.WebDAVConfig) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.RetryInterval
	exp.MaxElapsedTime = 0
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// List returns the names of the resources inside the collection.
func (s *Impl) List(ctx context.Context, cfg models.WebDAVConfig) ([]string, error) {
	var body bytes.Buffer
	cmd := curl(cfg, "list "+cfg.URL, "-X", "PROPFIND", "-H", "Depth: 1", cfg.URL)
	code, err := s.runner.RunCapture(ctx, cmd, &body)
	if err != nil || code != 0 {
		return nil, &models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code, Err: err}
	}

	collection := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		collection = u.Path
	}

	names, err := ParseMultistatus(&body, collection)
	if err != nil {
		return nil, fmt.Errorf("parsing listing of %s: %w", cfg.URL, err)
	}

	s.logger.Debug().Str("url", cfg.URL).Int("entries", len(names)).Msg("listed remote collection")
	return names, nil
}

// Delete removes one resource from the collection.
func (s *Impl) Delete(ctx context.Context, cfg models.WebDAVConfig, name string) error {
	cmd := curl(cfg, "delete "+name, "-X", "DELETE", ObjectURL(cfg.URL, name))
	code, err := s.runner.Run(ctx, cmd)
	if err != nil || code != 0 {
		return &models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code, Err: err}
	}
	s.logger.Info().Str("file", name).Msg("deleted remote artifact")
	return nil
}

type localFile struct {
	path string
	size int64
}

func listFiles(dir string) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, localFile{path: path, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return files, nil
}
