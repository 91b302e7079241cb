// Package mysql provides MySQL dump operations.
package mysql

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Tools lists the external commands this service needs.
var Tools = []string{"mysql", "mysqldump"}

// Service defines the interface for MySQL dump operations.
type Service interface {
	Probe(ctx context.Context, cfg models.MySQLConfig) error
	Dump(ctx context.Context, cfg models.MySQLConfig, outputPath string) (*models.DumpResult, error)
}

// Impl implements the MySQL Service interface.
type Impl struct {
	runner command.Runner
	logger zerolog.Logger
}

// New creates a new MySQL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		runner: command.New(logger),
		logger: logger,
	}
}

// NewWithRunner creates a new MySQL service with a custom runner (for testing).
func NewWithRunner(logger zerolog.Logger, runner command.Runner) *Impl {
	return &Impl{
		runner: runner,
		logger: logger,
	}
}

// OutputName returns the dump artifact name for a run timestamp.
func OutputName(timestamp string) string {
	return fmt.Sprintf("mysql_%s.sql.gz", timestamp)
}

// connectionArgs returns the arguments shared by mysql and mysqldump. The
// password is a single argv element, so it needs no quoting.
func connectionArgs(cfg models.MySQLConfig) []string {
	args := []string{
		"-h", cfg.Host,
		"-P", strconv.Itoa(cfg.Port),
		"-u", cfg.User,
	}
	if cfg.Password != "" {
		args = append(args, "--password="+cfg.Password)
	}
	return append(args, "--protocol=tcp")
}

// Probe checks that the server accepts the configured credentials.
func (s *Impl) Probe(ctx context.Context, cfg models.MySQLConfig) error {
	target := fmt.Sprintf("mysql %s:%d", cfg.Host, cfg.Port)

	code, err := s.runner.Run(ctx, command.Command{
		Name:    "mysql",
		Args:    append(connectionArgs(cfg), "-e", "SELECT 1"),
		Secrets: []string{cfg.Password},
		Intent:  "probe " + target,
	})
	if err != nil || code != 0 {
		return &models.ConnectivityError{Target: target, ExitCode: code, Err: err}
	}
	return nil
}

// Dump probes the server, then writes a gzip-compressed dump of all
// databases to outputPath. A partial file is removed on failure.
func (s *Impl) Dump(ctx context.Context, cfg models.MySQLConfig, outputPath string) (*models.DumpResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.User).
		Str("output", outputPath).
		Msg("starting MySQL dump")

	start := time.Now()
	result := &models.DumpResult{
		OutputPath: outputPath,
	}

	if err := s.Probe(ctx, cfg); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := s.dumpTo(ctx, cfg, outputPath); err != nil {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Str("size", humanize.IBytes(uint64(result.SizeBytes))). //nolint:gosec // size is never negative
		Dur("duration", result.Duration).
		Msg("MySQL dump completed")

	return result, nil
}

func (s *Impl) dumpTo(ctx context.Context, cfg models.MySQLConfig, outputPath string) error {
	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	gz := gzip.NewWriter(output)

	cmd := command.Command{
		Name:    "mysqldump",
		Args:    append(connectionArgs(cfg), "--single-transaction", "--all-databases"),
		Secrets: []string{cfg.Password},
		Intent:  "dump all databases to " + filepath.Base(outputPath),
	}
	code, runErr := s.runner.RunCapture(ctx, cmd, gz)
	if runErr != nil || code != 0 {
		_ = gz.Close()
		return &models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code, Err: runErr}
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish compressed dump: %w", err)
	}
	if err := output.Close(); err != nil {
		return fmt.Errorf("failed to close dump file: %w", err)
	}
	return nil
}
