// Package archive creates compressed tar archives of configured paths.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/rs/zerolog"
)

// Tools lists the external commands this service needs.
var Tools = []string{"tar"}

// Service defines the interface for archive operations.
type Service interface {
	Archive(ctx context.Context, spec models.PathSpec, dir, timestamp string) (*models.ArchiveResult, error)
}

// Impl implements the archive Service interface.
type Impl struct {
	runner command.Runner
	logger zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		runner: command.New(logger),
		logger: logger,
	}
}

// NewWithRunner creates a new archive service with a custom runner (for testing).
func NewWithRunner(logger zerolog.Logger, runner command.Runner) *Impl {
	return &Impl{
		runner: runner,
		logger: logger,
	}
}

// OutputName returns the artifact name for a label and run timestamp.
func OutputName(label, timestamp string) string {
	return fmt.Sprintf("%s_%s.tar.gz", label, timestamp)
}

// Archive writes <dir>/<label>_<timestamp>.tar.gz containing the source
// path. A missing source is skipped with a warning.
func (s *Impl) Archive(ctx context.Context, spec models.PathSpec, dir, timestamp string) (*models.ArchiveResult, error) {
	start := time.Now()
	outputPath := filepath.Join(dir, OutputName(spec.Label, timestamp))
	result := &models.ArchiveResult{
		Spec:       spec,
		OutputPath: outputPath,
	}

	source := filepath.Clean(spec.Source)
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("source", spec.Source).Str("label", spec.Label).Msg("source path does not exist, skipping")
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
		result.Error = fmt.Errorf("failed to stat %s: %w", spec.Source, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("source", spec.Source).
		Str("label", spec.Label).
		Str("output", outputPath).
		Msg("archiving path")

	cmd := command.Command{
		Name:   "tar",
		Args:   []string{"-czf", outputPath, "-C", filepath.Dir(source), filepath.Base(source)},
		Intent: "archive " + spec.Source,
	}
	code, err := s.runner.Run(ctx, cmd)
	if err != nil || code != 0 {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = &models.CommandError{Intent: cmd.Intent, Name: cmd.Name, ExitCode: code, Err: err}
		result.Duration = time.Since(start)
		return result, nil
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Str("size", humanize.IBytes(uint64(result.SizeBytes))). //nolint:gosec // size is never negative
		Dur("duration", result.Duration).
		Msg("archive completed")

	return result, nil
}
