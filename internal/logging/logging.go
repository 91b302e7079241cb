// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log output.
type Options struct {
	JSON    bool
	Verbose bool
	Quiet   bool
	// File, when set, receives a JSON copy of every event, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Defaults for the rotating log file.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Level returns the minimum level for the verbosity flags. Quiet wins over
// Verbose.
func Level(opts Options) zerolog.Level {
	switch {
	case opts.Quiet:
		return zerolog.ErrorLevel
	case opts.Verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// ConsoleWriter returns the human readable writer used on terminals.
func ConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	output.FormatLevel = func(i interface{}) string {
		if s, ok := i.(string); ok {
			return strings.ToUpper(s)
		}
		return ""
	}
	return output
}

// New builds a logger writing to out. The returned closer flushes and
// closes the log file, if any.
func New(out io.Writer, opts Options) (zerolog.Logger, io.Closer, error) {
	var w io.Writer = out
	if !opts.JSON {
		w = ConsoleWriter(out)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(w, file)
		closer = file
	}

	logger := zerolog.New(w).Level(Level(opts)).With().Timestamp().Logger()
	return logger, closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
