// Package command runs external tools as argument vectors and reports their
// exit codes.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Redacted replaces secret values in logged command lines.
const Redacted = "******"

// maxLoggedOutput bounds how much stderr is kept for logging.
const maxLoggedOutput = 4096

// Command is one external tool invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string // appended to the process environment
	Intent string   // what the command is for, e.g. "upload mysql_20240101.sql.gz"

	// Secrets are redacted wherever the command line is logged.
	Secrets []string
}

// String returns the command line with every secret redacted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if strings.ContainsAny(arg, " \t\"'") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return Redact(strings.Join(parts, " "), c.Secrets)
}

// Redact replaces every non-empty secret in s.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, Redacted)
		}
	}
	return s
}

// Runner executes commands.
//
// The returned exit code is the process exit code. A non-zero exit is not an
// error; err is only set when the process could not be started, in which
// case the code is -1.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
	RunCapture(ctx context.Context, cmd Command, stdout io.Writer) (int, error)
	Missing(names ...string) []string
}

// Impl implements Runner with os/exec.
type Impl struct {
	logger   zerolog.Logger
	lookPath func(file string) (string, error)
}

// New creates a new command runner.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Run executes cmd and discards its standard output.
func (r *Impl) Run(ctx context.Context, cmd Command) (int, error) {
	return r.RunCapture(ctx, cmd, io.Discard)
}

// RunCapture executes cmd and streams its standard output into stdout.
func (r *Impl) RunCapture(ctx context.Context, cmd Command, stdout io.Writer) (int, error) {
	r.logger.Debug().
		Str("intent", cmd.Intent).
		Str("command", cmd.String()).
		Msg("running command")

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	c.Stdout = stdout

	stderr := &tailBuffer{limit: maxLoggedOutput}
	c.Stderr = stderr

	start := time.Now()
	err := c.Run()
	duration := time.Since(start)

	if err == nil {
		r.logger.Debug().
			Str("intent", cmd.Intent).
			Dur("duration", duration).
			Msg("command finished")
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		r.logger.Warn().
			Str("intent", cmd.Intent).
			Str("command", cmd.String()).
			Int("exit_code", code).
			Str("stderr", Redact(strings.TrimSpace(stderr.String()), cmd.Secrets)).
			Dur("duration", duration).
			Msg("command exited with non-zero status")
		return code, nil
	}

	r.logger.Error().
		Err(err).
		Str("intent", cmd.Intent).
		Str("command", cmd.String()).
		Msg("command could not be started")
	return -1, fmt.Errorf("starting %s: %w", cmd.Name, err)
}

// Missing returns the names that cannot be found on PATH.
func (r *Impl) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, err := r.lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
