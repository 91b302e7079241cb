package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sh(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Intent: "test"}
}

func TestRun_Success(t *testing.T) {
	r := New(testLogger())

	code, err := r.Run(context.Background(), sh("exit 0"))

	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_PropagatesExitCode(t *testing.T) {
	r := New(testLogger())

	code, err := r.Run(context.Background(), sh("exit 3"))

	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestRun_StartFailure(t *testing.T) {
	r := New(testLogger())

	code, err := r.Run(context.Background(), Command{Name: "omnibak-no-such-tool", Intent: "test"})

	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestRun_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	r := New(testLogger())

	cmd := sh(`printf '%s' "$OMNIBAK_TEST_VALUE" > out.txt`)
	cmd.Dir = dir
	cmd.Env = []string{"OMNIBAK_TEST_VALUE=hello"}

	code, err := r.Run(context.Background(), cmd)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRunCapture_StreamsStdout(t *testing.T) {
	r := New(testLogger())
	var out bytes.Buffer

	code, err := r.RunCapture(context.Background(), sh("echo one; echo two"), &out)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestRunCapture_NonZeroKeepsPartialOutput(t *testing.T) {
	r := New(testLogger())
	var out bytes.Buffer

	code, err := r.RunCapture(context.Background(), sh("echo partial; exit 2"), &out)

	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, "partial\n", out.String())
}

func TestRun_CancelledContext(t *testing.T) {
	r := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := r.Run(ctx, sh("sleep 5"))

	assert.NotEqual(t, 0, code)
}

func TestRun_LogsRedactedCommand(t *testing.T) {
	var buf bytes.Buffer
	r := New(zerolog.New(&buf).Level(zerolog.DebugLevel))

	cmd := sh("echo 'failed for hunter2' >&2; exit 1")
	cmd.Args = append(cmd.Args, "--password=hunter2")
	cmd.Secrets = []string{"hunter2"}

	code, err := r.Run(context.Background(), cmd)

	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), Redacted)
	assert.Contains(t, buf.String(), `"exit_code":1`)
	assert.Contains(t, buf.String(), "failed for")
}

func TestCommand_String(t *testing.T) {
	cmd := Command{
		Name:    "curl",
		Args:    []string{"-u", "user:s3cret", "-H", "Depth: 1", "https://dav.example.com"},
		Secrets: []string{"s3cret", ""},
	}

	assert.Equal(t, `curl -u user:****** -H "Depth: 1" https://dav.example.com`, cmd.String())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "a ****** b ******", Redact("a x1 b x1", []string{"x1"}))
	assert.Equal(t, "untouched", Redact("untouched", nil))
}

func TestMissing(t *testing.T) {
	r := New(testLogger())
	r.lookPath = func(file string) (string, error) {
		if file == "curl" {
			return "/usr/bin/curl", nil
		}
		return "", errors.New("not found")
	}

	assert.Equal(t, []string{"mysqldump", "tar"}, r.Missing("curl", "mysqldump", "tar"))
	assert.Empty(t, r.Missing("curl"))
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 5}

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, _ = b.Write([]byte("defgh"))

	assert.Equal(t, "defgh", b.String())
}
