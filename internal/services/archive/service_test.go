package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	runFunc func(ctx context.Context, cmd command.Command) (int, error)
}

func (m *mockRunner) Run(ctx context.Context, cmd command.Command) (int, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, cmd)
	}
	return 0, nil
}

func (m *mockRunner) RunCapture(ctx context.Context, cmd command.Command, _ io.Writer) (int, error) {
	return m.Run(ctx, cmd)
}

func (m *mockRunner) Missing(...string) []string { return nil }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "web_20240102030405.tar.gz", OutputName("web", "20240102030405"))
}

func TestArchive_Success(t *testing.T) {
	srcRoot := t.TempDir()
	source := filepath.Join(srcRoot, "www")
	require.NoError(t, os.Mkdir(source, 0o750))
	outDir := t.TempDir()

	var captured command.Command
	runner := &mockRunner{
		runFunc: func(_ context.Context, cmd command.Command) (int, error) {
			captured = cmd
			return 0, os.WriteFile(cmd.Args[1], []byte("tarball"), 0o600)
		},
	}

	svc := NewWithRunner(testLogger(), runner)
	result, err := svc.Archive(context.Background(), models.PathSpec{Source: source + "/", Label: "web"}, outDir, "20240102030405")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Error)
	assert.False(t, result.Skipped)
	assert.Equal(t, filepath.Join(outDir, "web_20240102030405.tar.gz"), result.OutputPath)
	assert.Equal(t, int64(len("tarball")), result.SizeBytes)

	assert.Equal(t, "tar", captured.Name)
	assert.Equal(t, []string{"-czf", result.OutputPath, "-C", srcRoot, "www"}, captured.Args)
}

func TestArchive_MissingSourceSkipped(t *testing.T) {
	called := false
	runner := &mockRunner{
		runFunc: func(context.Context, command.Command) (int, error) {
			called = true
			return 0, nil
		},
	}

	svc := NewWithRunner(testLogger(), runner)
	spec := models.PathSpec{Source: filepath.Join(t.TempDir(), "missing"), Label: "missing"}
	result, err := svc.Archive(context.Background(), spec, t.TempDir(), "20240102030405")

	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Error)
	assert.False(t, called)
}

func TestArchive_NonZeroExit(t *testing.T) {
	source := t.TempDir()
	outDir := t.TempDir()
	runner := &mockRunner{
		runFunc: func(_ context.Context, cmd command.Command) (int, error) {
			_ = os.WriteFile(cmd.Args[1], []byte("partial"), 0o600)
			return 2, nil
		},
	}

	svc := NewWithRunner(testLogger(), runner)
	result, err := svc.Archive(context.Background(), models.PathSpec{Source: source, Label: "data"}, outDir, "20240102030405")

	require.NoError(t, err)
	var cmdErr *models.CommandError
	require.ErrorAs(t, result.Error, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.Equal(t, "archive "+source, cmdErr.Intent)
	assert.NoFileExists(t, result.OutputPath)
}

func TestArchive_RealTar(t *testing.T) {
	if _, err := os.Stat("/bin/tar"); err != nil {
		if _, err := os.Stat("/usr/bin/tar"); err != nil {
			t.Skip("tar not installed")
		}
	}

	source := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.Mkdir(source, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(source, "a.conf"), []byte("a=1"), 0o600))
	outDir := t.TempDir()

	svc := New(testLogger())
	result, err := svc.Archive(context.Background(), models.PathSpec{Source: source, Label: "etc"}, outDir, "20240102030405")

	require.NoError(t, err)
	require.Nil(t, result.Error)
	assert.FileExists(t, result.OutputPath)
	assert.Greater(t, result.SizeBytes, int64(0))
}
