package retention

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArtifact(t *testing.T) {
	tests := []struct {
		name     string
		artifact string
		wantDate string
		wantErr  bool
	}{
		{name: "mysql dump", artifact: "mysql_20230101120000.sql.gz", wantDate: "20230101"},
		{name: "archive", artifact: "web_20230601120000.tar.gz", wantDate: "20230601"},
		{name: "first underscore wins", artifact: "a_20240229000000_b.tar.gz", wantDate: "20240229"},
		{name: "no underscore", artifact: "orphanfile.sql.gz", wantErr: true},
		{name: "too short", artifact: "web_2023.tar.gz", wantErr: true},
		{name: "letters", artifact: "web_2023ab01.tar.gz", wantErr: true},
		{name: "impossible date", artifact: "web_20230231120000.tar.gz", wantErr: true},
		{name: "label with underscore", artifact: "my_app_20230101120000.tar.gz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArtifact(tt.artifact)

			assert.Equal(t, tt.artifact, got.Name)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, got.HasDate())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, got.Date)
		})
	}
}

func TestParseArtifacts_LogsSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	got := ParseArtifacts([]string{"mysql_20230101120000.sql.gz", "orphanfile.sql.gz"}, logger)

	require.Len(t, got, 2)
	assert.True(t, got[0].HasDate())
	assert.False(t, got[1].HasDate())
	assert.Contains(t, buf.String(), "orphanfile.sql.gz")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestCutoff(t *testing.T) {
	now := time.Date(2023, 6, 15, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, "20230516", Cutoff(30, now))
	assert.Equal(t, "20230614", Cutoff(1, now))
}

func TestExpired(t *testing.T) {
	now := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	artifacts := ParseArtifacts([]string{
		"mysql_20230101120000.sql.gz",
		"web_20230601120000.tar.gz",
		"orphanfile.sql.gz",
	}, zerolog.New(io.Discard))

	expired := Expired(artifacts, 30, now)

	require.Len(t, expired, 1)
	assert.Equal(t, "mysql_20230101120000.sql.gz", expired[0].Name)
}

func TestExpired_DayPrecision(t *testing.T) {
	now := time.Date(2023, 6, 15, 23, 59, 0, 0, time.UTC)
	artifacts := []models.RemoteArtifact{
		{Name: "web_20230608000000.tar.gz", Date: "20230608"},
		{Name: "web_20230607235959.tar.gz", Date: "20230607"},
	}

	// The cutoff day itself is kept regardless of the time of day.
	expired := Expired(artifacts, 7, now)

	require.Len(t, expired, 1)
	assert.Equal(t, "20230607", expired[0].Date)
}

func TestExpired_NeverSelectsUndated(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []models.RemoteArtifact{{Name: "orphanfile.sql.gz"}, {Name: "notes.txt"}}

	assert.Empty(t, Expired(artifacts, 1, now))
}

func TestExpiredLocal(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

	touch := func(name string, modTime time.Time) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(path, modTime, modTime))
		return path
	}

	old := touch("mysql_20230601120000.sql.gz", now.Add(-8*Day))
	// Same calendar day as the cutoff but older by the hour: mtime is exact.
	justOld := touch("web_20230608110000.tar.gz", now.Add(-7*Day-time.Hour))
	touch("web_20230608130000.tar.gz", now.Add(-7*Day+time.Hour))
	touch("recent.tar.gz", now.Add(-time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o750))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "subdir"), now.Add(-30*Day), now.Add(-30*Day)))

	expired, err := ExpiredLocal(dir, 7, now)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old, justOld}, expired)
}

func TestExpiredLocal_MissingDir(t *testing.T) {
	_, err := ExpiredLocal(filepath.Join(t.TempDir(), "missing"), 7, time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
