// Package retention decides which backup artifacts have outlived the
// retention window.
//
// Remote artifacts carry their creation day in their name
// (<label>_<YYYYMMDDHHMMSS>.<ext>) and are compared by day. Local files are
// compared by modification time with sub-day precision.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/rs/zerolog"
)

// DateLayout is the day part of an artifact timestamp.
const DateLayout = "20060102"

// Day is the length of one retention day.
const Day = 24 * time.Hour

// ParseArtifact reads the creation day from an artifact name. The day is
// the 8 characters after the first '_' and must be a real calendar date.
func ParseArtifact(name string) (models.RemoteArtifact, error) {
	artifact := models.RemoteArtifact{Name: name}

	_, rest, found := strings.Cut(name, "_")
	if !found {
		return artifact, fmt.Errorf("%q has no '_' before its date", name)
	}
	if len(rest) < len(DateLayout) {
		return artifact, fmt.Errorf("%q is too short to carry a date", name)
	}

	date := rest[:len(DateLayout)]
	for _, r := range date {
		if r < '0' || r > '9' {
			return artifact, fmt.Errorf("%q has a non-numeric date %q", name, date)
		}
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return artifact, fmt.Errorf("%q has an invalid date %q: %w", name, date, err)
	}

	artifact.Date = date
	return artifact, nil
}

// ParseArtifacts parses every name. Names without a usable date are kept
// with an empty Date, so they are never selected, and logged as a warning.
func ParseArtifacts(names []string, logger zerolog.Logger) []models.RemoteArtifact {
	artifacts := make([]models.RemoteArtifact, 0, len(names))
	for _, name := range names {
		artifact, err := ParseArtifact(name)
		if err != nil {
			logger.Warn().Err(err).Str("artifact", name).Msg("skipping artifact without a parsable date")
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts
}

// Cutoff returns the first day that is still kept.
func Cutoff(days int, now time.Time) string {
	return now.Add(-time.Duration(days) * Day).Format(DateLayout)
}

// Expired returns the artifacts whose day is before the cutoff day.
// Zero-padded YYYYMMDD strings sort chronologically.
func Expired(artifacts []models.RemoteArtifact, days int, now time.Time) []models.RemoteArtifact {
	cutoff := Cutoff(days, now)

	var expired []models.RemoteArtifact
	for _, a := range artifacts {
		if a.HasDate() && a.Date < cutoff {
			expired = append(expired, a)
		}
	}
	return expired
}

// ExpiredLocal returns the paths of regular files in dir last modified
// before now minus the retention window.
func ExpiredLocal(dir string, days int, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	threshold := now.Add(-time.Duration(days) * Day)

	var expired []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed since ReadDir.
			continue
		}
		if info.ModTime().Before(threshold) {
			expired = append(expired, filepath.Join(dir, entry.Name()))
		}
	}
	return expired, nil
}
