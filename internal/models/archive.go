package models

import "time"

// ArchiveResult holds the result of archiving one PathSpec.
type ArchiveResult struct {
	Spec       PathSpec
	OutputPath string
	SizeBytes  int64
	Skipped    bool // source did not exist
	Duration   time.Duration
	Error      error
}
