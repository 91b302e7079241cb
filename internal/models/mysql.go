package models

import "time"

// DumpResult holds the result of a database dump.
type DumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}
