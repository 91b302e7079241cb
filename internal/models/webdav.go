package models

import "time"

// UploadOutcome is the overall result of the upload stage. Cleanup in
// CleanupRemote mode only runs after UploadSucceeded.
type UploadOutcome string

// Upload outcomes.
const (
	UploadSkipped   UploadOutcome = "skipped"
	UploadSucceeded UploadOutcome = "succeeded"
	UploadFailed    UploadOutcome = "failed"
)

// UploadResult holds the result of uploading the backup directory.
type UploadResult struct {
	Outcome  UploadOutcome
	Uploaded []string
	Failed   []string
	Bytes    int64
	Duration time.Duration
	Error    error
}

// RemoteArtifact is one entry of a remote listing. Date is the YYYYMMDD
// part of the name, empty when the name carries no parsable date.
type RemoteArtifact struct {
	Name string
	Date string
}

// HasDate reports whether a creation day could be read from the name.
func (a RemoteArtifact) HasDate() bool {
	return a.Date != ""
}
