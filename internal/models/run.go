package models

import "time"

// Outcome classifies a finished run for the final summary line.
type Outcome string

// Run outcomes.
const (
	// OutcomeCompleted means artifacts were uploaded and cleanup succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeCompletedWithErrors means artifacts were uploaded and cleanup
	// succeeded, but another stage (dump, archive, wake or power-off) failed.
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	// OutcomeCleanupUnverified means artifacts were uploaded but a cleanup
	// step failed, so local and remote state was not verified.
	OutcomeCleanupUnverified Outcome = "cleanup_unverified"
	// OutcomeUploadFailed means artifacts exist locally but the upload
	// failed. They are kept for manual recovery.
	OutcomeUploadFailed Outcome = "upload_failed"
	// OutcomeLocalOnly means the upload stage is disabled.
	OutcomeLocalOnly Outcome = "local_only"
	// OutcomeFailed means the run stopped before any stage ran.
	OutcomeFailed Outcome = "failed"
)

// Describe returns the operator-facing sentence for an outcome.
func (o Outcome) Describe() string {
	switch o {
	case OutcomeCompleted:
		return "backup fully completed: artifacts uploaded and cleanup applied"
	case OutcomeCompletedWithErrors:
		return "partially completed: artifacts uploaded and cleanup applied, but some stages failed"
	case OutcomeCleanupUnverified:
		return "backed up and uploaded, but local and remote cleanup not verified"
	case OutcomeUploadFailed:
		return "backed up but upload failed, local artifacts kept, manual intervention required"
	case OutcomeLocalOnly:
		return "backed up locally, upload disabled"
	case OutcomeFailed:
		return "run aborted before anything was backed up"
	default:
		return string(o)
	}
}

// CleanupResult holds the result of the cleanup stage.
type CleanupResult struct {
	Mode          CleanupMode
	Ran           bool
	LocalDeleted  []string
	RemoteDeleted []string
	RemoteListed  int
	Errors        []error
}

// RunSummary describes one finished run.
type RunSummary struct {
	RunID     string
	Timestamp string
	Dir       string
	Host      string
	StartTime time.Time
	Duration  time.Duration

	Dump     *DumpResult
	Archives []ArchiveResult
	Upload   *UploadResult
	Cleanup  *CleanupResult

	Outcome Outcome
	Errors  []error
}

// ArtifactCount returns how many artifacts were written this run.
func (s *RunSummary) ArtifactCount() int {
	n := 0
	if s.Dump != nil && s.Dump.Error == nil {
		n++
	}
	for _, a := range s.Archives {
		if a.Error == nil && !a.Skipped {
			n++
		}
	}
	return n
}

// ArtifactBytes returns the total size of the artifacts written this run.
func (s *RunSummary) ArtifactBytes() int64 {
	var n int64
	if s.Dump != nil && s.Dump.Error == nil {
		n += s.Dump.SizeBytes
	}
	for _, a := range s.Archives {
		if a.Error == nil {
			n += a.SizeBytes
		}
	}
	return n
}
