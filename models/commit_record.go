package models

import (
	"fmt"
	"github.com/packstage/pusher/constants"
	"time"
)

// CommitRecord is the persistent record of one attempt to commit a
// staging area. The web service creates one of these when a publisher
// requests a commit; after that, only the batch push worker mutates
// it, exactly once per package-level state transition. A staging area
// may accumulate several commit records over time; the active one is
// the most recently requested.
type CommitRecord struct {
	// TrackId uniquely identifies this commit attempt.
	TrackId string `json:"track_id"`

	// StageId identifies the staging area being committed.
	StageId string `json:"stage_id"`

	// Status is the commit-level status, a 1:1 projection of the
	// batch-level push status in ProgressBlob. It's stored alongside
	// the blob so status queries never have to deserialize the blob.
	Status string `json:"status"`

	// ProgressBlob is a serialized ProgressReport describing what
	// work has been completed and what work remains. A worker that
	// picks up a redelivered batch message decodes this to see, for
	// example, that the first three packages were already pushed,
	// and resumes at package four. The blob is stored as an opaque
	// string so the report's shape can evolve without schema changes.
	ProgressBlob string `json:"progress_blob"`

	// RequestedAt is when the publisher requested this commit.
	RequestedAt time.Time `json:"requested_at"`

	// LastUpdatedAt is bumped on every progress write.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// FailureDetails describes why the commit failed, if it did.
	FailureDetails string `json:"failure_details,omitempty"`
}

func NewCommitRecord(trackId, stageId string) *CommitRecord {
	return &CommitRecord{
		TrackId:     trackId,
		StageId:     stageId,
		Status:      constants.StatusPending,
		RequestedAt: time.Now().UTC(),
	}
}

// HasProgress returns true if a progress report has ever been
// written to this record.
func (commit *CommitRecord) HasProgress() bool {
	return commit.ProgressBlob != ""
}

// IsTerminal returns true once the commit has reached Completed or
// Failed. Terminal records are immutable; a worker that loads one
// treats the message as a no-op.
func (commit *CommitRecord) IsTerminal() bool {
	return commit.Status == constants.StatusCompleted ||
		commit.Status == constants.StatusFailed
}

// ProgressReport decodes the ProgressBlob. Returns an error if the
// record has no progress yet; call HasProgress first.
func (commit *CommitRecord) ProgressReport() (*ProgressReport, error) {
	if !commit.HasProgress() {
		return nil, fmt.Errorf("Commit %s has no progress report", commit.TrackId)
	}
	return NewProgressReportFromJson([]byte(commit.ProgressBlob))
}

// SetProgressReport serializes the report into ProgressBlob and
// projects the report's batch status and failure details onto the
// record. It does not touch LastUpdatedAt; the store sets that when
// it performs the actual write.
func (commit *CommitRecord) SetProgressReport(report *ProgressReport) error {
	blob, err := report.ToJson()
	if err != nil {
		return fmt.Errorf("Could not serialize progress for commit %s: %v",
			commit.TrackId, err)
	}
	commit.ProgressBlob = blob
	commit.Status = report.Status
	commit.FailureDetails = report.FailureDetails
	return nil
}
