// Package storage defines the commit status store: where the
// pipeline loads and saves the persistent record of a batch commit.
package storage

import (
	"github.com/packstage/pusher/models"
)

// CommitStatusStore is the persistence boundary for commit records.
// The batch pusher calls GetActiveCommit once per delivery and
// SaveProgress after every per-package state transition. The
// underlying storage must apply each save as an atomic single-record
// overwrite: a status query never sees a new blob with an old status
// or vice versa.
//
// Two implementations exist: network.GatewayClient (the staging web
// service owns the records) and BoltStore (a local single-file store
// for standalone and test setups). The progress report travels as an
// opaque serialized blob either way, so the storage engine is
// swappable without touching the report's shape.
type CommitStatusStore interface {
	// GetActiveCommit returns the most recently requested commit
	// for the staging area, or nil if none exists. A nil result is
	// not an error: messages can arrive for stages whose commit
	// raced with a drop, and the handler treats those as no-ops.
	GetActiveCommit(stageId string) (*models.CommitRecord, error)

	// SaveProgress serializes the report into the commit record and
	// overwrites blob, status, failure details and last-updated
	// timestamp in one write. Errors must propagate to the caller:
	// a lost state transition would un-bound the pipeline's
	// uncertainty window.
	SaveProgress(commit *models.CommitRecord, report *models.ProgressReport) error
}
