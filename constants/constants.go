// Common vars and constants, shared by many parts of the pusher library.
package constants

const (
	// Statuses for individual package pushes and for whole batches.
	// A batch-level status is always derived from the per-package
	// statuses; see models.DeriveBatchStatus.
	StatusPending    = "Pending"
	StatusInProgress = "InProgress"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

var PushStatuses []string = []string{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
}

const (
	// Outcomes of a single call to the registry's publish endpoint.
	// AlreadyExists is not an error by itself: whether it means
	// "idempotent replay" or "genuine conflict" depends on the
	// package's recorded state at the time of the push.
	PushSuccess       = "Success"
	PushAlreadyExists = "AlreadyExists"
	PushFailure       = "Failure"
)

// TopicBatchPush is the NSQ topic that carries serialized
// BatchPushRequest messages from the staging web service to
// the batch push workers.
const TopicBatchPush = "batch_push_topic"

// ChannelBatchPush is the NSQ channel the batch push workers
// read from.
const ChannelBatchPush = "batch_push_channel"

// Listener states. See workers.Listener.
const (
	ListenerStopped = int32(iota)
	ListenerActive
	ListenerStopRequested
)

// AWSVirginia is the region that hosts our standard package
// content and manifest buckets.
const AWSVirginia = "us-east-1"
