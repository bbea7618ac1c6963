package workers

import (
	"fmt"
	"github.com/nsqio/go-nsq"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/context"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/network"
	"github.com/packstage/pusher/ordering"
	"github.com/packstage/pusher/util/storage"
	"io"
	"os"
)

// RegistryPusher pushes one package to the backing registry.
// network.RegistryClient is the real implementation.
type RegistryPusher interface {
	Push(pkg *models.PackagePushRequest, creds *models.Credentials, open func() (io.ReadCloser, error)) (*network.PushResult, error)
}

// CredentialResolver resolves a package owner's registry publish
// credentials. network.GatewayClient is the real implementation.
type CredentialResolver interface {
	GetCredentials(ownerKey string) (*models.Credentials, error)
}

// PackageContentProvider stages a package's content locally so it
// can be re-streamed on each push attempt. network.S3ContentFetcher
// is the real implementation.
type PackageContentProvider interface {
	Fetch(stageId string, pkg *models.PackagePushRequest) (string, error)
	Cleanup(localPath string) error
}

// BatchPusher is the state machine that turns one batch push message
// into a series of registry publishes with resumable, persisted
// progress. The listener constructs a fresh BatchPusher for every
// delivery; nothing here is shared across messages. Packages within
// a batch are pushed sequentially, because their order encodes a
// dependency constraint.
type BatchPusher struct {
	Context     *context.Context
	Store       storage.CommitStatusStore
	Registry    RegistryPusher
	Manifests   ordering.ManifestDependencyReader
	Credentials CredentialResolver
	Contents    PackageContentProvider

	// Summary records what happened during this delivery, for
	// logging by the listener.
	Summary *models.PushSummary

	// NsqMessage, if set, is touched between package pushes so a
	// long batch doesn't hit the queue's message timeout. Nil in
	// tests.
	NsqMessage *nsq.Message
}

func NewBatchPusher(_context *context.Context, store storage.CommitStatusStore,
	registry RegistryPusher, manifests ordering.ManifestDependencyReader,
	credentials CredentialResolver, contents PackageContentProvider) *BatchPusher {
	return &BatchPusher{
		Context:     _context,
		Store:       store,
		Registry:    registry,
		Manifests:   manifests,
		Credentials: credentials,
		Contents:    contents,
		Summary:     models.NewPushSummary(),
	}
}

// HandleBatchPushRequest processes one delivery of a batch push
// message. Param isFinalDelivery tells us whether the queue will
// redeliver this message if we fail: on the final delivery a push
// failure must leave the commit in a terminal Failed state, because
// nobody will come back to finish the job.
//
// A non-nil return means processing failed and the message should be
// abandoned for redelivery. A nil return means the message is done,
// which covers both successful batches and batches that reached a
// terminal Failed state that redelivery cannot fix.
func (pusher *BatchPusher) HandleBatchPushRequest(request *models.BatchPushRequest, isFinalDelivery bool) error {
	pusher.Summary.Start()
	defer pusher.Summary.Finish()
	log := pusher.Context.MessageLog

	commit, err := pusher.Store.GetActiveCommit(request.StageId)
	if err != nil {
		pusher.Summary.AddError("Cannot load commit for stage %s: %v", request.StageId, err)
		return fmt.Errorf("Cannot load commit for stage %s: %v", request.StageId, err)
	}
	if commit == nil {
		// The stage's commit was never recorded, or the stage was
		// dropped while this message was in flight. Nothing to do.
		log.Info("No commit record for stage %s. Discarding message as a no-op.",
			request.StageId)
		return nil
	}
	if commit.IsTerminal() {
		// Redelivery after the batch already finished. Guard against
		// double-reporting: terminal commits are immutable.
		log.Info("Commit %s for stage %s is already %s. Nothing to do.",
			commit.TrackId, request.StageId, commit.Status)
		return nil
	}

	ordered, err := ordering.ResolvePushOrder(request.Packages, pusher.Manifests)
	if err != nil {
		if ordering.IsCycle(err) {
			return pusher.failBatch(commit, request, err)
		}
		// Manifest reads are network I/O; a failure here is
		// transient and nothing has been pushed yet, so leave the
		// message retryable.
		pusher.Summary.AddError(err.Error())
		return err
	}

	report, err := pusher.loadOrCreateReport(commit, request)
	if err != nil {
		pusher.Summary.AddError(err.Error())
		return err
	}

	for _, pkg := range ordered {
		if report.HasFailure() {
			// Later packages may depend on the one that failed.
			log.Info("Commit %s: stopping walk, batch status is Failed", commit.TrackId)
			break
		}
		status := report.PackageStatus(pkg.Key())
		switch status {
		case constants.StatusCompleted:
			log.Info("Commit %s: %s already completed, skipping", commit.TrackId, pkg.Key())
		case constants.StatusFailed:
			log.Info("Commit %s: %s previously failed, not retrying", commit.TrackId, pkg.Key())
		case constants.StatusPending:
			// Never attempted: a conflict from the registry means
			// someone else published this id/version, which is a
			// genuine failure, not an echo of our own work.
			err = pusher.pushPackage(commit, report, pkg, false, isFinalDelivery)
			if err != nil {
				return err
			}
		case constants.StatusInProgress:
			// A prior attempt started this push and we never learned
			// the outcome (crash, timeout, redelivery). The registry
			// may already have the package, so a conflict here means
			// the earlier push actually landed.
			err = pusher.pushPackage(commit, report, pkg, true, isFinalDelivery)
			if err != nil {
				return err
			}
		default:
			pusher.Summary.ErrorIsFatal = true
			pusher.Summary.AddError("Commit %s has unknown status '%s' for %s",
				commit.TrackId, status, pkg.Key())
			return fmt.Errorf("Commit %s has unknown status '%s' for %s",
				commit.TrackId, status, pkg.Key())
		}
		if pusher.NsqMessage != nil {
			pusher.NsqMessage.Touch()
		}
	}

	if len(ordered) == 0 {
		// A batch with no packages never runs a per-package write,
		// but the commit still has to reach a terminal state before
		// the message is finished. An empty report derives Completed.
		report.Status = models.DeriveBatchStatus(report.PerPackage)
		err = pusher.Store.SaveProgress(commit, report)
		if err != nil {
			pusher.Summary.AddError("Cannot save progress for stage %s: %v", request.StageId, err)
			return fmt.Errorf("Cannot save progress for stage %s: %v", request.StageId, err)
		}
	}

	// The final derived batch status (Completed or Failed) was
	// persisted by the last per-package write.
	log.Info("Commit %s for stage %s finished delivery with status %s",
		commit.TrackId, request.StageId, report.Status)
	return nil
}

// loadOrCreateReport decodes the commit's existing progress report,
// or synthesizes a fresh one with every package Pending if this is
// the first delivery to make any progress.
func (pusher *BatchPusher) loadOrCreateReport(commit *models.CommitRecord, request *models.BatchPushRequest) (*models.ProgressReport, error) {
	if !commit.HasProgress() {
		return models.NewProgressReportForBatch(request), nil
	}
	report, err := commit.ProgressReport()
	if err != nil {
		// A blob we can't decode means we can't tell what was
		// already pushed. Starting over with a fresh report would
		// misclassify completed packages as conflicts, so leave the
		// message retryable and let an operator look.
		return nil, fmt.Errorf("Cannot decode progress for commit %s: %v", commit.TrackId, err)
	}
	return report, nil
}

// pushPackage runs one package through a full transition cycle:
// persist InProgress, push, persist the outcome. The InProgress
// write always lands before the network call, so the window of
// uncertainty after a crash is never wider than a single push -- and
// that window is exactly what the lenient conflict rule papers over.
func (pusher *BatchPusher) pushPackage(commit *models.CommitRecord, report *models.ProgressReport,
	pkg *models.PackagePushRequest, lenient bool, isFinalDelivery bool) error {
	log := pusher.Context.MessageLog

	report.SetPackageStatus(pkg, constants.StatusInProgress)
	err := pusher.Store.SaveProgress(commit, report)
	if err != nil {
		pusher.Summary.AddError("Cannot save progress for %s: %v", pkg.Key(), err)
		return fmt.Errorf("Cannot save progress for %s: %v", pkg.Key(), err)
	}

	creds, err := pusher.Credentials.GetCredentials(pkg.OwnerKey)
	if err != nil {
		return pusher.recordPushError(commit, report, pkg, err, isFinalDelivery)
	}

	localPath, err := pusher.Contents.Fetch(commit.StageId, pkg)
	if err != nil {
		return pusher.recordPushError(commit, report, pkg, err, isFinalDelivery)
	}
	defer func() {
		cleanupErr := pusher.Contents.Cleanup(localPath)
		if cleanupErr != nil {
			log.Warning("Could not remove staged content %s: %v", localPath, cleanupErr)
		}
	}()

	log.Info("Commit %s: pushing %s (lenient=%t, attempt %d)",
		commit.TrackId, pkg.Key(), lenient, pusher.Summary.AttemptNumber)
	result, err := pusher.Registry.Push(pkg, creds, func() (io.ReadCloser, error) {
		return os.Open(localPath)
	})
	if err != nil {
		return pusher.recordPushError(commit, report, pkg, err, isFinalDelivery)
	}

	switch result.Outcome {
	case constants.PushSuccess:
		report.SetPackageStatus(pkg, constants.StatusCompleted)
	case constants.PushAlreadyExists:
		if lenient {
			// The earlier attempt evidently reached the registry
			// even though we never recorded the outcome.
			log.Info("Commit %s: registry already has %s; counting the earlier push as done",
				commit.TrackId, pkg.Key())
			report.SetPackageStatus(pkg, constants.StatusCompleted)
		} else {
			// Nothing in this pipeline pushed it, so somebody else
			// owns that id/version. Operator or publisher has to
			// sort this out; redelivery can't.
			detail := fmt.Sprintf("Registry already contains %s; it was published outside this commit",
				pkg.Key())
			log.Error("Commit %s: %s", commit.TrackId, detail)
			pusher.Summary.AddError(detail)
			pusher.Summary.ErrorIsFatal = true
			report.FailureDetails = detail
			report.SetPackageStatus(pkg, constants.StatusFailed)
		}
	case constants.PushFailure:
		// Retries inside the registry client are exhausted.
		return pusher.recordPushError(commit, report, pkg,
			fmt.Errorf("%s", result.Reason), isFinalDelivery)
	default:
		return pusher.recordPushError(commit, report, pkg,
			fmt.Errorf("Registry client returned unknown outcome '%s'", result.Outcome), isFinalDelivery)
	}

	err = pusher.Store.SaveProgress(commit, report)
	if err != nil {
		pusher.Summary.AddError("Cannot save progress for %s: %v", pkg.Key(), err)
		return fmt.Errorf("Cannot save progress for %s: %v", pkg.Key(), err)
	}
	return nil
}

// recordPushError persists the state a failed push leaves behind,
// then re-throws so the listener abandons the message. On a
// non-final delivery the package stays InProgress and the queue will
// bring the message back; on the final delivery the batch must reach
// a terminal state here and now.
func (pusher *BatchPusher) recordPushError(commit *models.CommitRecord, report *models.ProgressReport,
	pkg *models.PackagePushRequest, cause error, isFinalDelivery bool) error {
	pusher.Summary.AddError("Push of %s failed: %v", pkg.Key(), cause)
	if isFinalDelivery {
		detail := fmt.Sprintf("Push of %s failed on final delivery attempt: %v", pkg.Key(), cause)
		report.FailureDetails = detail
		report.SetPackageStatus(pkg, constants.StatusFailed)
	} else {
		report.SetPackageStatus(pkg, constants.StatusInProgress)
	}
	saveErr := pusher.Store.SaveProgress(commit, report)
	if saveErr != nil {
		pusher.Context.MessageLog.Error("Commit %s: could not persist failure state for %s: %v",
			commit.TrackId, pkg.Key(), saveErr)
	}
	return fmt.Errorf("Push of %s failed: %v", pkg.Key(), cause)
}

// failBatch persists a terminal Failed status for a batch that can
// never succeed (a dependency cycle), then returns the causing error
// so the delivery is reported as failed. The terminal record makes
// any redelivery a no-op.
func (pusher *BatchPusher) failBatch(commit *models.CommitRecord, request *models.BatchPushRequest, cause error) error {
	pusher.Summary.ErrorIsFatal = true
	pusher.Summary.AddError(cause.Error())
	pusher.Context.MessageLog.Error("Commit %s for stage %s cannot proceed: %v",
		commit.TrackId, request.StageId, cause)

	report, err := pusher.loadOrCreateReport(commit, request)
	if err != nil {
		report = models.NewProgressReportForBatch(request)
	}
	report.Status = constants.StatusFailed
	report.FailureDetails = cause.Error()
	saveErr := pusher.Store.SaveProgress(commit, report)
	if saveErr != nil {
		pusher.Context.MessageLog.Error("Commit %s: could not persist terminal failure: %v",
			commit.TrackId, saveErr)
	}
	return cause
}
