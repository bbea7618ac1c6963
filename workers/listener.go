package workers

import (
	"encoding/json"
	"fmt"
	"github.com/nsqio/go-nsq"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/context"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/network"
	"github.com/packstage/pusher/util/storage"
	"sync/atomic"
	"time"
)

// Listener consumes batch push messages from NSQ and runs each one
// through a BatchPusher. It owns the consumer lifecycle: subscribe,
// bounded concurrent handling, poison detection, and graceful drain
// on Stop.
type Listener struct {
	Context  *context.Context
	Store    storage.CommitStatusStore
	Registry RegistryPusher

	// InFlight maps NSQ message id -> stage id for every delivery
	// currently being handled. Stop polls it while draining.
	InFlight *models.SynchronizedMap

	consumer *nsq.Consumer

	// state holds one of constants.ListenerStopped,
	// ListenerActive, ListenerStopRequested. Accessed atomically.
	state int32

	// poisoned is set to 1 when a message that cannot be parsed is
	// detected. The listener stops taking new work but stays up so
	// an operator can inspect it.
	poisoned int32

	// pusherFactory, when set, overrides newPusher. Tests use this
	// to hand the listener a pusher wired with fixtures.
	pusherFactory func(message *nsq.Message) *BatchPusher
}

func NewListener(_context *context.Context, store storage.CommitStatusStore) *Listener {
	return &Listener{
		Context:  _context,
		Store:    store,
		Registry: _context.RegistryClient,
		InFlight: models.NewSynchronizedMap(),
	}
}

// Subscribe creates the NSQ consumer, attaches this listener as a
// concurrent handler and connects to nsqlookupd. MaxInFlight in the
// worker config bounds how many deliveries run at once.
func (listener *Listener) Subscribe() error {
	if !atomic.CompareAndSwapInt32(&listener.state, constants.ListenerStopped, constants.ListenerActive) {
		return fmt.Errorf("Listener is already running")
	}
	workerConfig := listener.Context.Config.PushWorker
	consumer, err := CreateNsqConsumer(listener.Context.Config, &workerConfig)
	if err != nil {
		atomic.StoreInt32(&listener.state, constants.ListenerStopped)
		return err
	}
	listener.consumer = consumer
	consumer.AddConcurrentHandlers(listener, workerConfig.MaxInFlight)
	err = consumer.ConnectToNSQLookupd(listener.Context.Config.NsqLookupd)
	if err != nil {
		atomic.StoreInt32(&listener.state, constants.ListenerStopped)
		return err
	}
	listener.Context.MessageLog.Info("Listening on topic %s, channel %s, max_in_flight %d",
		workerConfig.NsqTopic, workerConfig.NsqChannel, workerConfig.MaxInFlight)
	return nil
}

// HandleMessage is the nsq.Handler entry point, called concurrently
// by up to MaxInFlight goroutines.
func (listener *Listener) HandleMessage(message *nsq.Message) error {
	message.DisableAutoResponse()

	if atomic.LoadInt32(&listener.state) != constants.ListenerActive {
		// A delivery slipped in after Stop flipped the state but
		// before ChangeMaxInFlight(0) took effect. Hand it back.
		message.Requeue(1 * time.Minute)
		return nil
	}

	request, err := models.NewBatchPushRequestFromJson(message.Body)
	if err != nil {
		listener.handlePoisonMessage(message, err)
		return nil
	}

	messageId := string(message.ID[:])
	listener.InFlight.Add(messageId, request.StageId)
	defer listener.InFlight.Delete(messageId)

	isFinalDelivery := message.Attempts >= listener.Context.Config.PushWorker.MaxAttempts
	pusher := listener.newPusher(message)
	handleErr := pusher.HandleBatchPushRequest(request, isFinalDelivery)

	if handleErr == nil {
		message.Finish()
		listener.Context.IncrementSucceeded()
	} else {
		listener.Context.MessageLog.Error("Stage %s (delivery %d of %d): %v",
			request.StageId, message.Attempts, listener.Context.Config.PushWorker.MaxAttempts, handleErr)
		message.Requeue(-1)
		listener.Context.IncrementFailed()
	}
	listener.logDelivery(message, request, pusher.Summary, handleErr)
	listener.Context.LogStats()
	return nil
}

// handlePoisonMessage deals with a delivery whose body cannot be
// parsed. Finishing it would silently discard a batch, and plain
// requeueing would spin it through every handler forever, so the
// listener requeues it once more and stops accepting new work until
// an operator intervenes.
func (listener *Listener) handlePoisonMessage(message *nsq.Message, cause error) {
	listener.Context.MessageLog.Critical(
		"Poison message %s cannot be parsed and has been requeued. "+
			"Pausing intake until it is removed from the queue. Error: %v",
		string(message.ID[:]), cause)
	atomic.StoreInt32(&listener.poisoned, 1)
	if listener.consumer != nil {
		listener.consumer.ChangeMaxInFlight(0)
	}
	message.Requeue(5 * time.Minute)
	listener.Context.IncrementFailed()
}

// Stop drains the listener: no new deliveries are accepted, and
// in-flight batches get up to DrainTimeout to finish before the
// consumer is torn down. Safe to call once; a second call while a
// drain is underway is a no-op error.
func (listener *Listener) Stop() error {
	if !atomic.CompareAndSwapInt32(&listener.state, constants.ListenerActive, constants.ListenerStopRequested) {
		return fmt.Errorf("Listener is not active")
	}
	log := listener.Context.MessageLog
	log.Info("Stop requested. Draining %d in-flight deliveries.", listener.InFlight.Len())
	if listener.consumer != nil {
		listener.consumer.ChangeMaxInFlight(0)
	}

	pollInterval, err := time.ParseDuration(listener.Context.Config.DrainPollInterval)
	if err != nil || pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	drainTimeout, err := time.ParseDuration(listener.Context.Config.DrainTimeout)
	if err != nil || drainTimeout <= 0 {
		drainTimeout = 3 * time.Minute
	}
	deadline := time.Now().Add(drainTimeout)
	for listener.InFlight.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}
	if listener.InFlight.Len() > 0 {
		for _, messageId := range listener.InFlight.Keys() {
			log.Warning("Drain timeout: message %s (stage %s) is still in flight. "+
				"The queue will redeliver it.", messageId, listener.InFlight.Get(messageId))
		}
	} else {
		log.Info("Drain complete. All in-flight deliveries finished.")
	}

	if listener.consumer != nil {
		listener.consumer.Stop()
		select {
		case <-listener.consumer.StopChan:
		case <-time.After(30 * time.Second):
			log.Warning("NSQ consumer did not confirm shutdown within 30 seconds")
		}
	}
	atomic.StoreInt32(&listener.state, constants.ListenerStopped)
	log.Info("Listener stopped.")
	return nil
}

// IsActive returns true while the listener accepts new deliveries.
func (listener *Listener) IsActive() bool {
	return atomic.LoadInt32(&listener.state) == constants.ListenerActive
}

// IsPoisoned returns true after a poison message has paused intake.
func (listener *Listener) IsPoisoned() bool {
	return atomic.LoadInt32(&listener.poisoned) == 1
}

// newPusher builds a fresh BatchPusher for one delivery. The
// manifest reader and content fetcher are cheap to construct and
// carry no cross-message state.
func (listener *Listener) newPusher(message *nsq.Message) *BatchPusher {
	var pusher *BatchPusher
	if listener.pusherFactory != nil {
		pusher = listener.pusherFactory(message)
	} else {
		config := listener.Context.Config
		contents := network.NewS3ContentFetcher(config.ContentBucketRegion, config.StagingDirectory)
		pusher = NewBatchPusher(listener.Context, listener.Store, listener.Registry,
			listener.Context.ManifestReader(), listener.Context.GatewayClient, contents)
	}
	pusher.Summary.AttemptNumber = uint16(message.Attempts)
	pusher.NsqMessage = message
	return pusher
}

// logDelivery writes one JSON line per finished delivery to the
// worker's JSON log, so downstream tooling can tail outcomes without
// parsing the human-readable log.
func (listener *Listener) logDelivery(message *nsq.Message, request *models.BatchPushRequest,
	summary *models.PushSummary, handleErr error) {
	record := struct {
		MessageId string    `json:"message_id"`
		StageId   string    `json:"stage_id"`
		Attempts  uint16    `json:"attempts"`
		Packages  []string  `json:"packages"`
		Succeeded bool      `json:"succeeded"`
		Fatal     bool      `json:"fatal"`
		Errors    []string  `json:"errors,omitempty"`
		StartedAt time.Time `json:"started_at"`
		Duration  string    `json:"duration"`
	}{
		MessageId: string(message.ID[:]),
		StageId:   request.StageId,
		Attempts:  uint16(message.Attempts),
		Packages:  request.PackageKeys(),
		Succeeded: handleErr == nil,
		Fatal:     summary.ErrorIsFatal,
		Errors:    summary.Errors,
		StartedAt: summary.StartedAt,
		Duration:  summary.RunTime().String(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		listener.Context.MessageLog.Error("Cannot marshal delivery record: %v", err)
		return
	}
	listener.Context.JsonLog.Println(string(data))
}
