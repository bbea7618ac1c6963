package workers

import (
	"fmt"
	"github.com/nsqio/go-nsq"
	"github.com/packstage/pusher/constants"
	"github.com/packstage/pusher/context"
	"github.com/packstage/pusher/models"
	"github.com/packstage/pusher/util/logger"
	"github.com/packstage/pusher/util/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io/ioutil"
	stdlog "log"
	"sync/atomic"
	"testing"
	"time"
)

// listenerTestStore is a minimal commit store for listener tests.
// The full state machine is covered by the batch pusher tests; here
// we only need to steer HandleMessage down its finish/requeue paths.
type listenerTestStore struct {
	commit *models.CommitRecord
	getErr error
	gets   int
}

func (store *listenerTestStore) GetActiveCommit(stageId string) (*models.CommitRecord, error) {
	store.gets++
	if store.getErr != nil {
		return nil, store.getErr
	}
	return store.commit, nil
}

func (store *listenerTestStore) SaveProgress(commit *models.CommitRecord, report *models.ProgressReport) error {
	return commit.SetProgressReport(report)
}

func listenerTestContext() *context.Context {
	config := &models.Config{
		DrainPollInterval: "5ms",
		DrainTimeout:      "50ms",
	}
	config.PushWorker.MaxAttempts = 3
	config.PushWorker.MaxInFlight = 4
	return &context.Context{
		Config:     config,
		MessageLog: logger.DiscardLogger("listener_test"),
		JsonLog:    stdlog.New(ioutil.Discard, "", 0),
	}
}

func newTestListener(store *listenerTestStore) *Listener {
	listener := NewListener(listenerTestContext(), store)
	atomic.StoreInt32(&listener.state, constants.ListenerActive)
	listener.pusherFactory = func(message *nsq.Message) *BatchPusher {
		return NewBatchPusher(listener.Context, store, nil, nil, nil, nil)
	}
	return listener
}

func validMessageBody() string {
	data, _ := testutil.MakeBatchPushRequest("stage-1", 1).ToJson()
	return string(data)
}

func TestHandleMessageFinishesNoOpBatch(t *testing.T) {
	// No commit record for the stage, so the handler treats the
	// message as a no-op and finishes it.
	store := &listenerTestStore{}
	listener := newTestListener(store)
	message := testutil.MakeNsqMessage(validMessageBody())
	delegate := testutil.NewNSQTestDelegate()
	message.Delegate = delegate

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	assert.Equal(t, "finish", delegate.Operation)
	assert.Equal(t, 1, store.gets)
	assert.EqualValues(t, 1, listener.Context.Succeeded())
	assert.Equal(t, 0, listener.InFlight.Len())
}

func TestHandleMessageRequeuesOnError(t *testing.T) {
	store := &listenerTestStore{getErr: fmt.Errorf("db locked")}
	listener := newTestListener(store)
	message := testutil.MakeNsqMessage(validMessageBody())
	delegate := testutil.NewNSQTestDelegate()
	message.Delegate = delegate

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	assert.Equal(t, "requeue", delegate.Operation)
	assert.EqualValues(t, 1, listener.Context.Failed())
	assert.Equal(t, 0, listener.InFlight.Len())
}

func TestHandleMessageTerminalFailureIsFinished(t *testing.T) {
	// A commit that already reached a terminal state is a no-op, no
	// matter how many deliveries are left.
	commit := models.NewCommitRecord("track-1", "stage-1")
	commit.Status = constants.StatusFailed
	store := &listenerTestStore{commit: commit}
	listener := newTestListener(store)
	message := testutil.MakeNsqMessage(validMessageBody())
	delegate := testutil.NewNSQTestDelegate()
	message.Delegate = delegate

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	assert.Equal(t, "finish", delegate.Operation)
}

func TestHandleMessagePoison(t *testing.T) {
	store := &listenerTestStore{}
	listener := newTestListener(store)
	message := testutil.MakeNsqMessage("this is not a batch push request")
	delegate := testutil.NewNSQTestDelegate()
	message.Delegate = delegate

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	// The poison message goes back to the queue rather than being
	// silently discarded, and the listener pauses intake.
	assert.Equal(t, "requeue", delegate.Operation)
	assert.Equal(t, 5*time.Minute, delegate.Delay)
	assert.True(t, listener.IsPoisoned())
	assert.EqualValues(t, 1, listener.Context.Failed())
	assert.Equal(t, 0, store.gets)
}

func TestHandleMessageAfterStopRequested(t *testing.T) {
	store := &listenerTestStore{}
	listener := newTestListener(store)
	atomic.StoreInt32(&listener.state, constants.ListenerStopRequested)
	message := testutil.MakeNsqMessage(validMessageBody())
	delegate := testutil.NewNSQTestDelegate()
	message.Delegate = delegate

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	assert.Equal(t, "requeue", delegate.Operation)
	assert.Equal(t, 0, store.gets)
}

func TestHandleMessageRecordsInFlight(t *testing.T) {
	store := &listenerTestStore{}
	listener := newTestListener(store)
	// Observe the in-flight registry from inside the handler.
	var lenDuringHandling int
	var stageDuringHandling string
	listener.pusherFactory = func(message *nsq.Message) *BatchPusher {
		lenDuringHandling = listener.InFlight.Len()
		stageDuringHandling = listener.InFlight.Get(string(message.ID[:]))
		return NewBatchPusher(listener.Context, store, nil, nil, nil, nil)
	}
	message := testutil.MakeNsqMessage(validMessageBody())
	message.Delegate = testutil.NewNSQTestDelegate()

	err := listener.HandleMessage(message)
	require.Nil(t, err)
	assert.Equal(t, 1, lenDuringHandling)
	assert.Equal(t, "stage-1", stageDuringHandling)
	assert.Equal(t, 0, listener.InFlight.Len())
}

func TestListenerStopWhenIdle(t *testing.T) {
	listener := newTestListener(&listenerTestStore{})
	err := listener.Stop()
	require.Nil(t, err)
	assert.False(t, listener.IsActive())
}

func TestListenerStopWhenNotActive(t *testing.T) {
	listener := NewListener(listenerTestContext(), &listenerTestStore{})
	err := listener.Stop()
	assert.NotNil(t, err)
}

func TestListenerStopWaitsForInFlight(t *testing.T) {
	listener := newTestListener(&listenerTestStore{})
	listener.InFlight.Add("msg-1", "stage-1")
	go func() {
		time.Sleep(15 * time.Millisecond)
		listener.InFlight.Delete("msg-1")
	}()
	start := time.Now()
	err := listener.Stop()
	require.Nil(t, err)
	assert.True(t, time.Since(start) >= 15*time.Millisecond)
	assert.False(t, listener.IsActive())
}

func TestListenerStopDrainTimeout(t *testing.T) {
	listener := newTestListener(&listenerTestStore{})
	// This delivery never finishes; Stop gives up after DrainTimeout
	// and leaves the redelivery to the queue.
	listener.InFlight.Add("msg-1", "stage-1")
	err := listener.Stop()
	require.Nil(t, err)
	assert.False(t, listener.IsActive())
	assert.Equal(t, 1, listener.InFlight.Len())
}

func TestIsActive(t *testing.T) {
	listener := NewListener(listenerTestContext(), &listenerTestStore{})
	assert.False(t, listener.IsActive())
	atomic.StoreInt32(&listener.state, constants.ListenerActive)
	assert.True(t, listener.IsActive())
}
