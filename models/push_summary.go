package models

import (
	"fmt"
	"strings"
	"time"
)

// PushSummary records what happened while processing one delivery of
// a batch push message. The listener logs it after each delivery and
// uses ErrorIsFatal to distinguish contract breaks from failures the
// queue should retry.
type PushSummary struct {
	// This is set to true when the worker starts processing
	// the delivery.
	Attempted bool

	// AttemptNumber is the delivery attempt number, taken from the
	// NSQ message. This is uint16 to match the datatype of
	// nsq.Message.Attempts.
	AttemptNumber uint16

	// This will be set to true if an error is fatal. Fatal errors
	// are contract breaks (an unreadable message body, a cyclic
	// batch); requeueing them cannot help.
	ErrorIsFatal bool

	// Errors is a list of strings describing errors that occurred
	// while processing the delivery.
	Errors []string

	// StartedAt is when processing of this delivery began.
	StartedAt time.Time

	// FinishedAt is when processing of this delivery ended. The
	// attempt may have finished without succeeding; check
	// Succeeded().
	FinishedAt time.Time
}

func NewPushSummary() *PushSummary {
	return &PushSummary{
		Errors: make([]string, 0),
	}
}

func (summary *PushSummary) Start() {
	summary.Attempted = true
	summary.StartedAt = time.Now().UTC()
}

func (summary *PushSummary) Started() bool {
	return !summary.StartedAt.IsZero()
}

func (summary *PushSummary) Finish() {
	summary.FinishedAt = time.Now().UTC()
}

func (summary *PushSummary) Finished() bool {
	return !summary.FinishedAt.IsZero()
}

func (summary *PushSummary) RunTime() time.Duration {
	if summary.StartedAt.IsZero() {
		return time.Duration(0)
	}
	endTime := summary.FinishedAt
	if endTime.IsZero() {
		endTime = time.Now()
	}
	return endTime.Sub(summary.StartedAt)
}

func (summary *PushSummary) Succeeded() bool {
	return summary.Finished() && len(summary.Errors) == 0
}

func (summary *PushSummary) AddError(format string, a ...interface{}) {
	summary.Errors = append(summary.Errors, fmt.Sprintf(format, a...))
}

func (summary *PushSummary) HasErrors() bool {
	return len(summary.Errors) > 0
}

func (summary *PushSummary) FirstError() string {
	if len(summary.Errors) > 0 {
		return summary.Errors[0]
	}
	return ""
}

func (summary *PushSummary) AllErrorsAsString() string {
	if len(summary.Errors) > 0 {
		return strings.Join(summary.Errors, "\n")
	}
	return ""
}
