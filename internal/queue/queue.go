package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job is one delivery attempt for one record. The ID is a deterministic
// function of the record id, so redelivery or a second enqueue of the same
// record can never produce two in-flight jobs for one recipient.
type Job struct {
	ID         string            `json:"id"`
	RecordID   int               `json:"record_id"`
	CampaignID int               `json:"campaign_id"`
	Context    map[string]string `json:"context,omitempty"`
}

func JobID(recordID int) string {
	return fmt.Sprintf("send:%d", recordID)
}

func NewJob(recordID, campaignID int) Job {
	return Job{ID: JobID(recordID), RecordID: recordID, CampaignID: campaignID}
}

// Handler processes one job. Returning a retryable error asks the queue to
// redeliver with backoff; any other error (or nil) acknowledges the job.
type Handler func(ctx context.Context, job Job) error

// Queue is the producer side of the job queue.
type Queue interface {
	Enqueue(job Job, delay time.Duration) error
	EnqueueBulk(jobs []Job, delay time.Duration) error
}

// Consumer is the worker-pool side. Pause idles the whole pool; it is how a
// single rate-limited send throttles every worker, not just its own job.
type Consumer interface {
	Start(ctx context.Context, h Handler) error
	Pause(d time.Duration)
	Stop()
}

// RetryableError marks a handler failure as redeliverable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the queue redelivers the job.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	return errors.As(err, &re)
}
