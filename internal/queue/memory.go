package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MemoryConfig tunes the in-process queue.
type MemoryConfig struct {
	Concurrency   int
	RatePerSec    int
	Backoff       time.Duration
	MaxDeliveries int
	Buffer        int
}

func (c *MemoryConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 10
	}
	if c.Buffer <= 0 {
		c.Buffer = 10000
	}
}

// MemoryQueue is the in-process implementation of the job queue contract:
// delayed delivery, at-most-one-in-flight per job id, redelivery with backoff
// for retryable failures, a shared rate ceiling and a pool-wide pause. It
// backs tests and single-process mode; multi-process deployments use AMQP.
type MemoryQueue struct {
	cfg     MemoryConfig
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu          sync.Mutex
	pending     map[string]bool // enqueued, delayed or in flight
	deliveries  map[string]int  // redelivery count per job id
	pausedUntil time.Time

	jobs     chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMemoryQueue(cfg MemoryConfig, logger zerolog.Logger) *MemoryQueue {
	cfg.applyDefaults()
	return &MemoryQueue{
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		logger:     logger.With().Str("component", "memory_queue").Logger(),
		pending:    make(map[string]bool),
		deliveries: make(map[string]int),
		jobs:       make(chan Job, cfg.Buffer),
		stopCh:     make(chan struct{}),
	}
}

// Enqueue schedules a job. A job id already pending or in flight is skipped,
// which is what makes double-enqueue under planner retries harmless.
func (q *MemoryQueue) Enqueue(job Job, delay time.Duration) error {
	q.mu.Lock()
	if q.pending[job.ID] {
		q.mu.Unlock()
		return nil
	}
	q.pending[job.ID] = true
	q.mu.Unlock()

	q.schedule(job, delay)
	return nil
}

func (q *MemoryQueue) EnqueueBulk(jobs []Job, delay time.Duration) error {
	for _, job := range jobs {
		if err := q.Enqueue(job, delay); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) schedule(job Job, delay time.Duration) {
	if delay <= 0 {
		go q.deliver(job)
		return
	}
	time.AfterFunc(delay, func() { q.deliver(job) })
}

func (q *MemoryQueue) deliver(job Job) {
	select {
	case q.jobs <- job:
	case <-q.stopCh:
	}
}

// Start runs the worker pool until ctx is cancelled or Stop is called.
func (q *MemoryQueue) Start(ctx context.Context, h Handler) error {
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, h)
	}
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, h Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case job := <-q.jobs:
			if !q.waitIfPaused(ctx) {
				return
			}
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			q.finish(job, h(ctx, job))
		}
	}
}

func (q *MemoryQueue) finish(job Job, err error) {
	if err == nil || !IsRetryable(err) {
		q.mu.Lock()
		delete(q.pending, job.ID)
		delete(q.deliveries, job.ID)
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	q.deliveries[job.ID]++
	n := q.deliveries[job.ID]
	q.mu.Unlock()

	if n >= q.cfg.MaxDeliveries {
		// The handler's own attempt budget should terminate the record
		// well before this; the cap only guards against a redelivery loop.
		q.logger.Error().Str("job_id", job.ID).Int("deliveries", n).
			Msg("dropping job after redelivery cap")
		q.mu.Lock()
		delete(q.pending, job.ID)
		delete(q.deliveries, job.ID)
		q.mu.Unlock()
		return
	}

	backoff := time.Duration(n) * q.cfg.Backoff
	q.logger.Debug().Str("job_id", job.ID).Dur("backoff", backoff).Msg("redelivering job")
	time.AfterFunc(backoff, func() { q.deliver(job) })
}

// Pause idles every worker until the deadline. Later, longer pauses extend an
// active one; shorter ones are ignored.
func (q *MemoryQueue) Pause(d time.Duration) {
	until := time.Now().Add(d)
	q.mu.Lock()
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
	q.mu.Unlock()
	q.logger.Warn().Dur("duration", d).Msg("worker pool paused")
}

func (q *MemoryQueue) waitIfPaused(ctx context.Context) bool {
	for {
		q.mu.Lock()
		remaining := time.Until(q.pausedUntil)
		q.mu.Unlock()
		if remaining <= 0 {
			return true
		}
		wait := remaining
		if wait > 250*time.Millisecond {
			wait = 250 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return false
		case <-q.stopCh:
			return false
		case <-time.After(wait):
		}
	}
}

func (q *MemoryQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

var (
	_ Queue    = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)
