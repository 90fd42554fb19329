package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"golang.org/x/time/rate"
)

const retryCountHeader = "x-retry-count"

// AMQPQueue publishes jobs to a durable queue. Planner delays (the stagger
// schedule) are armed as in-process timers before publishing; a restart while
// timers are armed delays those chunks but never loses them, since their
// records stay queued and a relaunch re-enqueues idempotently.
type AMQPQueue struct {
	ch        *amqp.Channel
	queueName string
	logger    zerolog.Logger
}

func NewAMQPQueue(conn *amqp.Connection, queueName string, logger zerolog.Logger) (*AMQPQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, err
	}
	return &AMQPQueue{
		ch:        ch,
		queueName: queueName,
		logger:    logger.With().Str("component", "amqp_queue").Logger(),
	}, nil
}

func (q *AMQPQueue) Enqueue(job Job, delay time.Duration) error {
	if delay <= 0 {
		return q.publish(job, 0)
	}
	time.AfterFunc(delay, func() {
		if err := q.publish(job, 0); err != nil {
			q.logger.Error().Err(err).Str("job_id", job.ID).Msg("delayed publish failed")
		}
	})
	return nil
}

func (q *AMQPQueue) EnqueueBulk(jobs []Job, delay time.Duration) error {
	for _, job := range jobs {
		if err := q.Enqueue(job, delay); err != nil {
			return err
		}
	}
	return nil
}

func (q *AMQPQueue) publish(job Job, retryCount int32) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"", // default exchange
		q.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Headers:      amqp.Table{retryCountHeader: retryCount},
			Body:         body,
		},
	)
}

var _ Queue = (*AMQPQueue)(nil)

// AMQPConsumer drains the durable queue with a bounded goroutine pool, a
// shared rate ceiling and pool-wide pause support. Retryable failures are
// republished with an incremented retry header after backoff; everything else
// is acked (the handler has already recorded the outcome on the record).
type AMQPConsumer struct {
	queue       *AMQPQueue
	concurrency int
	limiter     *rate.Limiter
	backoff     time.Duration
	maxRetries  int
	logger      zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type AMQPConsumerConfig struct {
	Concurrency int
	RatePerSec  int
	Backoff     time.Duration
	MaxRetries  int
}

func NewAMQPConsumer(q *AMQPQueue, cfg AMQPConsumerConfig, logger zerolog.Logger) *AMQPConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &AMQPConsumer{
		queue:       q,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		backoff:     cfg.Backoff,
		maxRetries:  cfg.MaxRetries,
		logger:      logger.With().Str("component", "amqp_consumer").Logger(),
		stopCh:      make(chan struct{}),
	}
}

func (c *AMQPConsumer) Start(ctx context.Context, h Handler) error {
	if err := c.queue.ch.Qos(c.concurrency*2, 0, false); err != nil {
		return err
	}
	msgs, err := c.queue.ch.Consume(
		c.queue.queueName,
		"",    // consumer tag
		false, // autoAck off: ack only after the handler decides
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, h)
	}
	return nil
}

func (c *AMQPConsumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, h Handler) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(ctx, d, h)
		}
	}
}

func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	if !c.waitIfPaused(ctx) {
		d.Nack(false, true)
		return
	}
	if err := c.limiter.Wait(ctx); err != nil {
		d.Nack(false, true)
		return
	}

	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Error().Err(err).Msg("invalid job payload, dropping")
		d.Ack(false)
		return
	}

	err := h(ctx, job)
	if err == nil || !IsRetryable(err) {
		d.Ack(false)
		return
	}

	retries := retryCount(d) + 1
	if int(retries) >= c.maxRetries {
		c.logger.Error().Str("job_id", job.ID).Int32("retries", retries).
			Msg("dropping job after redelivery cap")
		d.Ack(false)
		return
	}

	// Republish with backoff instead of a bare Nack so the retry count
	// actually advances and the job does not spin at the head of the queue.
	d.Ack(false)
	delay := time.Duration(retries) * c.backoff
	time.AfterFunc(delay, func() {
		if err := c.queue.publish(job, retries); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("redelivery publish failed")
		}
	})
}

func retryCount(d amqp.Delivery) int32 {
	switch v := d.Headers[retryCountHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

func (c *AMQPConsumer) Pause(d time.Duration) {
	until := time.Now().Add(d)
	c.mu.Lock()
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
	c.mu.Unlock()
	c.logger.Warn().Dur("duration", d).Msg("worker pool paused")
}

func (c *AMQPConsumer) waitIfPaused(ctx context.Context) bool {
	for {
		c.mu.Lock()
		remaining := time.Until(c.pausedUntil)
		c.mu.Unlock()
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
		case <-c.stopCh:
			return false
		case <-time.After(wait):
		}
	}
}

func (c *AMQPConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

var _ Consumer = (*AMQPConsumer)(nil)
