package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	windowHours = 24

	// Buckets live a bit longer than the window so clock skew between the
	// incrementing worker and the summing reader never drops a live bucket.
	bucketTTL = 25 * time.Hour

	// TierUnlimited disables the quota gate for a channel.
	TierUnlimited = -1
)

// LimitResolver maps a channel identity to its tier limit. Implementations
// typically read tenant configuration; a nil resolver means every channel is
// on the default limit.
type LimitResolver func(channelID string) int

// Status is the rolling-window view for a channel.
type Status struct {
	SentInWindow int    `json:"sent_in_window"`
	TierLimit    int    `json:"tier_limit"`
	Remaining    int    `json:"remaining"`
	Tier         string `json:"tier"`
}

// CheckResult is the quota gate's answer for a planned batch.
type CheckResult struct {
	CanProceed bool
	Warning    string
	Status     Status
}

// Tracker counts business-initiated sends per channel over a rolling 24h
// window, one Redis key per hour. Increments are atomic so any number of
// workers across any number of processes can record concurrently.
type Tracker struct {
	rdb          redis.Cmdable
	resolveLimit LimitResolver
	defaultLimit int

	// overageFraction is the slack past the limit the planner may still
	// proceed with (best effort), e.g. 0.10 for 10%. Policy knob.
	overageFraction float64

	now func() time.Time
}

func NewTracker(rdb redis.Cmdable, resolve LimitResolver, defaultLimit int, overageFraction float64) *Tracker {
	return &Tracker{
		rdb:             rdb,
		resolveLimit:    resolve,
		defaultLimit:    defaultLimit,
		overageFraction: overageFraction,
		now:             time.Now,
	}
}

func bucketKey(channelID string, ts time.Time) string {
	return fmt.Sprintf("quota:%s:%s", channelID, ts.UTC().Format("2006010215"))
}

// RecordSend bumps the current hour bucket. Called once per confirmed
// business-initiated send.
func (t *Tracker) RecordSend(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	key := bucketKey(channelID, t.now())
	pipe := t.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, bucketTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("quota record send: %w", err)
	}
	return nil
}

func (t *Tracker) limitFor(channelID string) int {
	if t.resolveLimit != nil {
		if limit := t.resolveLimit(channelID); limit != 0 {
			return limit
		}
	}
	return t.defaultLimit
}

func tierName(limit int) string {
	if limit == TierUnlimited {
		return "unlimited"
	}
	return fmt.Sprintf("tier_%d", limit)
}

// GetStatus sums the last 24 hourly buckets. A tenant without a channel yet
// reports zero usage and unlimited remaining: quota only means something once
// a channel exists, and sending fails downstream anyway.
func (t *Tracker) GetStatus(ctx context.Context, channelID string) (Status, error) {
	if channelID == "" {
		return Status{TierLimit: TierUnlimited, Remaining: TierUnlimited, Tier: tierName(TierUnlimited)}, nil
	}

	now := t.now()
	keys := make([]string, 0, windowHours)
	for i := 0; i < windowHours; i++ {
		keys = append(keys, bucketKey(channelID, now.Add(-time.Duration(i)*time.Hour)))
	}

	vals, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return Status{}, fmt.Errorf("quota get status: %w", err)
	}

	sent := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.Atoi(s); err == nil {
				sent += n
			}
		}
	}

	limit := t.limitFor(channelID)
	remaining := TierUnlimited
	if limit != TierUnlimited {
		remaining = limit - sent
		if remaining < 0 {
			remaining = 0
		}
	}

	return Status{
		SentInWindow: sent,
		TierLimit:    limit,
		Remaining:    remaining,
		Tier:         tierName(limit),
	}, nil
}

// Check gates a planned batch of size requested. Small overruns (within
// overageFraction of the limit) proceed with a warning so a launch is not
// blocked over a handful of messages; larger ones are refused outright rather
// than silently dropping a big slice of the audience.
func (t *Tracker) Check(ctx context.Context, channelID string, requested int) (CheckResult, error) {
	status, err := t.GetStatus(ctx, channelID)
	if err != nil {
		return CheckResult{}, err
	}

	res := CheckResult{Status: status}
	if status.TierLimit == TierUnlimited || requested <= 0 {
		res.CanProceed = true
		return res, nil
	}

	if requested <= status.Remaining {
		res.CanProceed = true
		return res, nil
	}

	overage := requested - status.Remaining
	if float64(overage) <= t.overageFraction*float64(status.TierLimit) {
		res.CanProceed = true
		res.Warning = fmt.Sprintf(
			"requested %d exceeds remaining quota %d by %d; proceeding best-effort, some sends may fail",
			requested, status.Remaining, overage,
		)
		return res, nil
	}

	return res, nil
}

// HasRemaining is the worker-side circuit breaker check: cheap enough to run
// per business-initiated job.
func (t *Tracker) HasRemaining(ctx context.Context, channelID string) (bool, error) {
	status, err := t.GetStatus(ctx, channelID)
	if err != nil {
		return false, err
	}
	if status.TierLimit == TierUnlimited {
		return true, nil
	}
	return status.Remaining > 0, nil
}
