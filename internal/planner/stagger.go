package planner

import "time"

// Tier classifies an audience by size so the enqueue side does not flood the
// queue with delayed entries for huge audiences while small ones go out in
// one shot and let the worker-side rate limiter do the pacing.
type Tier string

const (
	TierImmediate Tier = "immediate"
	TierChunked   Tier = "chunked"
	TierLarge     Tier = "large"
)

// StaggerPlan is the enqueue schedule for one audience group. Ephemeral:
// computed at launch, never persisted.
type StaggerPlan struct {
	Tier       Tier
	ChunkSize  int
	ChunkDelay time.Duration
	BaseOffset time.Duration
}

// StaggerConfig carries the tier thresholds and chunk sizes. Tunable
// constants, wired from config.
type StaggerConfig struct {
	ImmediateThreshold int
	ChunkedThreshold   int
	ChunkedSize        int
	LargeSize          int
}

func (c *StaggerConfig) applyDefaults() {
	if c.ImmediateThreshold <= 0 {
		c.ImmediateThreshold = 500
	}
	if c.ChunkedThreshold <= 0 {
		c.ChunkedThreshold = 10000
	}
	if c.ChunkedSize <= 0 {
		c.ChunkedSize = 100
	}
	if c.LargeSize <= 0 {
		c.LargeSize = 500
	}
}

// drainDuration is how long the shared rate limiter needs to work through
// count messages at the global ceiling.
func drainDuration(count, throughputPerSec int) time.Duration {
	if count <= 0 || throughputPerSec <= 0 {
		return 0
	}
	secs := float64(count) / float64(throughputPerSec)
	return time.Duration(secs * float64(time.Second))
}

// PlanStagger picks the tier for an audience of the given size. The chunk
// delay approximates the time the rate limiter needs to drain one chunk, so
// chunks arrive roughly as the previous one finishes.
func PlanStagger(count int, cfg StaggerConfig, throughputPerSec int, baseOffset time.Duration) StaggerPlan {
	cfg.applyDefaults()

	plan := StaggerPlan{BaseOffset: baseOffset}
	switch {
	case count <= cfg.ImmediateThreshold:
		plan.Tier = TierImmediate
		plan.ChunkSize = count
		plan.ChunkDelay = 0
	case count <= cfg.ChunkedThreshold:
		plan.Tier = TierChunked
		plan.ChunkSize = cfg.ChunkedSize
		plan.ChunkDelay = drainDuration(cfg.ChunkedSize, throughputPerSec)
	default:
		plan.Tier = TierLarge
		plan.ChunkSize = cfg.LargeSize
		plan.ChunkDelay = drainDuration(cfg.LargeSize, throughputPerSec)
	}
	return plan
}
