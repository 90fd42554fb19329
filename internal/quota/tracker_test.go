package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, resolve LimitResolver) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTracker(rdb, resolve, 1000, 0.10), mr
}

func TestRecordSendCountsInWindow(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	base := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.RecordSend(ctx, "chan-1"))
	}

	status, err := tr.GetStatus(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, 5, status.SentInWindow)
	assert.Equal(t, 1000, status.TierLimit)
	assert.Equal(t, 995, status.Remaining)
	assert.Equal(t, "tier_1000", status.Tier)
}

func TestSendsSpreadAcrossHoursSum(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// one send in each of 24 distinct hours
	for h := 0; h < 24; h++ {
		hour := base.Add(time.Duration(h) * time.Hour)
		tr.now = func() time.Time { return hour }
		require.NoError(t, tr.RecordSend(ctx, "chan-1"))
	}

	tr.now = func() time.Time { return base.Add(23 * time.Hour) }
	status, err := tr.GetStatus(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, 24, status.SentInWindow)
}

func TestWindowRollsPastOldSends(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.RecordSend(ctx, "chan-1"))
	}

	// 25 hours later the old bucket is outside the summed window
	tr.now = func() time.Time { return base.Add(25 * time.Hour) }
	status, err := tr.GetStatus(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.SentInWindow)
	assert.Equal(t, 1000, status.Remaining)
}

func TestRecordSendConcurrent(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.RecordSend(ctx, "chan-1")
		}()
	}
	wg.Wait()

	status, err := tr.GetStatus(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, 50, status.SentInWindow)
}

func TestCheckOveragePolicy(t *testing.T) {
	tr, mr := newTestTracker(t, nil)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	// 900 already sent this window leaves 100 of the 1000 limit
	mr.Set(bucketKey("chan-1", base), "900")

	ctx := context.Background()

	res, err := tr.Check(ctx, "chan-1", 105)
	require.NoError(t, err)
	assert.True(t, res.CanProceed, "5% overage is within the 10% threshold")
	assert.NotEmpty(t, res.Warning)

	res, err = tr.Check(ctx, "chan-1", 250)
	require.NoError(t, err)
	assert.False(t, res.CanProceed, "150 over is past the 10% threshold")
	assert.Equal(t, 100, res.Status.Remaining)

	res, err = tr.Check(ctx, "chan-1", 80)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.Empty(t, res.Warning)
}

func TestCheckLargeAudienceUnderLimit(t *testing.T) {
	tr, _ := newTestTracker(t, func(string) int { return 10000 })
	ctx := context.Background()

	res, err := tr.Check(ctx, "chan-1", 3000)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.Empty(t, res.Warning)
}

func TestUnlimitedTierAlwaysProceeds(t *testing.T) {
	tr, _ := newTestTracker(t, func(string) int { return TierUnlimited })
	ctx := context.Background()

	res, err := tr.Check(ctx, "chan-1", 1_000_000)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)

	ok, err := tr.HasRemaining(ctx, "chan-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingChannelFailsOpen(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	ctx := context.Background()

	status, err := tr.GetStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, status.SentInWindow)
	assert.Equal(t, TierUnlimited, status.TierLimit)
	assert.Equal(t, "unlimited", status.Tier)

	res, err := tr.Check(ctx, "", 5000)
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
}

func TestHasRemainingExhausted(t *testing.T) {
	tr, mr := newTestTracker(t, func(string) int { return 10 })
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	mr.Set(bucketKey("chan-1", base), "10")

	ok, err := tr.HasRemaining(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
