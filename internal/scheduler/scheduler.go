package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

type CampaignStore interface {
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
}

type Launcher interface {
	Launch(ctx context.Context, campaignID int) error
}

// Scheduler periodically scans for scheduled campaigns whose launch time has
// passed and hands each to the planner. It is deliberately decoupled from the
// pipeline: all it knows is the Launch entry point.
type Scheduler struct {
	campaigns CampaignStore
	launcher  Launcher
	interval  time.Duration
	logger    zerolog.Logger
	cron      *cron.Cron
}

func New(campaigns CampaignStore, launcher Launcher, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		campaigns: campaigns,
		launcher:  launcher,
		interval:  interval,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		cron:      cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.Scan(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("interval", s.interval.String()).Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// Scan launches every due campaign. One campaign's launch error never stops
// the rest of the scan; the planner has already parked the campaign (paused
// or untouched) for the operator.
func (s *Scheduler) Scan(ctx context.Context) {
	due, err := s.campaigns.ListDueScheduled(time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("due-campaign scan failed")
		return
	}
	for _, c := range due {
		if err := s.launcher.Launch(ctx, c.ID); err != nil {
			s.logger.Error().Err(err).Int("campaign_id", c.ID).Msg("scheduled launch failed")
		}
	}
}
