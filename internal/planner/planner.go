package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatnationwork/broadcast-backend/internal/audience"
	appErrors "github.com/chatnationwork/broadcast-backend/internal/errors"
	"github.com/chatnationwork/broadcast-backend/internal/model"
	"github.com/chatnationwork/broadcast-backend/internal/queue"
	"github.com/chatnationwork/broadcast-backend/internal/quota"
)

// CampaignStore is what the planner needs from campaign persistence.
type CampaignStore interface {
	GetByID(id int) (*model.Campaign, error)
	MarkRunning(campaignID, recipientCount int, estimatedCompletionAt time.Time) (bool, error)
	MarkResumed(campaignID int) (bool, error)
	CompleteEmpty(campaignID int) error
	UpdateStatus(campaignID int, status model.CampaignStatus) error
}

// DeliveryStore is what the planner needs from record persistence.
type DeliveryStore interface {
	BulkCreate(records []model.DeliveryRecord) ([]model.DeliveryRecord, error)
	CreateOrGet(rec model.DeliveryRecord) (*model.DeliveryRecord, error)
	MarkQueued(ids []int) error
	ListUnfinished(campaignID int) ([]model.DeliveryRecord, error)
}

// AudienceResolver evaluates the campaign's opaque filter.
type AudienceResolver interface {
	Resolve(tenantID int, filter json.RawMessage) ([]model.Contact, error)
	GetByID(id int) (*model.Contact, error)
}

// QuotaGate gates the out-of-window portion of a launch.
type QuotaGate interface {
	Check(ctx context.Context, channelID string, requested int) (quota.CheckResult, error)
}

type Config struct {
	ThroughputPerSec int
	WindowDuration   time.Duration
	InsertBatchSize  int
	Stagger          StaggerConfig
}

func (c *Config) applyDefaults() {
	if c.ThroughputPerSec <= 0 {
		c.ThroughputPerSec = 20
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = 24 * time.Hour
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = 500
	}
}

// Planner turns a launch request into persisted delivery records and a
// staggered enqueue schedule.
type Planner struct {
	campaigns  CampaignStore
	deliveries DeliveryStore
	contacts   AudienceResolver
	quota      QuotaGate
	queue      queue.Queue
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

func New(campaigns CampaignStore, deliveries DeliveryStore, contacts AudienceResolver, gate QuotaGate, q queue.Queue, cfg Config, logger zerolog.Logger) *Planner {
	cfg.applyDefaults()
	return &Planner{
		campaigns:  campaigns,
		deliveries: deliveries,
		contacts:   contacts,
		quota:      gate,
		queue:      q,
		cfg:        cfg,
		logger:     logger.With().Str("component", "planner").Logger(),
		now:        time.Now,
	}
}

// Launch resolves, gates, persists and enqueues a campaign. It either leaves
// the campaign running (or completed, for an empty audience) or returns a
// blocking error the caller can surface; a lost launch race is a logged no-op.
func (p *Planner) Launch(ctx context.Context, campaignID int) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if !c.Status.IsLaunchable() {
		p.logger.Info().Int("campaign_id", campaignID).Str("status", string(c.Status)).
			Msg("launch skipped: campaign not in a launchable status")
		return appErrors.NewInvalidCampaignStatus(campaignID, c.Status, "launched")
	}

	contacts, err := p.contacts.Resolve(c.TenantID, c.AudienceFilter)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	now := p.now()
	inWindow, outOfWindow := audience.Split(contacts, p.cfg.WindowDuration, now)
	total := len(contacts)

	if total == 0 {
		// An empty audience is a valid launch outcome, not an error.
		p.logger.Info().Int("campaign_id", campaignID).Msg("audience empty, completing campaign")
		return p.campaigns.CompleteEmpty(campaignID)
	}

	if len(outOfWindow) > 0 {
		res, err := p.quota.Check(ctx, c.ChannelID, len(outOfWindow))
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if !res.CanProceed {
			if err := p.campaigns.UpdateStatus(campaignID, model.CampaignPaused); err != nil {
				p.logger.Error().Err(err).Int("campaign_id", campaignID).Msg("failed to pause campaign after quota refusal")
			}
			return &appErrors.ErrQuotaExceeded{
				ChannelID:    c.ChannelID,
				Requested:    len(outOfWindow),
				Remaining:    res.Status.Remaining,
				TierLimit:    res.Status.TierLimit,
				SentInWindow: res.Status.SentInWindow,
			}
		}
		if res.Warning != "" {
			p.logger.Warn().Int("campaign_id", campaignID).Str("channel_id", c.ChannelID).
				Msg("quota warning: " + res.Warning)
		}
	}

	estimated := now.Add(drainDuration(total, p.cfg.ThroughputPerSec))
	started, err := p.campaigns.MarkRunning(campaignID, total, estimated)
	if err != nil {
		return err
	}
	if !started {
		// Another launcher won the race; its plan covers the audience.
		p.logger.Info().Int("campaign_id", campaignID).Msg("launch skipped: campaign already started")
		return nil
	}

	inRecords, err := p.createRecords(campaignID, inWindow, false)
	if err != nil {
		return fmt.Errorf("create in-window records: %w", err)
	}
	outRecords, err := p.createRecords(campaignID, outOfWindow, true)
	if err != nil {
		return fmt.Errorf("create out-of-window records: %w", err)
	}

	// In-window sends are free and go first. Out-of-window sends start after
	// the in-window batch is expected to drain, so the two groups do not race
	// for the same throughput.
	inPlan := PlanStagger(len(inRecords), p.cfg.Stagger, p.cfg.ThroughputPerSec, 0)
	if err := p.enqueueStaggered(campaignID, inRecords, inPlan); err != nil {
		return fmt.Errorf("enqueue in-window: %w", err)
	}

	baseOffset := drainDuration(len(inRecords), p.cfg.ThroughputPerSec)
	outPlan := PlanStagger(len(outRecords), p.cfg.Stagger, p.cfg.ThroughputPerSec, baseOffset)
	if err := p.enqueueStaggered(campaignID, outRecords, outPlan); err != nil {
		return fmt.Errorf("enqueue out-of-window: %w", err)
	}

	p.logger.Info().Int("campaign_id", campaignID).
		Int("recipients", total).
		Int("in_window", len(inWindow)).
		Int("out_of_window", len(outOfWindow)).
		Str("in_tier", string(inPlan.Tier)).
		Str("out_tier", string(outPlan.Tier)).
		Time("estimated_completion", estimated).
		Msg("campaign launched")
	return nil
}

// createRecords persists one record per recipient in bounded batches so a
// large audience never turns into one giant transaction.
func (p *Planner) createRecords(campaignID int, contacts []model.Contact, businessInitiated bool) ([]model.DeliveryRecord, error) {
	created := make([]model.DeliveryRecord, 0, len(contacts))
	for start := 0; start < len(contacts); start += p.cfg.InsertBatchSize {
		end := start + p.cfg.InsertBatchSize
		if end > len(contacts) {
			end = len(contacts)
		}

		batch := make([]model.DeliveryRecord, 0, end-start)
		for _, contact := range contacts[start:end] {
			batch = append(batch, model.DeliveryRecord{
				CampaignID:        campaignID,
				ContactID:         contact.ID,
				Phone:             contact.Phone,
				BusinessInitiated: businessInitiated,
			})
		}

		inserted, err := p.deliveries.BulkCreate(batch)
		if err != nil {
			return nil, err
		}
		created = append(created, inserted...)
	}
	return created, nil
}

// enqueueStaggered walks the plan's chunks, enqueueing each with its delay
// and moving its records to queued.
func (p *Planner) enqueueStaggered(campaignID int, records []model.DeliveryRecord, plan StaggerPlan) error {
	if len(records) == 0 {
		return nil
	}

	chunkIdx := 0
	for start := 0; start < len(records); start += plan.ChunkSize {
		end := start + plan.ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		jobs := make([]queue.Job, 0, len(chunk))
		ids := make([]int, 0, len(chunk))
		for _, rec := range chunk {
			jobs = append(jobs, queue.NewJob(rec.ID, campaignID))
			ids = append(ids, rec.ID)
		}

		delay := plan.BaseOffset + time.Duration(chunkIdx)*plan.ChunkDelay
		if err := p.queue.EnqueueBulk(jobs, delay); err != nil {
			return err
		}
		if err := p.deliveries.MarkQueued(ids); err != nil {
			return err
		}
		chunkIdx++
	}
	return nil
}

// Resume restarts a paused campaign. A campaign paused before its launch went
// through (quota refusal) goes back to draft for the operator to relaunch; one
// paused mid-run goes back to running and its unfinished records are
// re-enqueued, since the pool dropped their jobs while the campaign was not
// running.
func (p *Planner) Resume(ctx context.Context, campaignID int) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignPaused {
		return appErrors.NewInvalidCampaignStatus(campaignID, c.Status, "resumed")
	}

	if c.StartedAt == nil {
		return p.campaigns.UpdateStatus(campaignID, model.CampaignDraft)
	}

	resumed, err := p.campaigns.MarkResumed(campaignID)
	if err != nil {
		return err
	}
	if !resumed {
		p.logger.Info().Int("campaign_id", campaignID).Msg("resume skipped: campaign no longer paused")
		return nil
	}

	records, err := p.deliveries.ListUnfinished(campaignID)
	if err != nil {
		return err
	}
	plan := PlanStagger(len(records), p.cfg.Stagger, p.cfg.ThroughputPerSec, 0)
	if err := p.enqueueStaggered(campaignID, records, plan); err != nil {
		return err
	}
	p.logger.Info().Int("campaign_id", campaignID).Int("requeued", len(records)).Msg("campaign resumed")
	return nil
}

// LaunchSingle is the trigger path: one recipient fed into a running campaign
// outside the bulk flow. The record insert is idempotent, so replayed events
// do not duplicate the recipient.
func (p *Planner) LaunchSingle(ctx context.Context, campaignID, contactID int, businessInitiated bool, eventCtx map[string]string) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignRunning {
		return appErrors.NewInvalidCampaignStatus(campaignID, c.Status, "fed a trigger send")
	}

	contact, err := p.contacts.GetByID(contactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return appErrors.NewContactNotFound(contactID)
	}

	rec, err := p.deliveries.CreateOrGet(model.DeliveryRecord{
		CampaignID:        campaignID,
		ContactID:         contactID,
		Phone:             contact.Phone,
		BusinessInitiated: businessInitiated,
	})
	if err != nil {
		return err
	}

	job := queue.NewJob(rec.ID, campaignID)
	job.Context = eventCtx
	if err := p.queue.Enqueue(job, 0); err != nil {
		return err
	}
	return p.deliveries.MarkQueued([]int{rec.ID})
}
