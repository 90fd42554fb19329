package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatnationwork/broadcast-backend/internal/model"
	"github.com/chatnationwork/broadcast-backend/internal/queue"
	"github.com/chatnationwork/broadcast-backend/internal/send"
	"github.com/chatnationwork/broadcast-backend/internal/template"
)

// CampaignStore is what the sender needs from campaign persistence.
type CampaignStore interface {
	GetByID(id int) (*model.Campaign, error)
	MarkCompleted(campaignID int) (bool, error)
	UpdateStatus(campaignID int, status model.CampaignStatus) error
}

// DeliveryStore is what the sender needs from record persistence.
type DeliveryStore interface {
	GetByID(id int) (*model.DeliveryRecord, error)
	IncrementAttempts(id int) (int, error)
	DecrementAttempts(id int) error
	MarkSent(id int, providerMessageID string) error
	MarkFailed(id int, code, message string) error
	SetLastError(id int, code, message string) error
	CountRemaining(campaignID int) (int, error)
}

type ContactStore interface {
	GetByID(id int) (*model.Contact, error)
}

// QuotaTracker is the slice of the quota tracker the sender uses.
type QuotaTracker interface {
	HasRemaining(ctx context.Context, channelID string) (bool, error)
	RecordSend(ctx context.Context, channelID string) error
}

// Pauser idles the whole worker pool; one rate-limited send throttles
// everyone, not just its own job.
type Pauser interface {
	Pause(d time.Duration)
}

type Config struct {
	MaxAttempts       int
	RateLimitCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
}

// Sender executes one delivery job: render, send, record the outcome, and
// drive campaign completion. It is the queue handler.
type Sender struct {
	campaigns  CampaignStore
	deliveries DeliveryStore
	contacts   ContactStore
	quota      QuotaTracker
	client     send.Client
	pool       Pauser
	cfg        Config
	logger     zerolog.Logger
}

func NewSender(campaigns CampaignStore, deliveries DeliveryStore, contacts ContactStore, quota QuotaTracker, client send.Client, pool Pauser, cfg Config, logger zerolog.Logger) *Sender {
	cfg.applyDefaults()
	return &Sender{
		campaigns:  campaigns,
		deliveries: deliveries,
		contacts:   contacts,
		quota:      quota,
		client:     client,
		pool:       pool,
		cfg:        cfg,
		logger:     logger.With().Str("component", "sender").Logger(),
	}
}

// Handle processes one job. Returning a retryable error asks the queue to
// redeliver; anything else acknowledges the job.
func (s *Sender) Handle(ctx context.Context, job queue.Job) error {
	rec, err := s.deliveries.GetByID(job.RecordID)
	if err != nil {
		return queue.Retryable(err)
	}
	if rec == nil {
		s.logger.Warn().Str("job_id", job.ID).Msg("record missing, dropping job")
		return nil
	}
	if rec.Status.IsTerminal() {
		// Redelivery of an already-settled record (e.g. restart mid-ack).
		return nil
	}

	c, err := s.campaigns.GetByID(rec.CampaignID)
	if err != nil {
		return queue.Retryable(err)
	}
	if c.Status != model.CampaignRunning {
		// Cancelled or paused mid-flight: drop rather than send strays.
		s.logger.Debug().Int("campaign_id", c.ID).Str("status", string(c.Status)).
			Str("job_id", job.ID).Msg("campaign not running, dropping job")
		return nil
	}

	if rec.BusinessInitiated {
		ok, err := s.quota.HasRemaining(ctx, c.ChannelID)
		if err != nil {
			return queue.Retryable(err)
		}
		if !ok {
			// Circuit breaker: pause the campaign so the remaining queued
			// jobs stop rediscovering the same exhaustion one by one.
			s.logger.Warn().Int("campaign_id", c.ID).Str("channel_id", c.ChannelID).
				Msg("quota exhausted mid-run, pausing campaign")
			if err := s.campaigns.UpdateStatus(c.ID, model.CampaignPaused); err != nil {
				s.logger.Error().Err(err).Int("campaign_id", c.ID).Msg("failed to pause campaign")
			}
			return s.fail(rec, c.ID, "quota_exhausted", "channel tier quota exhausted mid-run", false)
		}
	}

	attempts, err := s.deliveries.IncrementAttempts(rec.ID)
	if err != nil {
		return queue.Retryable(err)
	}

	contact, err := s.contacts.GetByID(rec.ContactID)
	if err != nil {
		return queue.Retryable(err)
	}
	if contact == nil {
		return s.fail(rec, c.ID, "contact_missing", "contact no longer exists", true)
	}

	body := template.Render(c.Template, *contact, job.Context)
	res, sendErr := s.client.Send(ctx, c.TenantID, rec.Phone, body)
	if sendErr == nil {
		if err := s.deliveries.MarkSent(rec.ID, res.ProviderMessageID); err != nil {
			return queue.Retryable(err)
		}
		if rec.BusinessInitiated {
			if err := s.quota.RecordSend(ctx, c.ChannelID); err != nil {
				s.logger.Error().Err(err).Str("channel_id", c.ChannelID).Msg("failed to record quota send")
			}
		}
		s.checkCompletion(c.ID)
		return nil
	}

	code, message := errDetail(sendErr)
	switch Classify(sendErr) {
	case ClassRateLimited:
		// Pacing signal, not a recipient problem: idle the pool, give the
		// attempt back and let the queue redeliver after the cool-down.
		s.logger.Warn().Int("campaign_id", c.ID).Str("code", code).
			Dur("cooldown", s.cfg.RateLimitCooldown).Msg("provider rate limit, pausing pool")
		s.pool.Pause(s.cfg.RateLimitCooldown)
		if err := s.deliveries.DecrementAttempts(rec.ID); err != nil {
			s.logger.Error().Err(err).Int("record_id", rec.ID).Msg("failed to give back attempt")
		}
		if err := s.deliveries.SetLastError(rec.ID, code, message); err != nil {
			s.logger.Error().Err(err).Int("record_id", rec.ID).Msg("failed to record error")
		}
		return queue.Retryable(sendErr)

	case ClassTransient:
		if attempts >= s.cfg.MaxAttempts {
			return s.fail(rec, c.ID, code, message, true)
		}
		if err := s.deliveries.SetLastError(rec.ID, code, message); err != nil {
			return queue.Retryable(err)
		}
		return queue.Retryable(sendErr)

	default: // permanent
		return s.fail(rec, c.ID, code, message, true)
	}
}

// fail terminates the record. One recipient's failure never fails the
// campaign; it only counts toward completion.
func (s *Sender) fail(rec *model.DeliveryRecord, campaignID int, code, message string, checkCompletion bool) error {
	if err := s.deliveries.MarkFailed(rec.ID, code, message); err != nil {
		return queue.Retryable(err)
	}
	s.logger.Info().Int("record_id", rec.ID).Int("campaign_id", campaignID).
		Str("code", code).Msg("delivery failed permanently")
	if checkCompletion {
		s.checkCompletion(campaignID)
	}
	return nil
}

// checkCompletion flips the campaign to completed once nothing is left in
// flight. The repository guard makes the flip race-safe when the last two
// jobs finish simultaneously.
func (s *Sender) checkCompletion(campaignID int) {
	remaining, err := s.deliveries.CountRemaining(campaignID)
	if err != nil {
		s.logger.Error().Err(err).Int("campaign_id", campaignID).Msg("completion check failed")
		return
	}
	if remaining > 0 {
		return
	}
	flipped, err := s.campaigns.MarkCompleted(campaignID)
	if err != nil {
		s.logger.Error().Err(err).Int("campaign_id", campaignID).Msg("failed to complete campaign")
		return
	}
	if flipped {
		s.logger.Info().Int("campaign_id", campaignID).Msg("campaign completed")
	}
}
