package trigger

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

// CampaignStore lists the running campaigns subscribed to a trigger name.
// The subscription is resolved synchronously at fire time from the campaign
// table, not from registered callbacks, so matching stays testable.
type CampaignStore interface {
	ListRunningByTrigger(tenantID int, triggerName string) ([]*model.Campaign, error)
}

type ContactStore interface {
	GetByID(id int) (*model.Contact, error)
}

// SinglePlanner is the single-recipient planner path.
type SinglePlanner interface {
	LaunchSingle(ctx context.Context, campaignID, contactID int, businessInitiated bool, eventCtx map[string]string) error
}

// Event is an external business event fed into the pipeline.
type Event struct {
	TenantID  int               `json:"tenant_id"`
	ContactID int               `json:"contact_id"`
	Context   map[string]string `json:"context,omitempty"`

	// CustomerInitiated overrides the default: trigger sends usually fire
	// outside an open window and therefore count against quota.
	CustomerInitiated bool `json:"customer_initiated,omitempty"`
}

// Service fans business events out to matching running campaigns.
type Service struct {
	campaigns CampaignStore
	contacts  ContactStore
	planner   SinglePlanner
	logger    zerolog.Logger
}

func New(campaigns CampaignStore, contacts ContactStore, planner SinglePlanner, logger zerolog.Logger) *Service {
	return &Service{
		campaigns: campaigns,
		contacts:  contacts,
		planner:   planner,
		logger:    logger.With().Str("component", "trigger").Logger(),
	}
}

// Fire feeds one event into every matching campaign. A failure in one
// campaign never blocks the others; it is logged and the fan-out continues.
// Returns the number of campaigns the contact was fed into.
func (s *Service) Fire(ctx context.Context, triggerName string, event Event) (int, error) {
	campaigns, err := s.campaigns.ListRunningByTrigger(event.TenantID, triggerName)
	if err != nil {
		return 0, err
	}
	if len(campaigns) == 0 {
		return 0, nil
	}

	contact, err := s.contacts.GetByID(event.ContactID)
	if err != nil {
		return 0, err
	}
	if contact == nil || contact.OptedOut || contact.Deactivated {
		s.logger.Debug().Str("trigger", triggerName).Int("contact_id", event.ContactID).
			Msg("contact not eligible for trigger sends")
		return 0, nil
	}

	fed := 0
	for _, c := range campaigns {
		if !matchesContext(c, event.Context) {
			continue
		}
		err := s.planner.LaunchSingle(ctx, c.ID, contact.ID, !event.CustomerInitiated, event.Context)
		if err != nil {
			s.logger.Error().Err(err).Int("campaign_id", c.ID).Str("trigger", triggerName).
				Msg("trigger send failed for campaign")
			continue
		}
		fed++
	}

	s.logger.Info().Str("trigger", triggerName).Int("contact_id", contact.ID).
		Int("campaigns", fed).Msg("trigger fired")
	return fed, nil
}

// matchesContext applies the campaign's optional key/value narrowing.
func matchesContext(c *model.Campaign, eventCtx map[string]string) bool {
	if c.TriggerKey == "" {
		return true
	}
	return eventCtx[c.TriggerKey] == c.TriggerValue
}
