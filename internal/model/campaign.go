package model

import (
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// IsLaunchable reports whether the planner may pick the campaign up.
func (s CampaignStatus) IsLaunchable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// IsTerminal reports whether no further status transitions are allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignCancelled
}

type Campaign struct {
	ID             int             `db:"id" json:"id"`
	TenantID       int             `db:"tenant_id" json:"tenant_id"`
	Name           string          `db:"name" json:"name"`
	ChannelID      string          `db:"channel_id" json:"channel_id"`
	Status         CampaignStatus  `db:"status" json:"status"`
	Template       string          `db:"template" json:"template"`
	AudienceFilter json.RawMessage `db:"audience_filter" json:"audience_filter,omitempty"`

	// TriggerName links the campaign to an external business event. An
	// optional key/value pair further narrows which events match.
	TriggerName  string `db:"trigger_name" json:"trigger_name,omitempty"`
	TriggerKey   string `db:"trigger_key" json:"trigger_key,omitempty"`
	TriggerValue string `db:"trigger_value" json:"trigger_value,omitempty"`

	// RecipientCount is a snapshot taken when the campaign enters running
	// and is fixed from then on.
	RecipientCount int `db:"recipient_count" json:"recipient_count"`

	ScheduledAt           *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt             *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	EstimatedCompletionAt *time.Time `db:"estimated_completion_at" json:"estimated_completion_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
