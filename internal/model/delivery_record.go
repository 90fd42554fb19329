package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the success path so receipt updates can only move a
// record forward, never backward.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliveryQueued:    1,
	DeliverySent:      2,
	DeliveryDelivered: 3,
	DeliveryRead:      4,
}

// CanAdvanceTo reports whether a receipt may move a record from s to next.
// Failed is terminal, and the success chain is strictly forward.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == DeliveryFailed {
		return false
	}
	cur, ok := deliveryRank[s]
	if !ok {
		return false
	}
	nxt, ok := deliveryRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// IsTerminal reports whether the record has left the pipeline. Sent counts as
// terminal for completion detection; delivered/read only refine it.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySent || s == DeliveryDelivered || s == DeliveryRead || s == DeliveryFailed
}

// DeliveryRecord is the per-recipient row of a campaign. Exactly one exists
// per (campaign, contact) pair.
type DeliveryRecord struct {
	ID                int            `db:"id" json:"id"`
	CampaignID        int            `db:"campaign_id" json:"campaign_id"`
	ContactID         int            `db:"contact_id" json:"contact_id"`
	Phone             string         `db:"phone" json:"phone"`
	Status            DeliveryStatus `db:"status" json:"status"`
	Attempts          int            `db:"attempts" json:"attempts"`
	BusinessInitiated bool           `db:"business_initiated" json:"business_initiated"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastErrorCode     string         `db:"last_error_code" json:"last_error_code,omitempty"`
	LastErrorMessage  string         `db:"last_error_message" json:"last_error_message,omitempty"`
	SentAt            *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time     `db:"read_at" json:"read_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}
