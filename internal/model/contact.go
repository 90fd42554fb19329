package model

import "time"

// Contact is what the audience resolver hands back: enough to address a
// recipient and to decide which side of the conversation window they fall on.
type Contact struct {
	ID          int               `db:"id" json:"id"`
	TenantID    int               `db:"tenant_id" json:"tenant_id"`
	Phone       string            `db:"phone" json:"phone"`
	Name        string            `db:"name" json:"name"`
	Attributes  map[string]string `db:"attributes" json:"attributes,omitempty"`
	OptedOut    bool              `db:"opted_out" json:"opted_out"`
	Deactivated bool              `db:"deactivated" json:"deactivated"`

	// LastActivityAt is the last customer-initiated message; nil means the
	// contact has never written in.
	LastActivityAt *time.Time `db:"last_activity_at" json:"last_activity_at,omitempty"`
}
