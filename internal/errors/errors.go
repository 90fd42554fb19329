package appErrors

import (
	"errors"
	"fmt"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidCampaignStatus is returned when an operation is attempted on a
// campaign whose status does not allow it (e.g. launching a running campaign).
type ErrInvalidCampaignStatus struct {
	CampaignID int
	Status     model.CampaignStatus
	Operation  string
}

func (e *ErrInvalidCampaignStatus) Error() string {
	return fmt.Sprintf("campaign %d cannot be %s in status %q", e.CampaignID, e.Operation, e.Status)
}

func NewInvalidCampaignStatus(id int, status model.CampaignStatus, op string) error {
	return &ErrInvalidCampaignStatus{CampaignID: id, Status: status, Operation: op}
}

// ErrQuotaExceeded blocks a launch whose out-of-window audience would overrun
// the channel's rolling 24h tier limit by more than the allowed overage. The
// campaign is left paused so an operator can shrink the audience or retry
// after the window rolls.
type ErrQuotaExceeded struct {
	ChannelID    string
	Requested    int
	Remaining    int
	TierLimit    int
	SentInWindow int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf(
		"quota exceeded for channel %s: requested %d but only %d of %d remain in the rolling 24h window (%d already sent)",
		e.ChannelID, e.Requested, e.Remaining, e.TierLimit, e.SentInWindow,
	)
}

// IsQuotaExceeded reports whether err is (or wraps) a quota refusal.
func IsQuotaExceeded(err error) bool {
	var qe *ErrQuotaExceeded
	return errors.As(err, &qe)
}

// ErrContactNotFound is a sentinel error
type ErrContactNotFound struct {
	ContactID int
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}
