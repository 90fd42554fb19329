package audience

import (
	"time"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

// Split partitions a resolved audience by the conversation window. Contacts
// whose last customer-initiated activity is newer than now-window can still be
// replied to for free; everyone else (including contacts with no recorded
// activity) requires a business-initiated send that consumes quota.
//
// Pure function: the two slices are disjoint and together cover the input.
func Split(contacts []model.Contact, window time.Duration, now time.Time) (inWindow, outOfWindow []model.Contact) {
	cutoff := now.Add(-window)
	for _, c := range contacts {
		if c.LastActivityAt != nil && c.LastActivityAt.After(cutoff) {
			inWindow = append(inWindow, c)
		} else {
			outOfWindow = append(outOfWindow, c)
		}
	}
	return inWindow, outOfWindow
}
