package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatusForwardOnly(t *testing.T) {
	assert.True(t, DeliverySent.CanAdvanceTo(DeliveryDelivered))
	assert.True(t, DeliverySent.CanAdvanceTo(DeliveryRead))
	assert.True(t, DeliveryDelivered.CanAdvanceTo(DeliveryRead))

	assert.False(t, DeliveryDelivered.CanAdvanceTo(DeliverySent))
	assert.False(t, DeliveryRead.CanAdvanceTo(DeliveryDelivered))
	assert.False(t, DeliverySent.CanAdvanceTo(DeliverySent))
	assert.False(t, DeliveryFailed.CanAdvanceTo(DeliveryDelivered))
}

func TestDeliveryStatusTerminal(t *testing.T) {
	assert.False(t, DeliveryPending.IsTerminal())
	assert.False(t, DeliveryQueued.IsTerminal())
	assert.True(t, DeliverySent.IsTerminal())
	assert.True(t, DeliveryDelivered.IsTerminal())
	assert.True(t, DeliveryRead.IsTerminal())
	assert.True(t, DeliveryFailed.IsTerminal())
}

func TestCampaignStatusPredicates(t *testing.T) {
	assert.True(t, CampaignDraft.IsLaunchable())
	assert.True(t, CampaignScheduled.IsLaunchable())
	assert.False(t, CampaignRunning.IsLaunchable())
	assert.False(t, CampaignPaused.IsLaunchable())

	assert.True(t, CampaignCompleted.IsTerminal())
	assert.True(t, CampaignCancelled.IsTerminal())
	assert.False(t, CampaignPaused.IsTerminal())
}
