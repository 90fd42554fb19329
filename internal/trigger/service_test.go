package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

type fakeCampaigns struct {
	byTrigger map[string][]*model.Campaign
}

func (f *fakeCampaigns) ListRunningByTrigger(tenantID int, name string) ([]*model.Campaign, error) {
	return f.byTrigger[name], nil
}

type fakeContacts struct {
	contact *model.Contact
}

func (f *fakeContacts) GetByID(id int) (*model.Contact, error) {
	if f.contact == nil || f.contact.ID != id {
		return nil, nil
	}
	return f.contact, nil
}

type singleCall struct {
	campaignID        int
	contactID         int
	businessInitiated bool
	eventCtx          map[string]string
}

type fakePlanner struct {
	calls  []singleCall
	failOn map[int]error
}

func (f *fakePlanner) LaunchSingle(ctx context.Context, campaignID, contactID int, businessInitiated bool, eventCtx map[string]string) error {
	if err := f.failOn[campaignID]; err != nil {
		return err
	}
	f.calls = append(f.calls, singleCall{campaignID, contactID, businessInitiated, eventCtx})
	return nil
}

func triggerCampaign(id int, key, value string) *model.Campaign {
	return &model.Campaign{
		ID:           id,
		TenantID:     10,
		Status:       model.CampaignRunning,
		TriggerName:  "order.shipped",
		TriggerKey:   key,
		TriggerValue: value,
	}
}

func TestFireFeedsMatchingCampaigns(t *testing.T) {
	campaigns := &fakeCampaigns{byTrigger: map[string][]*model.Campaign{
		"order.shipped": {
			triggerCampaign(1, "", ""),
			triggerCampaign(2, "carrier", "postnl"),
			triggerCampaign(3, "carrier", "dhl"),
		},
	}}
	contacts := &fakeContacts{contact: &model.Contact{ID: 101, TenantID: 10, Phone: "+31611111111"}}
	planner := &fakePlanner{}

	svc := New(campaigns, contacts, planner, zerolog.Nop())
	fed, err := svc.Fire(context.Background(), "order.shipped", Event{
		TenantID:  10,
		ContactID: 101,
		Context:   map[string]string{"carrier": "postnl", "order_id": "A-1042"},
	})
	require.NoError(t, err)

	// campaign 1 matches everything, campaign 2 matches the carrier, 3 does not
	assert.Equal(t, 2, fed)
	require.Len(t, planner.calls, 2)
	assert.True(t, planner.calls[0].businessInitiated, "trigger sends consume quota by default")
	assert.Equal(t, "A-1042", planner.calls[0].eventCtx["order_id"])
}

func TestFireCustomerInitiatedSkipsQuota(t *testing.T) {
	campaigns := &fakeCampaigns{byTrigger: map[string][]*model.Campaign{
		"support.reply": {triggerCampaign(1, "", "")},
	}}
	contacts := &fakeContacts{contact: &model.Contact{ID: 101, TenantID: 10}}
	planner := &fakePlanner{}

	svc := New(campaigns, contacts, planner, zerolog.Nop())
	fed, err := svc.Fire(context.Background(), "support.reply", Event{
		TenantID: 10, ContactID: 101, CustomerInitiated: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, fed)
	assert.False(t, planner.calls[0].businessInitiated)
}

func TestFireNoSubscribers(t *testing.T) {
	svc := New(&fakeCampaigns{}, &fakeContacts{}, &fakePlanner{}, zerolog.Nop())
	fed, err := svc.Fire(context.Background(), "nobody.cares", Event{TenantID: 10, ContactID: 101})
	require.NoError(t, err)
	assert.Zero(t, fed)
}

func TestFireIneligibleContact(t *testing.T) {
	campaigns := &fakeCampaigns{byTrigger: map[string][]*model.Campaign{
		"order.shipped": {triggerCampaign(1, "", "")},
	}}
	planner := &fakePlanner{}
	svc := New(campaigns, &fakeContacts{contact: &model.Contact{ID: 101, OptedOut: true}}, planner, zerolog.Nop())

	fed, err := svc.Fire(context.Background(), "order.shipped", Event{TenantID: 10, ContactID: 101})
	require.NoError(t, err)
	assert.Zero(t, fed)
	assert.Empty(t, planner.calls)
}

func TestFireUnknownContact(t *testing.T) {
	campaigns := &fakeCampaigns{byTrigger: map[string][]*model.Campaign{
		"order.shipped": {triggerCampaign(1, "", "")},
	}}
	svc := New(campaigns, &fakeContacts{}, &fakePlanner{}, zerolog.Nop())

	fed, err := svc.Fire(context.Background(), "order.shipped", Event{TenantID: 10, ContactID: 999})
	require.NoError(t, err)
	assert.Zero(t, fed)
}

func TestFireIsolatesCampaignFailures(t *testing.T) {
	campaigns := &fakeCampaigns{byTrigger: map[string][]*model.Campaign{
		"order.shipped": {
			triggerCampaign(1, "", ""),
			triggerCampaign(2, "", ""),
		},
	}}
	contacts := &fakeContacts{contact: &model.Contact{ID: 101, TenantID: 10}}
	planner := &fakePlanner{failOn: map[int]error{1: errors.New("db down")}}

	svc := New(campaigns, contacts, planner, zerolog.Nop())
	fed, err := svc.Fire(context.Background(), "order.shipped", Event{TenantID: 10, ContactID: 101})
	require.NoError(t, err)

	assert.Equal(t, 1, fed, "one campaign failing must not block the rest")
	require.Len(t, planner.calls, 1)
	assert.Equal(t, 2, planner.calls[0].campaignID)
}
