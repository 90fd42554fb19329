package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/chatnationwork/broadcast-backend/internal/errors"
	"github.com/chatnationwork/broadcast-backend/internal/model"
	"github.com/chatnationwork/broadcast-backend/internal/queue"
	"github.com/chatnationwork/broadcast-backend/internal/send"
)

type fakeCampaigns struct {
	mu        sync.Mutex
	campaign  *model.Campaign
	completed int
	statuses  []model.CampaignStatus
}

func (f *fakeCampaigns) GetByID(id int) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaign == nil || f.campaign.ID != id {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	c := *f.campaign
	return &c, nil
}

func (f *fakeCampaigns) MarkCompleted(campaignID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaign.Status != model.CampaignRunning {
		return false, nil
	}
	f.campaign.Status = model.CampaignCompleted
	f.completed++
	return true, nil
}

func (f *fakeCampaigns) UpdateStatus(campaignID int, status model.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaign.Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeDeliveries struct {
	mu        sync.Mutex
	records   map[int]*model.DeliveryRecord
	remaining int
	lastCode  string
	lastMsg   string
}

func newFakeDeliveries(recs ...*model.DeliveryRecord) *fakeDeliveries {
	f := &fakeDeliveries{records: make(map[int]*model.DeliveryRecord), remaining: len(recs)}
	for _, rec := range recs {
		f.records[rec.ID] = rec
	}
	return f
}

func (f *fakeDeliveries) GetByID(id int) (*model.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (f *fakeDeliveries) IncrementAttempts(id int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].Attempts++
	return f.records[id].Attempts, nil
}

func (f *fakeDeliveries) DecrementAttempts(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[id].Attempts > 0 {
		f.records[id].Attempts--
	}
	return nil
}

func (f *fakeDeliveries) MarkSent(id int, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].Status = model.DeliverySent
	f.records[id].ProviderMessageID = providerMessageID
	f.remaining--
	return nil
}

func (f *fakeDeliveries) MarkFailed(id int, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].Status = model.DeliveryFailed
	f.records[id].LastErrorCode = code
	f.records[id].LastErrorMessage = message
	f.remaining--
	return nil
}

func (f *fakeDeliveries) SetLastError(id int, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCode = code
	f.lastMsg = message
	return nil
}

func (f *fakeDeliveries) CountRemaining(campaignID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, nil
}

type fakeContacts struct {
	byID map[int]*model.Contact
}

func (f *fakeContacts) GetByID(id int) (*model.Contact, error) {
	return f.byID[id], nil
}

type fakeQuota struct {
	mu        sync.Mutex
	remaining bool
	recorded  int
}

func (f *fakeQuota) HasRemaining(ctx context.Context, channelID string) (bool, error) {
	return f.remaining, nil
}

func (f *fakeQuota) RecordSend(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded++
	return nil
}

type fakePauser struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (f *fakePauser) Pause(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, d)
}

type senderFixture struct {
	campaigns  *fakeCampaigns
	deliveries *fakeDeliveries
	contacts   *fakeContacts
	quota      *fakeQuota
	client     *send.SandboxClient
	pool       *fakePauser
	sender     *Sender
}

func newSenderFixture(t *testing.T, recs ...*model.DeliveryRecord) *senderFixture {
	t.Helper()
	f := &senderFixture{
		campaigns: &fakeCampaigns{campaign: &model.Campaign{
			ID:        1,
			TenantID:  10,
			ChannelID: "chan-a",
			Status:    model.CampaignRunning,
			Template:  "Hi {{name|there}}",
		}},
		deliveries: newFakeDeliveries(recs...),
		contacts: &fakeContacts{byID: map[int]*model.Contact{
			101: {ID: 101, Phone: "+31611111111", Name: "Fatima"},
		}},
		quota:  &fakeQuota{remaining: true},
		client: send.NewSandboxClient(),
		pool:   &fakePauser{},
	}
	f.sender = NewSender(f.campaigns, f.deliveries, f.contacts, f.quota, f.client, f.pool,
		Config{MaxAttempts: 3, RateLimitCooldown: 30 * time.Second}, zerolog.Nop())
	return f
}

func pendingRecord(id int) *model.DeliveryRecord {
	return &model.DeliveryRecord{
		ID:         id,
		CampaignID: 1,
		ContactID:  101,
		Phone:      "+31611111111",
		Status:     model.DeliveryQueued,
	}
}

func TestHandleSuccessMarksSentAndCompletes(t *testing.T) {
	rec := pendingRecord(5)
	rec.BusinessInitiated = true
	f := newSenderFixture(t, rec)

	err := f.sender.Handle(context.Background(), queue.NewJob(5, 1))
	require.NoError(t, err)

	assert.Equal(t, model.DeliverySent, f.deliveries.records[5].Status)
	assert.NotEmpty(t, f.deliveries.records[5].ProviderMessageID)
	assert.Equal(t, 1, f.quota.recorded, "business-initiated send consumes quota")
	assert.Equal(t, model.CampaignCompleted, f.campaigns.campaign.Status, "last record completes the campaign")

	sent := f.client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi Fatima", sent[0].Body)
}

func TestHandleInWindowSendSkipsQuota(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.quota.remaining = false // must not matter for in-window sends

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Equal(t, model.DeliverySent, f.deliveries.records[5].Status)
	assert.Zero(t, f.quota.recorded)
}

func TestHandleMissingRecordDropsJob(t *testing.T) {
	f := newSenderFixture(t)
	assert.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(404, 1)))
}

func TestHandleTerminalRecordDropsJob(t *testing.T) {
	rec := pendingRecord(5)
	rec.Status = model.DeliverySent
	f := newSenderFixture(t, rec)

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Empty(t, f.client.Sent(), "redelivered settled record must not send again")
}

func TestHandleNonRunningCampaignDropsJob(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.campaigns.campaign.Status = model.CampaignCancelled

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Empty(t, f.client.Sent())
	assert.Equal(t, model.DeliveryQueued, f.deliveries.records[5].Status)
}

func TestHandleQuotaExhaustedPausesCampaign(t *testing.T) {
	rec := pendingRecord(5)
	rec.BusinessInitiated = true
	f := newSenderFixture(t, rec)
	f.quota.remaining = false

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))

	assert.Equal(t, model.CampaignPaused, f.campaigns.campaign.Status)
	assert.Equal(t, model.DeliveryFailed, f.deliveries.records[5].Status)
	assert.Equal(t, "quota_exhausted", f.deliveries.records[5].LastErrorCode)
	assert.Empty(t, f.client.Sent())
}

func TestHandleRateLimitPausesPoolAndRetries(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.client.FailWith("+31611111111", "429", "Too Many Requests")

	err := f.sender.Handle(context.Background(), queue.NewJob(5, 1))
	require.Error(t, err)
	assert.True(t, queue.IsRetryable(err))

	require.Len(t, f.pool.pauses, 1)
	assert.Equal(t, 30*time.Second, f.pool.pauses[0])
	assert.Equal(t, 0, f.deliveries.records[5].Attempts, "rate limit gives the attempt back")
	assert.Equal(t, "429", f.deliveries.lastCode)
	assert.Equal(t, model.DeliveryQueued, f.deliveries.records[5].Status, "record stays in flight")
}

func TestHandleTransientErrorRetriesWithinBudget(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.client.FailWith("+31611111111", "503", "service unavailable")

	err := f.sender.Handle(context.Background(), queue.NewJob(5, 1))
	require.Error(t, err)
	assert.True(t, queue.IsRetryable(err))
	assert.Equal(t, 1, f.deliveries.records[5].Attempts)
	assert.Equal(t, model.DeliveryQueued, f.deliveries.records[5].Status)
}

func TestHandleTransientErrorExhaustsBudget(t *testing.T) {
	rec := pendingRecord(5)
	rec.Attempts = 2 // this delivery is the third and last attempt
	f := newSenderFixture(t, rec)
	f.client.FailWith("+31611111111", "503", "service unavailable")

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Equal(t, model.DeliveryFailed, f.deliveries.records[5].Status)
	assert.Equal(t, "503", f.deliveries.records[5].LastErrorCode)
	assert.Equal(t, model.CampaignCompleted, f.campaigns.campaign.Status,
		"failed last record still completes the campaign")
}

func TestHandlePermanentErrorFailsImmediately(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.client.FailWith("+31611111111", "131026", "recipient cannot receive messages")

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Equal(t, model.DeliveryFailed, f.deliveries.records[5].Status)
	assert.Equal(t, 1, f.deliveries.records[5].Attempts, "no retry for permanent errors")
	assert.Empty(t, f.pool.pauses)
}

func TestHandleMissingContactFailsRecord(t *testing.T) {
	f := newSenderFixture(t, pendingRecord(5))
	f.contacts.byID = map[int]*model.Contact{}

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Equal(t, model.DeliveryFailed, f.deliveries.records[5].Status)
	assert.Equal(t, "contact_missing", f.deliveries.records[5].LastErrorCode)
}

func TestHandleCompletionFlipsOnce(t *testing.T) {
	recA := pendingRecord(5)
	recB := pendingRecord(6)
	f := newSenderFixture(t, recA, recB)

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(5, 1)))
	assert.Equal(t, model.CampaignRunning, f.campaigns.campaign.Status, "one record still in flight")

	require.NoError(t, f.sender.Handle(context.Background(), queue.NewJob(6, 1)))
	assert.Equal(t, model.CampaignCompleted, f.campaigns.campaign.Status)
	assert.Equal(t, 1, f.campaigns.completed)
}
