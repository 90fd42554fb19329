package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

type fakeStore struct {
	due []*model.Campaign
	err error
}

func (f *fakeStore) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	return f.due, f.err
}

type fakeLauncher struct {
	launched []int
	failOn   map[int]error
}

func (f *fakeLauncher) Launch(ctx context.Context, id int) error {
	if err := f.failOn[id]; err != nil {
		return err
	}
	f.launched = append(f.launched, id)
	return nil
}

func TestScanLaunchesDueCampaigns(t *testing.T) {
	store := &fakeStore{due: []*model.Campaign{{ID: 1}, {ID: 2}}}
	launcher := &fakeLauncher{}

	s := New(store, launcher, time.Minute, zerolog.Nop())
	s.Scan(context.Background())

	assert.Equal(t, []int{1, 2}, launcher.launched)
}

func TestScanContinuesPastLaunchFailure(t *testing.T) {
	store := &fakeStore{due: []*model.Campaign{{ID: 1}, {ID: 2}, {ID: 3}}}
	launcher := &fakeLauncher{failOn: map[int]error{2: errors.New("quota refused")}}

	s := New(store, launcher, time.Minute, zerolog.Nop())
	s.Scan(context.Background())

	assert.Equal(t, []int{1, 3}, launcher.launched)
}

func TestScanSurvivesStoreError(t *testing.T) {
	launcher := &fakeLauncher{}
	s := New(&fakeStore{err: errors.New("db down")}, launcher, time.Minute, zerolog.Nop())
	s.Scan(context.Background())
	assert.Empty(t, launcher.launched)
}
