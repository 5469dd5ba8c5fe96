package ident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedIdentification(t *testing.T, store *memStore, observationID, userID, taxonID int64, createdAt time.Time) *Identification {
	t.Helper()
	identification := &Identification{
		ObservationID: observationID,
		UserID:        userID,
		TaxonID:       taxonID,
		CreatedAt:     createdAt,
	}
	require.NoError(t, store.InsertCurrent(context.Background(), identification))
	return identification
}

func TestMarkCurrentDemotesOthers(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	tracker := NewCurrencyTracker(store, nil)
	ctx := context.Background()

	base := time.Now()
	first := seedIdentification(t, store, 1, 7, 1, base)
	second := seedIdentification(t, store, 1, 7, 2, base.Add(time.Minute))

	require.NoError(t, tracker.MarkCurrent(ctx, 1, 7, first.ID))

	assert.Equal(t, 1, store.currentCount(1, 7))
	restored, err := store.GetIdentification(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, restored.Current)
	demoted, err := store.GetIdentification(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, demoted.Current)
}

func TestMarkCurrentAbsorbsConflict(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	conflicts := 0
	tracker := NewCurrencyTracker(&conflictingStore{memStore: store}, nil)
	tracker.SetConflictHook(func() { conflicts++ })
	ctx := context.Background()

	first := seedIdentification(t, store, 1, 7, 1, time.Now())

	// The concurrent winner's currency stands; no error surfaces.
	require.NoError(t, tracker.MarkCurrent(ctx, 1, 7, first.ID))
	assert.Equal(t, 1, conflicts)
}

// conflictingStore wraps memStore and loses every MarkCurrent race.
type conflictingStore struct {
	*memStore
}

func (s *conflictingStore) MarkCurrent(ctx context.Context, observationID, userID, id int64) error {
	return ErrCurrencyConflict
}

func TestWithdrawLeavesNoCurrent(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	tracker := NewCurrencyTracker(store, nil)
	ctx := context.Background()

	identification := seedIdentification(t, store, 1, 7, 1, time.Now())

	require.NoError(t, tracker.Withdraw(ctx, identification.ID))
	assert.Equal(t, 0, store.currentCount(1, 7))
}

func TestRestoreCurrencyPicksMostRecent(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	tracker := NewCurrencyTracker(store, nil)
	ctx := context.Background()

	base := time.Now()
	older := seedIdentification(t, store, 1, 7, 1, base)
	newer := seedIdentification(t, store, 1, 7, 2, base.Add(time.Hour))
	require.NoError(t, store.DeleteIdentification(ctx, newer.ID))

	promotedID, ok, err := tracker.RestoreCurrency(ctx, 1, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, older.ID, promotedID)
	assert.Equal(t, 1, store.currentCount(1, 7))
}

func TestRestoreCurrencyTieBreaksOnID(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	tracker := NewCurrencyTracker(store, nil)
	ctx := context.Background()

	created := time.Now()
	seedIdentification(t, store, 1, 7, 1, created)
	second := seedIdentification(t, store, 1, 7, 2, created)
	require.NoError(t, store.Demote(ctx, second.ID))

	promotedID, ok, err := tracker.RestoreCurrency(ctx, 1, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second.ID, promotedID)
}

func TestRestoreCurrencyEmptyPairIsNotError(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	tracker := NewCurrencyTracker(store, nil)

	promotedID, ok, err := tracker.RestoreCurrency(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, promotedID)
}
