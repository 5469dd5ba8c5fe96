package ident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findReplay(t *testing.T, store *memStore, observationID, taxonChangeID int64) *Identification {
	t.Helper()
	identifications, err := store.ListByObservation(context.Background(), observationID)
	require.NoError(t, err)
	for i := range identifications {
		if identifications[i].TaxonChangeID == taxonChangeID {
			return &identifications[i]
		}
	}
	t.Fatalf("no replay for observation %d and change %d", observationID, taxonChangeID)
	return nil
}

func TestTaxonChangeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		change TaxonChange
		valid  bool
	}{
		{"merge ok", TaxonChange{ID: 1, Type: ChangeMerge, InputTaxonIDs: []int64{1, 40}, OutputTaxonIDs: []int64{50}}, true},
		{"merge single input", TaxonChange{ID: 1, Type: ChangeMerge, InputTaxonIDs: []int64{1}, OutputTaxonIDs: []int64{50}}, false},
		{"merge two outputs", TaxonChange{ID: 1, Type: ChangeMerge, InputTaxonIDs: []int64{1, 40}, OutputTaxonIDs: []int64{50, 51}}, false},
		{"split missing resolver", TaxonChange{ID: 1, Type: ChangeSplit, InputTaxonIDs: []int64{1}, OutputTaxonIDs: []int64{2, 40}}, false},
		{"swap ok", TaxonChange{ID: 1, Type: ChangeSwap, InputTaxonIDs: []int64{3}, OutputTaxonIDs: []int64{4}}, true},
		{"swap two inputs", TaxonChange{ID: 1, Type: ChangeSwap, InputTaxonIDs: []int64{3, 4}, OutputTaxonIDs: []int64{4}}, false},
		{"missing id", TaxonChange{Type: ChangeSwap, InputTaxonIDs: []int64{3}, OutputTaxonIDs: []int64{4}}, false},
		{"unknown type", TaxonChange{ID: 1, Type: "graft", InputTaxonIDs: []int64{3}, OutputTaxonIDs: []int64{4}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			change := tc.change
			err := change.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestApplyTaxonChangeMerge(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(50, 10)
	oracle.Deactivate(1, 50)
	oracle.Deactivate(40, 50)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	base := time.Now()
	old1 := seedIdentification(t, store, 1, 7, 1, base)
	old2 := seedIdentification(t, store, 2, 8, 40, base)

	result, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             500,
		Type:           ChangeMerge,
		InputTaxonIDs:  []int64{1, 40},
		OutputTaxonIDs: []int64{50},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 2, result.Observations)

	replay := findReplay(t, store, 1, 500)
	assert.Equal(t, int64(50), replay.TaxonID)
	assert.True(t, replay.Current)
	assert.False(t, replay.IsDisagreement())

	superseded, err := store.GetIdentification(ctx, old1.ID)
	require.NoError(t, err)
	assert.False(t, superseded.Current)
	superseded, err = store.GetIdentification(ctx, old2.ID)
	require.NoError(t, err)
	assert.False(t, superseded.Current)

	assert.Equal(t, 1, store.currentCount(1, 7))
	assert.Equal(t, 1, store.currentCount(2, 8))
}

func TestApplyTaxonChangeIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(50, 10)
	oracle.Deactivate(1, 50)
	oracle.Deactivate(40, 50)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	seedIdentification(t, store, 1, 7, 1, time.Now())
	change := &TaxonChange{
		ID:             500,
		Type:           ChangeMerge,
		InputTaxonIDs:  []int64{1, 40},
		OutputTaxonIDs: []int64{50},
	}

	first, err := engine.ApplyTaxonChange(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Replayed)

	second, err := engine.ApplyTaxonChange(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Replayed)
	assert.Equal(t, 0, second.Observations)

	identifications, err := store.ListByObservation(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, identifications, 2)
}

func TestApplyTaxonChangeSkipsExistingReplay(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(50, 10)
	oracle.Deactivate(1, 50)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	// An interrupted earlier run left the replay superseded while the input
	// identification is still current; re-running must not replay again.
	current := seedIdentification(t, store, 1, 7, 1, time.Now())
	require.NoError(t, store.Insert(ctx, &Identification{
		ObservationID: 1,
		UserID:        7,
		TaxonID:       50,
		TaxonChangeID: 500,
	}))

	result, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             500,
		Type:           ChangeSwap,
		InputTaxonIDs:  []int64{1},
		OutputTaxonIDs: []int64{50},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
	assert.Equal(t, 1, result.Skipped)

	unchanged, err := store.GetIdentification(ctx, current.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Current)
}

func TestApplyTaxonChangeCarriesResolvableDisagreement(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(4, 100)
	oracle.Deactivate(3, 4)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	// Previous taxon 1 is still active, so the disagreement survives the
	// swap with its reference intact.
	disagreeing := &Identification{
		ObservationID:              3,
		UserID:                     9,
		TaxonID:                    3,
		PreviousObservationTaxonID: 1,
		Disagreement:               boolPtr(true),
		DisagreementType:           DisagreementImplicit,
		CreatedAt:                  time.Now(),
	}
	require.NoError(t, store.InsertCurrent(ctx, disagreeing))

	_, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             501,
		Type:           ChangeSwap,
		InputTaxonIDs:  []int64{3},
		OutputTaxonIDs: []int64{4},
	})
	require.NoError(t, err)

	replay := findReplay(t, store, 3, 501)
	assert.Equal(t, int64(4), replay.TaxonID)
	assert.True(t, replay.IsDisagreement())
	assert.Equal(t, int64(1), replay.PreviousObservationTaxonID)
	assert.Equal(t, DisagreementNone, replay.DisagreementType, "carried disagreements keep their type unset")
}

func TestApplyTaxonChangeClearsUnresolvableDisagreement(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(4, 100)
	oracle.Deactivate(3, 4)
	oracle.Deactivate(40, 0)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	// Previous taxon 40 is retired without a current synonym; the replay
	// cannot state what was disagreed with and is created as a plain
	// non-disagreement.
	disagreeing := &Identification{
		ObservationID:              3,
		UserID:                     9,
		TaxonID:                    3,
		PreviousObservationTaxonID: 40,
		Disagreement:               boolPtr(true),
		DisagreementType:           DisagreementImplicit,
		CreatedAt:                  time.Now(),
	}
	require.NoError(t, store.InsertCurrent(ctx, disagreeing))

	_, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             501,
		Type:           ChangeSwap,
		InputTaxonIDs:  []int64{3},
		OutputTaxonIDs: []int64{4},
	})
	require.NoError(t, err)

	replay := findReplay(t, store, 3, 501)
	assert.False(t, replay.IsDisagreement())
	require.NotNil(t, replay.Disagreement)
	assert.False(t, *replay.Disagreement)
	assert.Zero(t, replay.PreviousObservationTaxonID)
}

func TestApplyTaxonChangeSwapRewritesDisagreementReferences(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.AddTaxon(4, 100)
	oracle.Deactivate(3, 4)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	// A current disagreement pointing at the swapped taxon is repointed at
	// the output even though its own taxon is untouched by the change.
	bystander := &Identification{
		ObservationID:              5,
		UserID:                     9,
		TaxonID:                    2,
		PreviousObservationTaxonID: 3,
		Disagreement:               boolPtr(true),
		DisagreementType:           DisagreementImplicit,
		CreatedAt:                  time.Now(),
	}
	require.NoError(t, store.InsertCurrent(ctx, bystander))

	result, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             502,
		Type:           ChangeSwap,
		InputTaxonIDs:  []int64{3},
		OutputTaxonIDs: []int64{4},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rewritten)
	assert.Equal(t, 0, result.Cleared)
	assert.Equal(t, 1, result.Observations, "rewritten observations are recategorized")

	updated, err := store.GetIdentification(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.PreviousObservationTaxonID)
	assert.True(t, updated.IsDisagreement())
}

func TestApplyTaxonChangeSplit(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.Deactivate(1, 0)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	base := time.Now()
	seedIdentification(t, store, 1, 7, 1, base)
	seedIdentification(t, store, 2, 8, 1, base)

	// A bystander disagreement referencing the split taxon loses its
	// reference; post-split the intended target is unknowable.
	bystander := &Identification{
		ObservationID:              5,
		UserID:                     9,
		TaxonID:                    3,
		PreviousObservationTaxonID: 1,
		Disagreement:               boolPtr(true),
		DisagreementType:           DisagreementImplicit,
		CreatedAt:                  base,
	}
	require.NoError(t, store.InsertCurrent(ctx, bystander))

	destinations := map[int64]int64{1: 2, 2: 40}
	result, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             503,
		Type:           ChangeSplit,
		InputTaxonIDs:  []int64{1},
		OutputTaxonIDs: []int64{2, 40},
		OutputFor: func(ctx context.Context, identification *Identification) (int64, bool, error) {
			output, ok := destinations[identification.ObservationID]
			return output, ok, nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, 1, result.Cleared)
	assert.Equal(t, 0, result.Rewritten)
	assert.Equal(t, 3, result.Observations)

	assert.Equal(t, int64(2), findReplay(t, store, 1, 503).TaxonID)
	assert.Equal(t, int64(40), findReplay(t, store, 2, 503).TaxonID)

	updated, err := store.GetIdentification(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.Disagreement)
	assert.False(t, updated.IsDisagreement())
}

func TestApplyTaxonChangeSplitSkipsUnresolvedRecords(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	oracle := testHierarchy()
	oracle.Deactivate(1, 0)
	engine := NewEngine(store, oracle, newFakeConsensus())
	ctx := context.Background()

	kept := seedIdentification(t, store, 1, 7, 1, time.Now())

	result, err := engine.ApplyTaxonChange(ctx, &TaxonChange{
		ID:             504,
		Type:           ChangeSplit,
		InputTaxonIDs:  []int64{1},
		OutputTaxonIDs: []int64{2, 40},
		OutputFor: func(ctx context.Context, identification *Identification) (int64, bool, error) {
			return 0, false, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
	assert.Equal(t, 1, result.Skipped)

	unchanged, err := store.GetIdentification(ctx, kept.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Current)
}
