package ident

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *memStore, *fakeConsensus) {
	t.Helper()
	store := newMemStore()
	consensus := newFakeConsensus()
	engine := NewEngine(store, testHierarchy(), consensus)
	return engine, store, consensus
}

func TestCreateFirstIdentificationLeads(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	identification, err := engine.Create(ctx, &CreateRequest{
		ObservationID: 1,
		UserID:        7,
		TaxonID:       1,
	})
	require.NoError(t, err)

	assert.True(t, identification.Current)
	assert.NotEmpty(t, identification.UUID)
	assert.Zero(t, identification.PreviousObservationTaxonID)
	assert.False(t, identification.IsDisagreement())

	stored, err := store.GetIdentification(ctx, identification.ID)
	require.NoError(t, err)
	assert.Equal(t, CategoryLeading, stored.Category)
}

func TestCreateSupersedesOwnPriorIdentification(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	first, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 1})
	require.NoError(t, err)
	second, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, store.currentCount(1, 7))
	prior, err := store.GetIdentification(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, prior.Current)
	assert.True(t, second.Current)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing observation", CreateRequest{UserID: 7, TaxonID: 1}},
		{"missing user", CreateRequest{ObservationID: 1, TaxonID: 1}},
		{"missing taxon", CreateRequest{ObservationID: 1, UserID: 7}},
		{"unknown taxon", CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 12345}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := engine.Create(ctx, &req)
			assert.Error(t, err)
		})
	}
}

func TestCreateReplacesInactiveTaxon(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	consensus := newFakeConsensus()
	oracle := testHierarchy()
	oracle.Deactivate(40, 1)
	engine := NewEngine(store, oracle, consensus)
	ctx := context.Background()
	consensus.observer[1] = 7

	identification, err := engine.Create(ctx, &CreateRequest{
		ObservationID: 1,
		UserID:        7,
		TaxonID:       40,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), identification.TaxonID)
}

func TestCreateImplicitDisagreementAgainstCommunity(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7
	consensus.setCommunity(1, 1)

	_, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 1})
	require.NoError(t, err)

	// A second user asserts an unrelated branch; the previous observation
	// taxon is the community taxon, so the disagreement is implicit and
	// the identification lands maverick.
	maverick, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 8, TaxonID: 3})
	require.NoError(t, err)

	assert.True(t, maverick.IsDisagreement())
	assert.Equal(t, DisagreementImplicit, maverick.DisagreementType)
	assert.Equal(t, int64(1), maverick.PreviousObservationTaxonID)

	stored, err := store.GetIdentification(ctx, maverick.ID)
	require.NoError(t, err)
	assert.Equal(t, CategoryMaverick, stored.Category)
}

func TestCreateExplicitBranchDisagreement(t *testing.T) {
	t.Parallel()
	engine, _, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7
	consensus.setCommunity(1, 2)

	identification, err := engine.Create(ctx, &CreateRequest{
		ObservationID:        1,
		UserID:               7,
		TaxonID:              10,
		ExplicitDisagreement: true,
	})
	require.NoError(t, err)
	assert.True(t, identification.IsDisagreement())
	assert.Equal(t, DisagreementBranch, identification.DisagreementType)
}

func TestCreateAbsorbsCurrencyRace(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7
	store.failNextInsertCurrent = true

	identification, err := engine.Create(ctx, &CreateRequest{
		ObservationID: 1,
		UserID:        7,
		TaxonID:       1,
	})
	require.NoError(t, err)
	assert.False(t, identification.Current)

	stored, err := store.GetIdentification(ctx, identification.ID)
	require.NoError(t, err)
	assert.False(t, stored.Current)
}

func TestCreatePreviousTaxonFallsBackToLatestIdentification(t *testing.T) {
	t.Parallel()
	engine, _, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	// No community taxon and no observation taxon; the previous taxon for
	// the second user comes from the most recent existing identification.
	_, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 2})
	require.NoError(t, err)

	second, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 8, TaxonID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.PreviousObservationTaxonID)
}

func TestCreatePreviousTaxonFromObservationWhenOptedOut(t *testing.T) {
	t.Parallel()
	engine, _, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7
	consensus.optedOut[1] = true
	consensus.obsTaxon[1] = 2
	consensus.setCommunity(1, 3)

	identification, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 8, TaxonID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), identification.PreviousObservationTaxonID)
}

func TestWithdrawAndRestore(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	identification, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 1})
	require.NoError(t, err)

	require.NoError(t, engine.Withdraw(ctx, identification.ID))
	assert.Equal(t, 0, store.currentCount(1, 7))

	require.NoError(t, engine.Restore(ctx, identification.ID))
	assert.Equal(t, 1, store.currentCount(1, 7))
}

func TestDeleteRestoresCurrencyToRemaining(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	first, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 1})
	require.NoError(t, err)
	second, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 2})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, second.ID))

	restored, err := store.GetIdentification(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, restored.Current)
	assert.Equal(t, 1, store.currentCount(1, 7))
}

func TestDeleteLastIdentificationLeavesEmptyPair(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	identification, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: 1})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, identification.ID))
	assert.Equal(t, 0, store.currentCount(1, 7))

	remaining, err := store.ListByObservation(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCurrencyUniquenessUnderSequenceOfWrites(t *testing.T) {
	t.Parallel()
	engine, store, consensus := newTestEngine(t)
	ctx := context.Background()
	consensus.observer[1] = 7

	taxa := []int64{1, 2, 10, 40, 3}
	var last *Identification
	for _, taxonID := range taxa {
		identification, err := engine.Create(ctx, &CreateRequest{ObservationID: 1, UserID: 7, TaxonID: taxonID})
		require.NoError(t, err)
		last = identification
	}
	require.NoError(t, engine.Delete(ctx, last.ID))

	assert.LessOrEqual(t, store.currentCount(1, 7), 1)
}

func TestRecomputeCategoriesEmptyObservation(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t)

	assignment, err := engine.RecomputeCategories(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, assignment)
}

func TestInAgreementWith(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	agrees, err := engine.InAgreementWith(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, agrees, "descendant agrees with ancestor")

	agrees, err = engine.InAgreementWith(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, agrees, "ancestor does not agree with descendant")

	agrees, err = engine.InAgreementWith(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, agrees)
}

func TestUpdateDisagreementsForTaxon(t *testing.T) {
	t.Parallel()
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// Identification asserting taxon 2 disagrees with taxon 10; after a
	// grafting move taxon 10 is an ancestor of taxon 2, so the
	// disagreement no longer holds.
	identification := &Identification{
		ObservationID:              1,
		UserID:                     7,
		TaxonID:                    2,
		PreviousObservationTaxonID: 10,
		Disagreement:               boolPtr(true),
		DisagreementType:           DisagreementImplicit,
	}
	require.NoError(t, store.InsertCurrent(ctx, identification))

	cleared, err := engine.UpdateDisagreementsForTaxon(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	stored, err := store.GetIdentification(ctx, identification.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDisagreement())
}
