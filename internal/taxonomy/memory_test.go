package taxonomy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 100 (root) -> 10 -> 1 -> 2, with 40 under 10 and 3 under 100.
// 99 is ungrafted.
func newTestOracle() *MemoryOracle {
	oracle := NewMemoryOracle()
	oracle.AddRoot(100)
	oracle.AddTaxon(10, 100)
	oracle.AddTaxon(1, 10)
	oracle.AddTaxon(2, 1)
	oracle.AddTaxon(40, 10)
	oracle.AddTaxon(3, 100)
	oracle.AddUngrafted(99)
	return oracle
}

func TestMemoryOracleAncestorsRootFirst(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	ancestors, err := oracle.AncestorIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 10, 1}, ancestors)

	selfAndAncestors, err := oracle.SelfAndAncestorIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 10, 1, 2}, selfAndAncestors)
}

func TestMemoryOracleRootHasNoAncestors(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	ancestors, err := oracle.AncestorIDs(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, ancestors)

	grafted, err := oracle.IsGrafted(ctx, 100)
	require.NoError(t, err)
	assert.False(t, grafted, "roots are not considered grafted")
}

func TestMemoryOracleUngrafted(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	ancestors, err := oracle.AncestorIDs(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, ancestors)

	grafted, err := oracle.IsGrafted(ctx, 99)
	require.NoError(t, err)
	assert.False(t, grafted)

	// A child of an unattached taxon has no path to a root either.
	oracle.AddTaxon(98, 99)
	ancestors, err = oracle.AncestorIDs(ctx, 98)
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestMemoryOracleUnknownTaxon(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	exists, err := oracle.Exists(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = oracle.AncestorIDs(ctx, 12345)
	assert.Error(t, err)
	_, err = oracle.IsActive(ctx, 12345)
	assert.Error(t, err)
}

func TestMemoryOracleSynonymChain(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	oracle.Deactivate(1, 40)

	active, err := oracle.IsActive(ctx, 1)
	require.NoError(t, err)
	assert.False(t, active)

	synonym, ok, err := oracle.CurrentSynonym(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(40), synonym)

	// Retiring the synonym as well makes resolution follow the chain.
	oracle.Deactivate(40, 3)
	synonym, ok, err = oracle.CurrentSynonym(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), synonym)
}

func TestMemoryOracleSynonymCycleResolvesToNothing(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	oracle.Deactivate(1, 40)
	oracle.Deactivate(40, 1)

	_, ok, err := oracle.CurrentSynonym(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryOracleHasChildren(t *testing.T) {
	t.Parallel()
	oracle := newTestOracle()
	ctx := context.Background()

	hasChildren, err := oracle.HasChildren(ctx, 10)
	require.NoError(t, err)
	assert.True(t, hasChildren)

	hasChildren, err = oracle.HasChildren(ctx, 2)
	require.NoError(t, err)
	assert.False(t, hasChildren)
}
