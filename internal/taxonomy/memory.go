package taxonomy

import (
	"context"
	"sync"

	"github.com/tphakala/identree-go/internal/errors"
)

// MemoryOracle is an in-memory Oracle built from parent links. It is used
// by tests and by embedders that already hold the hierarchy in memory.
type MemoryOracle struct {
	mu       sync.RWMutex
	parents  map[int64]int64 // 0 = root or unattached
	roots    map[int64]bool
	active   map[int64]bool
	synonyms map[int64]int64
	children map[int64]int
}

// NewMemoryOracle returns an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{
		parents:  make(map[int64]int64),
		roots:    make(map[int64]bool),
		active:   make(map[int64]bool),
		synonyms: make(map[int64]int64),
		children: make(map[int64]int),
	}
}

// AddRoot registers a root taxon. Roots have no ancestors and are, like in
// the source hierarchy, not considered grafted.
func (m *MemoryOracle) AddRoot(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots[id] = true
	m.active[id] = true
}

// AddTaxon registers a taxon under the given parent.
func (m *MemoryOracle) AddTaxon(id, parentID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[id] = parentID
	m.active[id] = true
	m.children[parentID]++
}

// AddUngrafted registers a taxon with no path to any root.
func (m *MemoryOracle) AddUngrafted(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[id] = 0
	m.active[id] = true
}

// Deactivate marks a taxon inactive, optionally naming its current synonym.
func (m *MemoryOracle) Deactivate(id, synonymID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = false
	if synonymID != 0 {
		m.synonyms[id] = synonymID
	}
}

func (m *MemoryOracle) known(id int64) bool {
	if m.roots[id] {
		return true
	}
	_, ok := m.parents[id]
	return ok
}

func (m *MemoryOracle) ancestorsLocked(id int64) []int64 {
	var rev []int64
	cur := id
	for {
		parent, ok := m.parents[cur]
		if !ok || parent == 0 {
			break
		}
		rev = append(rev, parent)
		cur = parent
		if len(rev) > 1024 {
			// Defect in the fixture hierarchy; treat as unattached.
			return nil
		}
	}
	// The chain must terminate at a root to count as attached ancestry;
	// descendants of unattached taxa are themselves ungrafted.
	if len(rev) > 0 && !m.roots[rev[len(rev)-1]] {
		return nil
	}
	// Reverse to root-first order
	out := make([]int64, len(rev))
	for i, a := range rev {
		out[len(rev)-1-i] = a
	}
	return out
}

// AncestorIDs returns the taxon's ancestors ordered root-first.
func (m *MemoryOracle) AncestorIDs(ctx context.Context, taxonID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.known(taxonID) {
		return nil, errors.Newf("unknown taxon %d", taxonID).
			Component("taxonomy").
			Category(errors.CategoryNotFound).
			Build()
	}
	return m.ancestorsLocked(taxonID), nil
}

// SelfAndAncestorIDs returns the taxon's ancestors plus the taxon itself.
func (m *MemoryOracle) SelfAndAncestorIDs(ctx context.Context, taxonID int64) ([]int64, error) {
	anc, err := m.AncestorIDs(ctx, taxonID)
	if err != nil {
		return nil, err
	}
	return append(anc, taxonID), nil
}

// IsGrafted reports whether the taxon has a path to a root.
func (m *MemoryOracle) IsGrafted(ctx context.Context, taxonID int64) (bool, error) {
	anc, err := m.AncestorIDs(ctx, taxonID)
	if err != nil {
		return false, err
	}
	return len(anc) > 0, nil
}

// IsActive reports whether the taxon is active.
func (m *MemoryOracle) IsActive(ctx context.Context, taxonID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.known(taxonID) {
		return false, errors.Newf("unknown taxon %d", taxonID).
			Component("taxonomy").
			Category(errors.CategoryNotFound).
			Build()
	}
	return m.active[taxonID], nil
}

// HasChildren reports whether the taxon has child taxa.
func (m *MemoryOracle) HasChildren(ctx context.Context, taxonID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.children[taxonID] > 0, nil
}

// CurrentSynonym returns the active replacement for an inactive taxon.
func (m *MemoryOracle) CurrentSynonym(ctx context.Context, taxonID int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	current, ok := m.synonyms[taxonID]
	for hops := 0; ok && hops < 16; hops++ {
		if m.active[current] {
			return current, true, nil
		}
		current, ok = m.synonyms[current]
	}
	return 0, false, nil
}

// Exists reports whether the taxon is known to the hierarchy.
func (m *MemoryOracle) Exists(ctx context.Context, taxonID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known(taxonID), nil
}
