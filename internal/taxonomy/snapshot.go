package taxonomy

import (
	"context"
	"fmt"
)

// Snapshot holds prefetched ancestor sets for a group of taxa so that the
// categorization pass can run as a pure, synchronous function without
// per-identification oracle round-trips.
type Snapshot struct {
	ancestors map[int64][]int64             // root-first, excluding self
	selfAnc   map[int64]map[int64]struct{}  // self-and-ancestor membership
}

// Prefetch resolves ancestor sets for every distinct taxon ID once and
// returns a snapshot answering membership queries from memory.
func Prefetch(ctx context.Context, oracle Oracle, taxonIDs []int64) (*Snapshot, error) {
	s := &Snapshot{
		ancestors: make(map[int64][]int64, len(taxonIDs)),
		selfAnc:   make(map[int64]map[int64]struct{}, len(taxonIDs)),
	}

	for _, id := range taxonIDs {
		if id == 0 {
			continue
		}
		if _, seen := s.ancestors[id]; seen {
			continue
		}

		anc, err := oracle.AncestorIDs(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("prefetching ancestors of taxon %d: %w", id, err)
		}
		s.ancestors[id] = anc

		members := make(map[int64]struct{}, len(anc)+1)
		members[id] = struct{}{}
		for _, a := range anc {
			members[a] = struct{}{}
		}
		s.selfAnc[id] = members
	}

	return s, nil
}

// AncestorIDs returns the prefetched ancestors for a taxon, root-first.
// Returns nil for taxa not included in the snapshot.
func (s *Snapshot) AncestorIDs(taxonID int64) []int64 {
	return s.ancestors[taxonID]
}

// HasAncestor reports whether ancestorID appears among taxonID's ancestors
// (excluding taxonID itself).
func (s *Snapshot) HasAncestor(taxonID, ancestorID int64) bool {
	for _, a := range s.ancestors[taxonID] {
		if a == ancestorID {
			return true
		}
	}
	return false
}

// SelfOrAncestorIncludes reports whether candidateID is taxonID itself or
// one of its ancestors.
func (s *Snapshot) SelfOrAncestorIncludes(taxonID, candidateID int64) bool {
	members, ok := s.selfAnc[taxonID]
	if !ok {
		return false
	}
	_, found := members[candidateID]
	return found
}

// Contains reports whether the snapshot holds data for taxonID.
func (s *Snapshot) Contains(taxonID int64) bool {
	_, ok := s.ancestors[taxonID]
	return ok
}
