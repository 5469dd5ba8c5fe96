package ident

import (
	"context"
	"sort"
	"sync"
)

// memStore is an in-memory Store used by engine tests. It mirrors the
// datastore's transactional semantics, including the uniqueness race
// signalled through ErrCurrencyConflict.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Identification

	// failNextInsertCurrent forces the next InsertCurrent to lose the
	// currency race.
	failNextInsertCurrent bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]*Identification)}
}

func (s *memStore) clone(rec *Identification) Identification {
	out := *rec
	if rec.Disagreement != nil {
		v := *rec.Disagreement
		out.Disagreement = &v
	}
	return out
}

func (s *memStore) InsertCurrent(ctx context.Context, identification *Identification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextInsertCurrent {
		s.failNextInsertCurrent = false
		return ErrCurrencyConflict
	}
	for _, rec := range s.records {
		if rec.ObservationID == identification.ObservationID && rec.UserID == identification.UserID {
			rec.Current = false
		}
	}
	s.nextID++
	identification.ID = s.nextID
	identification.Current = true
	stored := s.clone(identification)
	s.records[identification.ID] = &stored
	return nil
}

func (s *memStore) Insert(ctx context.Context, identification *Identification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	identification.ID = s.nextID
	stored := s.clone(identification)
	s.records[identification.ID] = &stored
	return nil
}

func (s *memStore) GetIdentification(ctx context.Context, id int64) (*Identification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s.clone(rec)
	return &out, nil
}

func (s *memStore) list(filter func(*Identification) bool) []Identification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identification
	for _, rec := range s.records {
		if filter(rec) {
			out = append(out, s.clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListByObservation(ctx context.Context, observationID int64) ([]Identification, error) {
	return s.list(func(r *Identification) bool {
		return r.ObservationID == observationID
	}), nil
}

func (s *memStore) ListCurrentByTaxa(ctx context.Context, taxonIDs []int64) ([]Identification, error) {
	set := make(map[int64]struct{}, len(taxonIDs))
	for _, id := range taxonIDs {
		set[id] = struct{}{}
	}
	return s.list(func(r *Identification) bool {
		_, ok := set[r.TaxonID]
		return ok && r.Current
	}), nil
}

func (s *memStore) ListCurrentDisagreementsByPreviousTaxa(ctx context.Context, taxonIDs []int64) ([]Identification, error) {
	set := make(map[int64]struct{}, len(taxonIDs))
	for _, id := range taxonIDs {
		set[id] = struct{}{}
	}
	return s.list(func(r *Identification) bool {
		_, ok := set[r.PreviousObservationTaxonID]
		return ok && r.Current && r.Disagreement != nil && *r.Disagreement
	}), nil
}

func (s *memStore) ListDisagreementsWithAncestor(ctx context.Context, ancestorTaxonID int64) ([]Identification, error) {
	// The closure-table join lives in the datastore; tests filter broadly
	// and let the engine apply the ancestor check.
	return s.list(func(r *Identification) bool {
		return r.Disagreement != nil && *r.Disagreement
	}), nil
}

func (s *memStore) HasTaxonChangeReplay(ctx context.Context, observationID, userID, taxonChangeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ObservationID == observationID && rec.UserID == userID && rec.TaxonChangeID == taxonChangeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) UpdateIdentification(ctx context.Context, id int64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	for field, value := range fields {
		switch field {
		case "disagreement":
			if value == nil {
				rec.Disagreement = nil
			} else {
				v := value.(bool)
				rec.Disagreement = &v
			}
		case "disagreement_type":
			rec.DisagreementType = DisagreementType(value.(string))
		case "previous_observation_taxon_id":
			rec.PreviousObservationTaxonID = value.(int64)
		case "category":
			rec.Category = Category(value.(string))
		}
	}
	return nil
}

func (s *memStore) UpdateCategories(ctx context.Context, ids []int64, category Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.Category = category
		}
	}
	return nil
}

func (s *memStore) MarkCurrent(ctx context.Context, observationID, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	for _, rec := range s.records {
		if rec.ObservationID == observationID && rec.UserID == userID && rec.ID != id {
			rec.Current = false
		}
	}
	target.Current = true
	return nil
}

func (s *memStore) Demote(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Current = false
	return nil
}

func (s *memStore) LatestRemaining(ctx context.Context, observationID, userID int64) (*Identification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Identification
	for _, rec := range s.records {
		if rec.ObservationID != observationID || rec.UserID != userID {
			continue
		}
		if latest == nil ||
			rec.CreatedAt.After(latest.CreatedAt) ||
			(rec.CreatedAt.Equal(latest.CreatedAt) && rec.ID > latest.ID) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	out := s.clone(latest)
	return &out, true, nil
}

func (s *memStore) DeleteIdentification(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// currentCount reports current identifications for a pair, for invariant
// assertions.
func (s *memStore) currentCount(observationID, userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.ObservationID == observationID && rec.UserID == userID && rec.Current {
			count++
		}
	}
	return count
}

// fakeConsensus is a configurable ConsensusHolder for engine tests.
type fakeConsensus struct {
	mu        sync.Mutex
	community map[int64]int64
	obsTaxon  map[int64]int64
	observer  map[int64]int64
	optedOut  map[int64]bool
}

func newFakeConsensus() *fakeConsensus {
	return &fakeConsensus{
		community: make(map[int64]int64),
		obsTaxon:  make(map[int64]int64),
		observer:  make(map[int64]int64),
		optedOut:  make(map[int64]bool),
	}
}

func (f *fakeConsensus) setCommunity(observationID, taxonID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.community[observationID] = taxonID
}

func (f *fakeConsensus) CommunityTaxon(ctx context.Context, observationID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	taxonID, ok := f.community[observationID]
	return taxonID, ok && taxonID != 0, nil
}

func (f *fakeConsensus) ProbableTaxon(ctx context.Context, observationID, beforeIdentID int64) (int64, bool, error) {
	return f.CommunityTaxon(ctx, observationID)
}

func (f *fakeConsensus) PrefersCommunityTaxon(ctx context.Context, observationID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.optedOut[observationID], nil
}

func (f *fakeConsensus) ObservationTaxon(ctx context.Context, observationID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	taxonID, ok := f.obsTaxon[observationID]
	return taxonID, ok && taxonID != 0, nil
}

func (f *fakeConsensus) ObserverID(ctx context.Context, observationID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observer[observationID], nil
}
