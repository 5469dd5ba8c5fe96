package ident

import (
	"context"
)

// ErrCurrencyConflict is returned by stores when a concurrent writer has
// already set a current identification for the same (observation, user)
// pair. The currency tracker treats it as "currency already correct".
var ErrCurrencyConflict = NewSentinel("current identification already set")

// ErrNotFound is returned by stores when an identification does not exist.
var ErrNotFound = NewSentinel("identification not found")

// Store is the persistence contract the engine needs. The datastore
// package provides the GORM-backed implementation.
type Store interface {
	// InsertCurrent atomically demotes every other identification for the
	// record's (observation, user) pair and inserts the record with
	// current=true. Returns ErrCurrencyConflict when a concurrent writer
	// wins the race; the insert itself is rolled back in that case.
	InsertCurrent(ctx context.Context, identification *Identification) error

	// Insert persists an identification without touching currency state.
	// Used after a lost currency race to keep the record as superseded.
	Insert(ctx context.Context, identification *Identification) error

	// GetIdentification fetches one identification by ID.
	GetIdentification(ctx context.Context, id int64) (*Identification, error)

	// ListByObservation returns every identification for an observation,
	// ordered by ascending ID.
	ListByObservation(ctx context.Context, observationID int64) ([]Identification, error)

	// ListCurrentByTaxa returns current identifications whose taxon is in
	// the given set, ordered by ascending ID.
	ListCurrentByTaxa(ctx context.Context, taxonIDs []int64) ([]Identification, error)

	// ListCurrentDisagreementsByPreviousTaxa returns current
	// identifications with disagreement=true whose previous observation
	// taxon is in the given set.
	ListCurrentDisagreementsByPreviousTaxa(ctx context.Context, taxonIDs []int64) ([]Identification, error)

	// ListDisagreementsWithAncestor returns identifications with
	// disagreement=true whose taxon descends from the given ancestor.
	ListDisagreementsWithAncestor(ctx context.Context, ancestorTaxonID int64) ([]Identification, error)

	// HasTaxonChangeReplay reports whether a replay identification for the
	// given taxon change already exists for the (observation, user) pair.
	HasTaxonChangeReplay(ctx context.Context, observationID, userID, taxonChangeID int64) (bool, error)

	// UpdateIdentification updates the given fields of one identification.
	UpdateIdentification(ctx context.Context, id int64, fields map[string]any) error

	// UpdateCategories sets the category on a batch of identifications.
	UpdateCategories(ctx context.Context, ids []int64, category Category) error

	// MarkCurrent atomically demotes every other identification for the
	// pair and promotes the given one. Returns ErrCurrencyConflict when a
	// concurrent writer wins the race.
	MarkCurrent(ctx context.Context, observationID, userID, id int64) error

	// Demote sets current=false on one identification.
	Demote(ctx context.Context, id int64) error

	// LatestRemaining returns the most recently created identification for
	// the pair, ordered by created_at then ID. ok is false when none remain.
	LatestRemaining(ctx context.Context, observationID, userID int64) (*Identification, bool, error)

	// DeleteIdentification removes one identification.
	DeleteIdentification(ctx context.Context, id int64) error
}

// ConsensusHolder exposes the observation-level consensus state the engine
// reads but does not own. The community taxon itself is computed externally
// from the set of current identifications.
type ConsensusHolder interface {
	// CommunityTaxon returns the observation's community taxon, if any.
	CommunityTaxon(ctx context.Context, observationID int64) (int64, bool, error)

	// ProbableTaxon returns the probable observation taxon considering only
	// identifications created before the given identification ID.
	// beforeIdentID 0 considers the full set.
	ProbableTaxon(ctx context.Context, observationID, beforeIdentID int64) (int64, bool, error)

	// PrefersCommunityTaxon reports whether community-taxon mode is active
	// for the observation (neither the observation nor its observer has
	// opted out).
	PrefersCommunityTaxon(ctx context.Context, observationID int64) (bool, error)

	// ObservationTaxon returns the observation's own taxon field, if set.
	ObservationTaxon(ctx context.Context, observationID int64) (int64, bool, error)

	// ObserverID returns the user who created the observation.
	ObserverID(ctx context.Context, observationID int64) (int64, error)
}

// sentinelError is a comparable error type for package sentinels.
type sentinelError string

func (s sentinelError) Error() string { return string(s) }

// NewSentinel creates a comparable sentinel error.
func NewSentinel(text string) error { return sentinelError(text) }
