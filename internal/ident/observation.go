package ident

import "time"

// Observation carries the per-observation consensus state the engine reads.
// The community taxon and probable taxon are computed by the consensus
// service upstream and persisted here; the engine never derives them.
type Observation struct {
	ID         int64 `gorm:"primaryKey"`
	ObserverID int64 `gorm:"not null;index:idx_observations_observer"`

	// TaxonID is the observation's own displayed taxon. Zero when unset.
	TaxonID int64

	// CommunityTaxonID is the current community consensus taxon. Zero when
	// no consensus exists yet.
	CommunityTaxonID int64

	// Opt-outs from community-taxon mode. Community mode is active only
	// when neither flag is set.
	OptedOut         bool
	ObserverOptedOut bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
