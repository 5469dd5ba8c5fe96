// Package ident implements the identification consensus engine: currency
// tracking, disagreement classification, observation categorization and
// taxon-change propagation.
package ident

import (
	"time"
)

// Category classifies an identification relative to the observation's
// community taxon. The four values are mutually exclusive.
type Category string

const (
	CategoryImproving  Category = "improving"
	CategorySupporting Category = "supporting"
	CategoryLeading    Category = "leading"
	CategoryMaverick   Category = "maverick"
)

// Categories lists all assignable categories.
var Categories = []Category{
	CategoryImproving,
	CategorySupporting,
	CategoryLeading,
	CategoryMaverick,
}

// DisagreementType qualifies how an identification disagrees with the
// taxon it replaced.
type DisagreementType string

const (
	DisagreementNone     DisagreementType = ""
	DisagreementBranch   DisagreementType = "branch"
	DisagreementLeaf     DisagreementType = "leaf"
	DisagreementImplicit DisagreementType = "implicit"
)

// Identification is one user's taxon assertion for one observation at one
// point in time. Currency, disagreement and category are derived fields
// maintained by the engine; everything else is set at creation.
type Identification struct {
	ID            int64  `gorm:"primaryKey"`
	UUID          string `gorm:"type:varchar(36);uniqueIndex:idx_identifications_uuid"`
	ObservationID int64  `gorm:"not null;index:idx_identifications_obs;index:idx_identifications_obs_user,priority:1"`
	UserID        int64  `gorm:"not null;index:idx_identifications_obs_user,priority:2"`
	TaxonID       int64  `gorm:"not null;index:idx_identifications_taxon"`

	// Current is true iff this is the active identification for this
	// (observation, user) pair.
	Current bool `gorm:"index:idx_identifications_current"`

	// PreviousObservationTaxonID snapshots the probable observation taxon
	// immediately before this identification was created. Zero means none.
	// Set once at creation; only taxon-change propagation rewrites it.
	PreviousObservationTaxonID int64 `gorm:"index:idx_identifications_prev_taxon"`

	// Disagreement is tri-state: nil = not evaluated, false = agreement or
	// not applicable, true = disagreement with the previous taxon.
	Disagreement     *bool
	DisagreementType DisagreementType `gorm:"type:varchar(16)"`

	// Category is recomputed whenever the observation's identification set
	// changes. Empty until the first categorization pass.
	Category Category `gorm:"type:varchar(16);index:idx_identifications_category"`

	// TaxonChangeID tags identifications created by taxon-change replay.
	// Zero for user-submitted identifications.
	TaxonChangeID int64 `gorm:"index:idx_identifications_taxon_change"`

	CreatedAt time.Time `gorm:"index:idx_identifications_created"`
	UpdatedAt time.Time
}

// IsDisagreement reports whether this identification disagrees with the
// taxon it replaced.
func (i *Identification) IsDisagreement() bool {
	return i.Disagreement != nil && *i.Disagreement
}

// Improving reports whether the identification holds the improving category.
func (i *Identification) Improving() bool { return i.Category == CategoryImproving }

// Supporting reports whether the identification holds the supporting category.
func (i *Identification) Supporting() bool { return i.Category == CategorySupporting }

// Leading reports whether the identification holds the leading category.
func (i *Identification) Leading() bool { return i.Category == CategoryLeading }

// Maverick reports whether the identification holds the maverick category.
func (i *Identification) Maverick() bool { return i.Category == CategoryMaverick }

// boolPtr returns a pointer to b for the tri-state disagreement field.
func boolPtr(b bool) *bool {
	return &b
}
