// Package taxonomy answers ancestor, descendant and graft-status queries
// for taxa against a fixed hierarchy snapshot. The identification engine
// treats it as an opaque oracle; any backing representation that answers
// the membership queries correctly satisfies the contract.
package taxonomy

import (
	"context"
	"time"
)

// Oracle answers hierarchy queries for a taxon ID.
type Oracle interface {
	// AncestorIDs returns the taxon's ancestors ordered root-first,
	// excluding the taxon itself. Empty for roots and ungrafted taxa.
	AncestorIDs(ctx context.Context, taxonID int64) ([]int64, error)

	// SelfAndAncestorIDs returns the taxon's ancestors plus the taxon itself.
	SelfAndAncestorIDs(ctx context.Context, taxonID int64) ([]int64, error)

	// IsGrafted reports whether the taxon has a path to the root of the
	// hierarchy. Roots and orphaned nodes are not grafted.
	IsGrafted(ctx context.Context, taxonID int64) (bool, error)

	// IsActive reports whether the taxon is active (not retired by a
	// taxon change).
	IsActive(ctx context.Context, taxonID int64) (bool, error)

	// HasChildren reports whether the taxon has child taxa.
	HasChildren(ctx context.Context, taxonID int64) (bool, error)

	// CurrentSynonym returns the current synonymous replacement for an
	// inactive taxon, if one exists.
	CurrentSynonym(ctx context.Context, taxonID int64) (int64, bool, error)

	// Exists reports whether the taxon is known to the hierarchy.
	Exists(ctx context.Context, taxonID int64) (bool, error)
}

// Config holds settings for oracle implementations that cache lookups.
type Config struct {
	CacheTTL      time.Duration // lifetime of cached ancestor sets
	SweepInterval time.Duration // cleanup interval for expired entries
	Debug         bool          // enable debug logging
}

// DefaultConfig returns sensible cache defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}
