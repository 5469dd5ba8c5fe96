package ident

import (
	"sort"

	"github.com/tphakala/identree-go/internal/taxonomy"
)

// CategoryAssignment is the result of one categorization pass: identification
// IDs grouped by the category they should hold.
type CategoryAssignment map[Category][]int64

// ByID returns the assignment inverted to a per-identification lookup.
func (a CategoryAssignment) ByID() map[int64]Category {
	out := make(map[int64]Category)
	for category, ids := range a {
		for _, id := range ids {
			out[id] = category
		}
	}
	return out
}

// Categorize assigns each identification of one observation to exactly one
// of the four categories, relative to the community taxon. It is a pure
// function over the given snapshot; callers must prefetch ancestor sets for
// every identification taxon and for the community taxon.
//
// The pass runs in ascending identification ID order and maintains the set
// of taxa already bucketed as improving or supporting: a candidate is
// "progressive" only while no such taxon is the candidate's own taxon or a
// descendant of it. Only existence matters, not which earlier match it is.
func Categorize(identifications []Identification, communityTaxonID int64, snap *taxonomy.Snapshot) CategoryAssignment {
	ordered := make([]Identification, len(identifications))
	copy(ordered, identifications)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	hasCommunity := communityTaxonID != 0

	assignment := CategoryAssignment{}
	// Taxa of identifications already bucketed as improving or supporting,
	// checked for the progressive rule.
	var contributed []int64

	for i := range ordered {
		identification := &ordered[i]
		taxonID := identification.TaxonID

		ancestorOfCommunity := hasCommunity && snap.HasAncestor(communityTaxonID, taxonID)
		descendantOfCommunity := hasCommunity && snap.HasAncestor(taxonID, communityTaxonID)
		matchesCommunity := hasCommunity && taxonID == communityTaxonID

		progressive := true
		for _, contributedTaxon := range contributed {
			if snap.SelfOrAncestorIncludes(contributedTaxon, taxonID) {
				progressive = false
				break
			}
		}

		var category Category
		switch {
		case !hasCommunity || descendantOfCommunity:
			category = CategoryLeading
		case (ancestorOfCommunity || matchesCommunity) && progressive:
			if identification.IsDisagreement() && identification.DisagreementType != DisagreementLeaf {
				category = CategoryMaverick
			} else {
				category = CategoryImproving
			}
		case !ancestorOfCommunity && !descendantOfCommunity && !matchesCommunity:
			category = CategoryMaverick
		default:
			category = CategorySupporting
		}

		assignment[category] = append(assignment[category], identification.ID)
		if category == CategoryImproving || category == CategorySupporting {
			contributed = append(contributed, taxonID)
		}
	}

	return assignment
}

// CategorizeChanged returns, per category, only the identifications whose
// stored category differs from the fresh assignment. Persisting just the
// delta keeps recategorization writes proportional to actual change.
func CategorizeChanged(identifications []Identification, communityTaxonID int64, snap *taxonomy.Snapshot) CategoryAssignment {
	assignment := Categorize(identifications, communityTaxonID, snap)
	current := make(map[int64]Category, len(identifications))
	for i := range identifications {
		current[identifications[i].ID] = identifications[i].Category
	}

	changed := CategoryAssignment{}
	for category, ids := range assignment {
		for _, id := range ids {
			if current[id] != category {
				changed[category] = append(changed[category], id)
			}
		}
	}
	return changed
}

// DistinctTaxonIDs returns the distinct taxon IDs referenced by the given
// identifications plus the optional extra IDs, for snapshot prefetching.
func DistinctTaxonIDs(identifications []Identification, extra ...int64) []int64 {
	seen := make(map[int64]struct{}, len(identifications)+len(extra))
	var out []int64
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for i := range identifications {
		add(identifications[i].TaxonID)
	}
	for _, id := range extra {
		add(id)
	}
	return out
}
