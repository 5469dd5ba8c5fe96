package ident

import (
	"context"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/taxonomy"
)

// DisagreementInput carries everything the classifier needs to decide
// whether a new identification disagrees with the taxon it replaces.
type DisagreementInput struct {
	// TaxonID is the taxon asserted by the new identification.
	TaxonID int64

	// PreviousTaxonID is the probable observation taxon before this
	// identification existed. Zero means none.
	PreviousTaxonID int64

	// ExplicitRequest is set when the user explicitly asserted "I disagree".
	ExplicitRequest bool
}

// DisagreementResult is the classifier's verdict.
type DisagreementResult struct {
	// Disagreement is false for agreement or not-applicable, true for
	// branch and implicit disagreements.
	Disagreement bool
	Type         DisagreementType
}

// ClassifyDisagreement decides, at creation time, whether an identification
// constitutes an explicit or implicit disagreement with the previous
// observation taxon. It consults the oracle for graft status, children and
// ancestor membership; all rules follow the order documented on the type.
//
// Rules, first match wins:
//  1. No previous taxon, or previous taxon not grafted: no disagreement.
//     One cannot disagree with nothing or with an unplaced taxon.
//  2. New taxon not grafted and childless: no disagreement. Suggesting an
//     orphaned leaf is not a meaningful counter-assertion.
//  3. Explicit request and new taxon is a strict ancestor of the previous
//     taxon: branch disagreement.
//  4. New taxon neither contains nor descends from the previous taxon:
//     implicit disagreement. Otherwise no disagreement.
func ClassifyDisagreement(ctx context.Context, oracle taxonomy.Oracle, in DisagreementInput) (DisagreementResult, error) {
	none := DisagreementResult{Disagreement: false, Type: DisagreementNone}

	if in.PreviousTaxonID == 0 {
		return none, nil
	}

	previousGrafted, err := oracle.IsGrafted(ctx, in.PreviousTaxonID)
	if err != nil {
		return none, classifyErr(err, in.PreviousTaxonID)
	}
	if !previousGrafted {
		return none, nil
	}

	newGrafted, err := oracle.IsGrafted(ctx, in.TaxonID)
	if err != nil {
		return none, classifyErr(err, in.TaxonID)
	}
	if !newGrafted {
		hasChildren, err := oracle.HasChildren(ctx, in.TaxonID)
		if err != nil {
			return none, classifyErr(err, in.TaxonID)
		}
		if !hasChildren {
			return none, nil
		}
	}

	previousAncestors, err := oracle.AncestorIDs(ctx, in.PreviousTaxonID)
	if err != nil {
		return none, classifyErr(err, in.PreviousTaxonID)
	}

	if in.ExplicitRequest && containsID(previousAncestors, in.TaxonID) {
		return DisagreementResult{Disagreement: true, Type: DisagreementBranch}, nil
	}

	ancestorOfPrevious := in.TaxonID == in.PreviousTaxonID || containsID(previousAncestors, in.TaxonID)

	newSelfAndAncestors, err := oracle.SelfAndAncestorIDs(ctx, in.TaxonID)
	if err != nil {
		return none, classifyErr(err, in.TaxonID)
	}
	descendantOfPrevious := containsID(newSelfAndAncestors, in.PreviousTaxonID)

	if !ancestorOfPrevious && !descendantOfPrevious {
		return DisagreementResult{Disagreement: true, Type: DisagreementImplicit}, nil
	}
	return none, nil
}

func classifyErr(err error, taxonID int64) error {
	return errors.Wrap(err).
		Component("ident").
		Category(errors.CategoryTaxonomy).
		TaxonContext(taxonID).
		Build()
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
