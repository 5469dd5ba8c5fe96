package ident

import (
	"context"
	"time"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/events"
)

// ChangeType enumerates the supported taxon change shapes.
type ChangeType string

const (
	// ChangeMerge folds two or more input taxa into one output taxon.
	ChangeMerge ChangeType = "merge"
	// ChangeSplit divides one input taxon into two or more output taxa.
	ChangeSplit ChangeType = "split"
	// ChangeSwap replaces one input taxon with one output taxon.
	ChangeSwap ChangeType = "swap"
)

// TaxonChange describes a committed change to the hierarchy whose effects
// must be propagated onto existing identifications.
type TaxonChange struct {
	ID             int64
	Type           ChangeType
	InputTaxonIDs  []int64
	OutputTaxonIDs []int64

	// OutputFor resolves the output taxon for one identification. Splits
	// must provide it since the destination depends on the record (for
	// example on the observation's location); when it reports ok=false the
	// record is skipped. Merges and swaps may leave it nil, in which case
	// the single output taxon is used.
	OutputFor func(ctx context.Context, identification *Identification) (int64, bool, error)
}

// Validate checks the change shape before propagation.
func (c *TaxonChange) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("taxonchange").
			Category(errors.CategoryValidation).
			Context("taxon_change_id", c.ID).
			Build()
	}
	if c.ID <= 0 {
		return fail("taxon change requires an ID")
	}
	switch c.Type {
	case ChangeMerge:
		if len(c.InputTaxonIDs) < 2 || len(c.OutputTaxonIDs) != 1 {
			return fail("merge requires at least two input taxa and exactly one output taxon")
		}
	case ChangeSplit:
		if len(c.InputTaxonIDs) != 1 || len(c.OutputTaxonIDs) < 2 {
			return fail("split requires exactly one input taxon and at least two output taxa")
		}
		if c.OutputFor == nil {
			return fail("split requires a per-record output resolver")
		}
	case ChangeSwap:
		if len(c.InputTaxonIDs) != 1 || len(c.OutputTaxonIDs) != 1 {
			return fail("swap requires exactly one input taxon and one output taxon")
		}
	default:
		return fail("unknown taxon change type %q", c.Type)
	}
	return nil
}

func (c *TaxonChange) outputFor(ctx context.Context, identification *Identification) (int64, bool, error) {
	if c.OutputFor != nil {
		return c.OutputFor(ctx, identification)
	}
	return c.OutputTaxonIDs[0], true, nil
}

// TaxonChangeResult summarizes one propagation run.
type TaxonChangeResult struct {
	Replayed     int // new identifications created on output taxa
	Skipped      int // records left untouched (already replayed, or no output)
	Rewritten    int // disagreement references repointed at an output taxon
	Cleared      int // disagreement references cleared (ambiguous output)
	Observations int // observations recategorized
}

// ApplyTaxonChange replays every current identification of the change's
// input taxa onto the resolved output taxon, then repairs disagreement
// references that pointed at an input taxon. Replays are idempotent: a
// record already replayed for this change is skipped, so a propagation run
// interrupted midway can be re-run safely.
func (e *Engine) ApplyTaxonChange(ctx context.Context, change *TaxonChange) (*TaxonChangeResult, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &TaxonChangeResult{}

	identifications, err := e.store.ListCurrentByTaxa(ctx, change.InputTaxonIDs)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryDatabase).
			Context("taxon_change_id", change.ID).
			Build()
	}

	touched := make(map[int64]struct{})
	for i := range identifications {
		identification := &identifications[i]
		replayed, err := e.replayIdentification(ctx, change, identification, result)
		if err != nil {
			return result, err
		}
		if replayed {
			touched[identification.ObservationID] = struct{}{}
		}
	}

	if err := e.repairDisagreementReferences(ctx, change, result, touched); err != nil {
		return result, err
	}

	for observationID := range touched {
		if _, err := e.RecomputeCategories(ctx, observationID); err != nil {
			return result, err
		}
		result.Observations++
	}

	logger.Info("taxon change propagated",
		"taxon_change_id", change.ID,
		"change_type", change.Type,
		"replayed", result.Replayed,
		"skipped", result.Skipped,
		"rewritten", result.Rewritten,
		"cleared", result.Cleared,
		"observations", result.Observations,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// replayIdentification creates one replay identification for a current
// identification on an input taxon. Reports whether a replay was created.
func (e *Engine) replayIdentification(ctx context.Context, change *TaxonChange, identification *Identification, result *TaxonChangeResult) (bool, error) {
	already, err := e.store.HasTaxonChangeReplay(ctx, identification.ObservationID, identification.UserID, change.ID)
	if err != nil {
		return false, errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryDatabase).
			Context("taxon_change_id", change.ID).
			ObservationContext(identification.ObservationID, identification.UserID).
			Build()
	}
	if already {
		result.Skipped++
		e.metrics.RecordTaxonChangeSkipped()
		return false, nil
	}

	outputTaxonID, ok, err := change.outputFor(ctx, identification)
	if err != nil {
		return false, errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryTaxonChange).
			Context("taxon_change_id", change.ID).
			TaxonContext(identification.TaxonID).
			Build()
	}
	if !ok || outputTaxonID == 0 || outputTaxonID == identification.TaxonID {
		logger.Debug("no output taxon for identification, skipping",
			"taxon_change_id", change.ID,
			"identification_id", identification.ID,
			"taxon_id", identification.TaxonID,
		)
		result.Skipped++
		e.metrics.RecordTaxonChangeSkipped()
		return false, nil
	}

	req := &CreateRequest{
		ObservationID: identification.ObservationID,
		UserID:        identification.UserID,
		TaxonID:       outputTaxonID,
		taxonChangeID: change.ID,
		skipRecompute: true,
		skipEvent:     true,
	}
	if err := e.carryDisagreement(ctx, identification, req); err != nil {
		return false, err
	}

	if _, err := e.Create(ctx, req); err != nil {
		return false, err
	}
	result.Replayed++
	e.metrics.RecordTaxonChange(string(change.Type), "replayed")
	e.publish(events.NewIdentificationEventWithMetadata(
		identification.ObservationID,
		identification.UserID,
		events.ReasonTaxonChange,
		map[string]any{"taxon_change_id": change.ID},
	))
	return true, nil
}

// carryDisagreement transfers disagreement state from the superseded
// identification to the replay. A disagreement survives only when its
// previous observation taxon still resolves to a single current taxon;
// otherwise the reference is unknowable and the replay is created as a
// plain non-disagreement.
func (e *Engine) carryDisagreement(ctx context.Context, identification *Identification, req *CreateRequest) error {
	previousTaxonID := identification.PreviousObservationTaxonID
	if previousTaxonID == 0 {
		return nil
	}

	resolved, ok, err := e.resolvePreviousTaxon(ctx, previousTaxonID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	req.presetPreviousTaxonID = resolved
	if identification.IsDisagreement() {
		req.presetDisagreement = boolPtr(true)
	}
	return nil
}

// resolvePreviousTaxon maps a previous observation taxon to its current
// equivalent: itself while active, its current synonym once retired, or
// nothing when the synonym is ambiguous.
func (e *Engine) resolvePreviousTaxon(ctx context.Context, taxonID int64) (int64, bool, error) {
	active, err := e.oracle.IsActive(ctx, taxonID)
	if err != nil {
		return 0, false, errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}
	if active {
		return taxonID, true, nil
	}
	synonym, ok, err := e.oracle.CurrentSynonym(ctx, taxonID)
	if err != nil {
		return 0, false, errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}
	return synonym, ok, nil
}

// repairDisagreementReferences updates current disagreements whose
// previous observation taxon was an input of the change. Merges and swaps
// repoint the reference at the output taxon; splits clear the disagreement
// since the intended reference can no longer be known. Every repaired
// observation is recategorized with the replayed ones.
func (e *Engine) repairDisagreementReferences(ctx context.Context, change *TaxonChange, result *TaxonChangeResult, touched map[int64]struct{}) error {
	identifications, err := e.store.ListCurrentDisagreementsByPreviousTaxa(ctx, change.InputTaxonIDs)
	if err != nil {
		return errors.Wrap(err).
			Component("taxonchange").
			Category(errors.CategoryDatabase).
			Context("taxon_change_id", change.ID).
			Build()
	}

	for i := range identifications {
		identification := &identifications[i]
		var fields map[string]any
		var action string
		if change.Type == ChangeSplit {
			fields = map[string]any{"disagreement": nil, "disagreement_type": string(DisagreementNone)}
			action = "cleared"
			result.Cleared++
		} else {
			fields = map[string]any{"previous_observation_taxon_id": change.OutputTaxonIDs[0]}
			action = "rewritten"
			result.Rewritten++
		}
		if err := e.store.UpdateIdentification(ctx, identification.ID, fields); err != nil {
			return errors.Wrap(err).
				Component("taxonchange").
				Category(errors.CategoryDatabase).
				Context("identification_id", identification.ID).
				Build()
		}
		e.metrics.RecordTaxonChange(string(change.Type), action)
		touched[identification.ObservationID] = struct{}{}
	}
	return nil
}
