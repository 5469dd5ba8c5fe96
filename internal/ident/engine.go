package ident

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/events"
	"github.com/tphakala/identree-go/internal/logging"
	"github.com/tphakala/identree-go/internal/observability/metrics"
	"github.com/tphakala/identree-go/internal/taxonomy"
)

// Package-level logger specific to the identification engine
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "ident.log")
	initialLevel := slog.LevelDebug
	serviceLevelVar.Set(initialLevel)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "ident", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize ident file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "ident")
		closeLogger = func() error { return nil }
	}
}

// Engine coordinates the identification lifecycle for observations:
// currency transitions, disagreement classification at creation,
// categorization of the full identification set, and taxon-change replay.
//
// Operations on the same observation are serialized through a
// per-observation lock; operations on different observations run in
// parallel.
type Engine struct {
	store     Store
	oracle    taxonomy.Oracle
	consensus ConsensusHolder
	tracker   *CurrencyTracker
	bus       *events.EventBus
	metrics   *metrics.EngineMetrics
	locks     *observationLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus attaches an event bus for change fan-out.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an identification engine over the given collaborators.
func NewEngine(store Store, oracle taxonomy.Oracle, consensus ConsensusHolder, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		oracle:    oracle,
		consensus: consensus,
		locks:     newObservationLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = NewCurrencyTracker(store, logger)
	if e.metrics != nil {
		e.tracker.SetConflictHook(e.metrics.RecordCurrencyConflict)
	}
	return e
}

// Close releases the service log writer.
func Close() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// CreateRequest carries a user's taxon assertion for one observation.
type CreateRequest struct {
	ObservationID int64
	UserID        int64
	TaxonID       int64

	// ExplicitDisagreement is set when the user asserted "I explicitly
	// disagree" while suggesting an ancestor of the previous taxon.
	ExplicitDisagreement bool

	// Fields below are used by taxon-change propagation only.
	taxonChangeID         int64
	presetDisagreement    *bool
	presetPreviousTaxonID int64
	skipRecompute         bool
	skipEvent             bool
}

// Create validates and persists a new identification: the asserted taxon is
// normalized (inactive taxa replaced by their current synonym), the
// previous observation taxon is snapshotted, disagreement is classified,
// currency is transferred atomically, and the observation's categories are
// recomputed.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*Identification, error) {
	if err := e.validateCreate(ctx, req); err != nil {
		e.metrics.RecordOperation("create", "error")
		return nil, err
	}

	e.locks.lock(req.ObservationID)
	defer e.locks.unlock(req.ObservationID)

	taxonID, err := e.resolveActiveTaxon(ctx, req.TaxonID)
	if err != nil {
		e.metrics.RecordOperation("create", "error")
		return nil, err
	}

	previousTaxonID := req.presetPreviousTaxonID
	if req.taxonChangeID == 0 && previousTaxonID == 0 {
		previousTaxonID, err = e.computePreviousObservationTaxon(ctx, req.ObservationID, req.UserID)
		if err != nil {
			e.metrics.RecordOperation("create", "error")
			return nil, err
		}
	}

	identification := &Identification{
		UUID:                       uuid.NewString(),
		ObservationID:              req.ObservationID,
		UserID:                     req.UserID,
		TaxonID:                    taxonID,
		Current:                    true,
		PreviousObservationTaxonID: previousTaxonID,
		TaxonChangeID:              req.taxonChangeID,
		CreatedAt:                  time.Now(),
	}

	switch {
	case req.presetDisagreement != nil:
		// Carried over from a taxon change; the type is not re-derived.
		identification.Disagreement = req.presetDisagreement
	case req.taxonChangeID != 0:
		identification.Disagreement = boolPtr(false)
	default:
		result, err := ClassifyDisagreement(ctx, e.oracle, DisagreementInput{
			TaxonID:         taxonID,
			PreviousTaxonID: previousTaxonID,
			ExplicitRequest: req.ExplicitDisagreement,
		})
		if err != nil {
			// Disagreement correctness depends on complete hierarchy data;
			// abort rather than proceed with a partial answer.
			e.metrics.RecordOperation("create", "error")
			return nil, err
		}
		identification.Disagreement = boolPtr(result.Disagreement)
		identification.DisagreementType = result.Type
		e.metrics.RecordDisagreement(string(result.Type))
	}

	if err := e.insertWithCurrency(ctx, identification); err != nil {
		e.metrics.RecordOperation("create", "error")
		return nil, err
	}

	if !req.skipRecompute {
		if _, err := e.recomputeLocked(ctx, req.ObservationID); err != nil {
			return nil, err
		}
	}

	if !req.skipEvent {
		e.publish(events.NewIdentificationEvent(req.ObservationID, req.UserID, events.ReasonCreated))
	}
	e.metrics.RecordOperation("create", "success")

	logger.Info("identification created",
		"identification_id", identification.ID,
		"observation_id", identification.ObservationID,
		"user_id", identification.UserID,
		"taxon_id", identification.TaxonID,
		"disagreement_type", identification.DisagreementType,
	)

	return identification, nil
}

func (e *Engine) validateCreate(ctx context.Context, req *CreateRequest) error {
	if req.ObservationID <= 0 {
		return errors.Newf("identification requires an observation").
			Component("ident").
			Category(errors.CategoryValidation).
			Build()
	}
	if req.UserID <= 0 {
		return errors.Newf("identification requires a user").
			Component("ident").
			Category(errors.CategoryValidation).
			Build()
	}
	if req.TaxonID <= 0 {
		return errors.Newf("identification requires a taxon").
			Component("ident").
			Category(errors.CategoryValidation).
			Build()
	}
	known, err := e.oracle.Exists(ctx, req.TaxonID)
	if err != nil {
		return errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryTaxonomy).
			TaxonContext(req.TaxonID).
			Build()
	}
	if !known {
		return errors.Newf("taxon %d for an identification must be one we recognize", req.TaxonID).
			Component("ident").
			Category(errors.CategoryValidation).
			TaxonContext(req.TaxonID).
			Build()
	}
	return nil
}

// resolveActiveTaxon substitutes an inactive taxon with its current
// synonym when one exists; otherwise the taxon is kept as asserted.
func (e *Engine) resolveActiveTaxon(ctx context.Context, taxonID int64) (int64, error) {
	active, err := e.oracle.IsActive(ctx, taxonID)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}
	if active {
		return taxonID, nil
	}
	synonym, ok, err := e.oracle.CurrentSynonym(ctx, taxonID)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}
	if !ok {
		return taxonID, nil
	}
	logger.Debug("replaced inactive taxon", "taxon_id", taxonID, "synonym_id", synonym)
	return synonym, nil
}

// computePreviousObservationTaxon determines the probable observation taxon
// immediately before a new identification by the given user exists.
func (e *Engine) computePreviousObservationTaxon(ctx context.Context, observationID, userID int64) (int64, error) {
	observerID, err := e.consensus.ObserverID(ctx, observationID)
	if err != nil {
		return 0, e.consensusErr(err, observationID)
	}

	var previous int64
	var ok bool
	if userID == observerID {
		previous, ok, err = e.consensus.ProbableTaxon(ctx, observationID, 0)
		if err != nil {
			return 0, e.consensusErr(err, observationID)
		}
	} else {
		prefers, err := e.consensus.PrefersCommunityTaxon(ctx, observationID)
		if err != nil {
			return 0, e.consensusErr(err, observationID)
		}
		if prefers {
			previous, ok, err = e.consensus.ProbableTaxon(ctx, observationID, 0)
		} else {
			previous, ok, err = e.consensus.ObservationTaxon(ctx, observationID)
		}
		if err != nil {
			return 0, e.consensusErr(err, observationID)
		}
	}
	if ok && previous != 0 {
		return previous, nil
	}

	// Fall back to the most recent pre-existing identification, preferring
	// current ones, then the observation's own taxon field.
	identifications, err := e.store.ListByObservation(ctx, observationID)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			ObservationContext(observationID, userID).
			Build()
	}
	if latest := latestIdentification(identifications, true); latest != nil {
		return latest.TaxonID, nil
	}
	if latest := latestIdentification(identifications, false); latest != nil {
		return latest.TaxonID, nil
	}

	observationTaxon, ok, err := e.consensus.ObservationTaxon(ctx, observationID)
	if err != nil {
		return 0, e.consensusErr(err, observationID)
	}
	if !ok {
		return 0, nil
	}
	return observationTaxon, nil
}

func (e *Engine) consensusErr(err error, observationID int64) error {
	return errors.Wrap(err).
		Component("ident").
		Category(errors.CategoryState).
		ObservationContext(observationID, 0).
		Build()
}

// latestIdentification picks the most recently created identification,
// ordered by created_at then ID, optionally restricted to current ones.
func latestIdentification(identifications []Identification, currentOnly bool) *Identification {
	var latest *Identification
	for i := range identifications {
		candidate := &identifications[i]
		if currentOnly && !candidate.Current {
			continue
		}
		if latest == nil ||
			candidate.CreatedAt.After(latest.CreatedAt) ||
			(candidate.CreatedAt.Equal(latest.CreatedAt) && candidate.ID > latest.ID) {
			latest = candidate
		}
	}
	return latest
}

// insertWithCurrency persists a new current identification, absorbing a
// lost currency race by keeping the record as superseded.
func (e *Engine) insertWithCurrency(ctx context.Context, identification *Identification) error {
	err := e.store.InsertCurrent(ctx, identification)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCurrencyConflict) {
		logger.Debug("currency race lost on create, keeping record superseded",
			"observation_id", identification.ObservationID,
			"user_id", identification.UserID,
		)
		if e.metrics != nil {
			e.metrics.RecordCurrencyConflict()
		}
		identification.Current = false
		if err := e.store.Insert(ctx, identification); err != nil {
			return errors.Wrap(err).
				Component("ident").
				Category(errors.CategoryDatabase).
				ObservationContext(identification.ObservationID, identification.UserID).
				Build()
		}
		return nil
	}
	return errors.Wrap(err).
		Component("ident").
		Category(errors.CategoryDatabase).
		ObservationContext(identification.ObservationID, identification.UserID).
		Build()
}

// Withdraw logically removes an identification: it is demoted from current
// without promoting another, leaving the user without a current
// identification on the observation.
func (e *Engine) Withdraw(ctx context.Context, identificationID int64) error {
	identification, err := e.store.GetIdentification(ctx, identificationID)
	if err != nil {
		e.metrics.RecordOperation("withdraw", "error")
		return e.lookupErr(err, identificationID)
	}

	e.locks.lock(identification.ObservationID)
	defer e.locks.unlock(identification.ObservationID)

	if err := e.tracker.Withdraw(ctx, identificationID); err != nil {
		e.metrics.RecordOperation("withdraw", "error")
		return err
	}
	if _, err := e.recomputeLocked(ctx, identification.ObservationID); err != nil {
		return err
	}
	e.publish(events.NewIdentificationEvent(identification.ObservationID, identification.UserID, events.ReasonWithdrawn))
	e.metrics.RecordOperation("withdraw", "success")
	return nil
}

// Restore makes a withdrawn identification current again.
func (e *Engine) Restore(ctx context.Context, identificationID int64) error {
	identification, err := e.store.GetIdentification(ctx, identificationID)
	if err != nil {
		e.metrics.RecordOperation("restore", "error")
		return e.lookupErr(err, identificationID)
	}

	e.locks.lock(identification.ObservationID)
	defer e.locks.unlock(identification.ObservationID)

	if err := e.tracker.MarkCurrent(ctx, identification.ObservationID, identification.UserID, identificationID); err != nil {
		e.metrics.RecordOperation("restore", "error")
		return err
	}
	if _, err := e.recomputeLocked(ctx, identification.ObservationID); err != nil {
		return err
	}
	e.publish(events.NewIdentificationEvent(identification.ObservationID, identification.UserID, events.ReasonRestored))
	e.metrics.RecordOperation("restore", "success")
	return nil
}

// Delete removes an identification outright. When the deleted record was
// current, currency falls back to the most recently created remaining
// identification for the same user; an empty remainder is not an error.
func (e *Engine) Delete(ctx context.Context, identificationID int64) error {
	identification, err := e.store.GetIdentification(ctx, identificationID)
	if err != nil {
		e.metrics.RecordOperation("delete", "error")
		return e.lookupErr(err, identificationID)
	}

	e.locks.lock(identification.ObservationID)
	defer e.locks.unlock(identification.ObservationID)

	wasCurrent := identification.Current
	if err := e.store.DeleteIdentification(ctx, identificationID); err != nil {
		e.metrics.RecordOperation("delete", "error")
		return errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			Context("identification_id", identificationID).
			Build()
	}

	if wasCurrent {
		if _, _, err := e.tracker.RestoreCurrency(ctx, identification.ObservationID, identification.UserID); err != nil {
			e.metrics.RecordOperation("delete", "error")
			return err
		}
	}

	if _, err := e.recomputeLocked(ctx, identification.ObservationID); err != nil {
		return err
	}
	e.publish(events.NewIdentificationEvent(identification.ObservationID, identification.UserID, events.ReasonDeleted))
	e.metrics.RecordOperation("delete", "success")
	return nil
}

func (e *Engine) lookupErr(err error, identificationID int64) error {
	if errors.Is(err, ErrNotFound) {
		return errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryNotFound).
			Context("identification_id", identificationID).
			Build()
	}
	return errors.Wrap(err).
		Component("ident").
		Category(errors.CategoryDatabase).
		Context("identification_id", identificationID).
		Build()
}

// RecomputeCategories reassigns categories for one observation from a
// fresh read of its identification list and community taxon.
func (e *Engine) RecomputeCategories(ctx context.Context, observationID int64) (CategoryAssignment, error) {
	e.locks.lock(observationID)
	defer e.locks.unlock(observationID)
	return e.recomputeLocked(ctx, observationID)
}

// recomputeLocked runs the categorization pass; callers hold the
// observation lock.
func (e *Engine) recomputeLocked(ctx context.Context, observationID int64) (CategoryAssignment, error) {
	start := time.Now()

	identifications, err := e.store.ListByObservation(ctx, observationID)
	if err != nil {
		e.metrics.RecordCategorizeRun("error", time.Since(start).Seconds())
		return nil, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			ObservationContext(observationID, 0).
			Build()
	}
	if len(identifications) == 0 {
		// Category is undefined for an empty identification set.
		return CategoryAssignment{}, nil
	}

	communityTaxonID, hasCommunity, err := e.consensus.CommunityTaxon(ctx, observationID)
	if err != nil {
		e.metrics.RecordCategorizeRun("error", time.Since(start).Seconds())
		return nil, e.consensusErr(err, observationID)
	}
	if !hasCommunity {
		communityTaxonID = 0
	}

	snap, err := taxonomy.Prefetch(ctx, e.oracle, DistinctTaxonIDs(identifications, communityTaxonID))
	if err != nil {
		e.metrics.RecordCategorizeRun("error", time.Since(start).Seconds())
		return nil, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryTaxonomy).
			ObservationContext(observationID, 0).
			Build()
	}

	changed := CategorizeChanged(identifications, communityTaxonID, snap)
	for category, ids := range changed {
		if len(ids) == 0 {
			continue
		}
		if err := e.store.UpdateCategories(ctx, ids, category); err != nil {
			e.metrics.RecordCategorizeRun("error", time.Since(start).Seconds())
			return nil, errors.Wrap(err).
				Component("ident").
				Category(errors.CategoryDatabase).
				ObservationContext(observationID, 0).
				Build()
		}
		e.metrics.RecordCategoryAssigned(string(category), len(ids))
	}

	e.metrics.RecordCategorizeRun("success", time.Since(start).Seconds())
	return changed, nil
}

// InAgreementWith reports whether an identification asserting taxonID
// agrees with another asserting otherTaxonID: the taxa match, or taxonID
// descends from otherTaxonID.
func (e *Engine) InAgreementWith(ctx context.Context, taxonID, otherTaxonID int64) (bool, error) {
	if otherTaxonID == 0 {
		return false, nil
	}
	if taxonID == otherTaxonID {
		return true, nil
	}
	selfAndAncestors, err := e.oracle.SelfAndAncestorIDs(ctx, taxonID)
	if err != nil {
		return false, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}
	return containsID(selfAndAncestors, otherTaxonID), nil
}

// UpdateDisagreementsForTaxon clears disagreement on identifications whose
// taxon now contains their previous observation taxon in its
// self-and-ancestor set. Run after grafting moves reshape the hierarchy
// under the given taxon.
func (e *Engine) UpdateDisagreementsForTaxon(ctx context.Context, taxonID int64) (int, error) {
	identifications, err := e.store.ListDisagreementsWithAncestor(ctx, taxonID)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			TaxonContext(taxonID).
			Build()
	}

	cleared := 0
	for i := range identifications {
		identification := &identifications[i]
		if identification.PreviousObservationTaxonID == 0 {
			continue
		}
		selfAndAncestors, err := e.oracle.SelfAndAncestorIDs(ctx, identification.TaxonID)
		if err != nil {
			return cleared, errors.Wrap(err).
				Component("ident").
				Category(errors.CategoryTaxonomy).
				TaxonContext(identification.TaxonID).
				Build()
		}
		if !containsID(selfAndAncestors, identification.PreviousObservationTaxonID) {
			continue
		}
		err = e.store.UpdateIdentification(ctx, identification.ID, map[string]any{
			"disagreement": false,
		})
		if err != nil {
			return cleared, errors.Wrap(err).
				Component("ident").
				Category(errors.CategoryDatabase).
				Context("identification_id", identification.ID).
				Build()
		}
		cleared++
	}

	if cleared > 0 {
		logger.Info("cleared disagreements under taxon", "taxon_id", taxonID, "count", cleared)
	}
	return cleared, nil
}

func (e *Engine) publish(event events.IdentificationEvent) {
	if e.bus == nil {
		return
	}
	e.bus.TryPublish(event)
}
