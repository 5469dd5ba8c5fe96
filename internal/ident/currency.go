package ident

import (
	"context"
	"log/slog"

	"github.com/tphakala/identree-go/internal/errors"
)

// CurrencyTracker owns the {current, superseded} state transition for
// identifications: at most one identification per (observation, user) pair
// is current at any time, and every transition happens as one atomic store
// operation.
type CurrencyTracker struct {
	store  Store
	logger *slog.Logger

	// onConflict is invoked when a benign uniqueness race is absorbed.
	onConflict func()
}

// NewCurrencyTracker creates a tracker over the given store.
func NewCurrencyTracker(store Store, logger *slog.Logger) *CurrencyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurrencyTracker{store: store, logger: logger}
}

// SetConflictHook registers a callback fired when a currency race is
// absorbed, used for metrics.
func (t *CurrencyTracker) SetConflictHook(hook func()) {
	t.onConflict = hook
}

// MarkCurrent demotes every other identification for the pair and promotes
// the given one, atomically. A uniqueness race lost to a concurrent writer
// is absorbed: the winner's currency stands and no error is returned.
func (t *CurrencyTracker) MarkCurrent(ctx context.Context, observationID, userID, identificationID int64) error {
	err := t.store.MarkCurrent(ctx, observationID, userID, identificationID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCurrencyConflict) {
		t.absorbConflict(observationID, userID)
		return nil
	}
	return errors.Wrap(err).
		Component("ident").
		Category(errors.CategoryDatabase).
		ObservationContext(observationID, userID).
		Build()
}

// Withdraw demotes one identification without promoting another, leaving
// the user with no current identification on the observation.
func (t *CurrencyTracker) Withdraw(ctx context.Context, identificationID int64) error {
	if err := t.store.Demote(ctx, identificationID); err != nil {
		return errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			Context("identification_id", identificationID).
			Build()
	}
	return nil
}

// RestoreCurrency promotes the most recently created remaining
// identification for the pair, by created_at then ID, after a current
// identification is deleted. An empty pair is not an error; ok is false
// and no identification is promoted.
func (t *CurrencyTracker) RestoreCurrency(ctx context.Context, observationID, userID int64) (int64, bool, error) {
	latest, ok, err := t.store.LatestRemaining(ctx, observationID, userID)
	if err != nil {
		return 0, false, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			ObservationContext(observationID, userID).
			Build()
	}
	if !ok {
		return 0, false, nil
	}
	if latest.Current {
		return latest.ID, true, nil
	}

	err = t.store.MarkCurrent(ctx, observationID, userID, latest.ID)
	if err != nil {
		if errors.Is(err, ErrCurrencyConflict) {
			// Another writer restored currency first; theirs stands.
			t.absorbConflict(observationID, userID)
			return latest.ID, true, nil
		}
		return 0, false, errors.Wrap(err).
			Component("ident").
			Category(errors.CategoryDatabase).
			ObservationContext(observationID, userID).
			Build()
	}
	return latest.ID, true, nil
}

func (t *CurrencyTracker) absorbConflict(observationID, userID int64) {
	t.logger.Debug("currency already set by concurrent writer",
		"observation_id", observationID,
		"user_id", userID,
	)
	if t.onConflict != nil {
		t.onConflict()
	}
}
