package datastore

import (
	"context"
	"time"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/ident"
	"gorm.io/gorm"
)

// InsertCurrent atomically demotes every other identification for the
// record's (observation, user) pair and inserts the record with
// current=true. A uniqueness violation means a concurrent writer won the
// race; the transaction rolls back and ident.ErrCurrencyConflict is
// returned.
func (ds *DataStore) InsertCurrent(ctx context.Context, identification *ident.Identification) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demote := tx.Model(&ident.Identification{}).
			Where("observation_id = ? AND user_id = ? AND current = ?",
				identification.ObservationID, identification.UserID, true).
			Update("current", false)
		if demote.Error != nil {
			return demote.Error
		}

		identification.Current = true
		if err := tx.Create(identification).Error; err != nil {
			if isUniqueViolation(err) {
				return ident.ErrCurrencyConflict
			}
			return err
		}
		return nil
	})
	ds.recordOp("insert_current", start, err)
	if err != nil {
		if errors.Is(err, ident.ErrCurrencyConflict) {
			return ident.ErrCurrencyConflict
		}
		return dbError(err, "insert_current")
	}
	return nil
}

// Insert persists an identification without touching currency state.
func (ds *DataStore) Insert(ctx context.Context, identification *ident.Identification) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(identification).Error
	ds.recordOp("insert", start, err)
	if err != nil {
		return dbError(err, "insert")
	}
	return nil
}

// GetIdentification fetches one identification by ID.
func (ds *DataStore) GetIdentification(ctx context.Context, id int64) (*ident.Identification, error) {
	var identification ident.Identification
	err := ds.DB.WithContext(ctx).First(&identification, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ident.ErrNotFound
		}
		return nil, dbError(err, "get_identification")
	}
	return &identification, nil
}

// ListByObservation returns every identification for an observation,
// ordered by ascending ID.
func (ds *DataStore) ListByObservation(ctx context.Context, observationID int64) ([]ident.Identification, error) {
	var identifications []ident.Identification
	err := ds.DB.WithContext(ctx).
		Where("observation_id = ?", observationID).
		Order("id ASC").
		Find(&identifications).Error
	if err != nil {
		return nil, dbError(err, "list_by_observation")
	}
	return identifications, nil
}

// ListCurrentByTaxa returns current identifications whose taxon is in the
// given set, ordered by ascending ID.
func (ds *DataStore) ListCurrentByTaxa(ctx context.Context, taxonIDs []int64) ([]ident.Identification, error) {
	if len(taxonIDs) == 0 {
		return nil, nil
	}
	var identifications []ident.Identification
	err := ds.DB.WithContext(ctx).
		Where("taxon_id IN ? AND current = ?", taxonIDs, true).
		Order("id ASC").
		Find(&identifications).Error
	if err != nil {
		return nil, dbError(err, "list_current_by_taxa")
	}
	return identifications, nil
}

// ListCurrentDisagreementsByPreviousTaxa returns current identifications
// with disagreement=true whose previous observation taxon is in the set.
func (ds *DataStore) ListCurrentDisagreementsByPreviousTaxa(ctx context.Context, taxonIDs []int64) ([]ident.Identification, error) {
	if len(taxonIDs) == 0 {
		return nil, nil
	}
	var identifications []ident.Identification
	err := ds.DB.WithContext(ctx).
		Where("previous_observation_taxon_id IN ? AND disagreement = ? AND current = ?",
			taxonIDs, true, true).
		Order("id ASC").
		Find(&identifications).Error
	if err != nil {
		return nil, dbError(err, "list_current_disagreements_by_previous_taxa")
	}
	return identifications, nil
}

// ListDisagreementsWithAncestor returns identifications with
// disagreement=true whose taxon descends from the given ancestor, joined
// through the ancestry closure table.
func (ds *DataStore) ListDisagreementsWithAncestor(ctx context.Context, ancestorTaxonID int64) ([]ident.Identification, error) {
	var identifications []ident.Identification
	err := ds.DB.WithContext(ctx).
		Joins("JOIN taxon_ancestors ON taxon_ancestors.taxon_id = identifications.taxon_id").
		Where("taxon_ancestors.ancestor_id = ? AND identifications.disagreement = ?",
			ancestorTaxonID, true).
		Order("identifications.id ASC").
		Find(&identifications).Error
	if err != nil {
		return nil, dbError(err, "list_disagreements_with_ancestor")
	}
	return identifications, nil
}

// HasTaxonChangeReplay reports whether a replay identification for the
// given taxon change already exists for the (observation, user) pair.
func (ds *DataStore) HasTaxonChangeReplay(ctx context.Context, observationID, userID, taxonChangeID int64) (bool, error) {
	var count int64
	err := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Where("observation_id = ? AND user_id = ? AND taxon_change_id = ?",
			observationID, userID, taxonChangeID).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "has_taxon_change_replay")
	}
	return count > 0, nil
}

// UpdateIdentification updates the given fields of one identification.
func (ds *DataStore) UpdateIdentification(ctx context.Context, id int64, fields map[string]any) error {
	start := time.Now()
	result := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Where("id = ?", id).
		Updates(fields)
	ds.recordOp("update_identification", start, result.Error)
	if result.Error != nil {
		return dbError(result.Error, "update_identification")
	}
	if result.RowsAffected == 0 {
		return ident.ErrNotFound
	}
	return nil
}

// UpdateCategories sets the category on a batch of identifications.
func (ds *DataStore) UpdateCategories(ctx context.Context, ids []int64, category ident.Category) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	err := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Where("id IN ?", ids).
		Update("category", string(category)).Error
	ds.recordOp("update_categories", start, err)
	if err != nil {
		return dbError(err, "update_categories")
	}
	return nil
}

// MarkCurrent atomically demotes every other identification for the pair
// and promotes the given one.
func (ds *DataStore) MarkCurrent(ctx context.Context, observationID, userID, id int64) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demote := tx.Model(&ident.Identification{}).
			Where("observation_id = ? AND user_id = ? AND current = ? AND id <> ?",
				observationID, userID, true, id).
			Update("current", false)
		if demote.Error != nil {
			return demote.Error
		}

		promote := tx.Model(&ident.Identification{}).
			Where("id = ?", id).
			Update("current", true)
		if promote.Error != nil {
			if isUniqueViolation(promote.Error) {
				return ident.ErrCurrencyConflict
			}
			return promote.Error
		}
		if promote.RowsAffected == 0 {
			return ident.ErrNotFound
		}
		return nil
	})
	ds.recordOp("mark_current", start, err)
	if err != nil {
		if errors.Is(err, ident.ErrCurrencyConflict) || errors.Is(err, ident.ErrNotFound) {
			return err
		}
		return dbError(err, "mark_current")
	}
	return nil
}

// Demote sets current=false on one identification.
func (ds *DataStore) Demote(ctx context.Context, id int64) error {
	start := time.Now()
	result := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Where("id = ?", id).
		Update("current", false)
	ds.recordOp("demote", start, result.Error)
	if result.Error != nil {
		return dbError(result.Error, "demote")
	}
	if result.RowsAffected == 0 {
		return ident.ErrNotFound
	}
	return nil
}

// LatestRemaining returns the most recently created identification for the
// pair, ordered by created_at then ID.
func (ds *DataStore) LatestRemaining(ctx context.Context, observationID, userID int64) (*ident.Identification, bool, error) {
	var identification ident.Identification
	err := ds.DB.WithContext(ctx).
		Where("observation_id = ? AND user_id = ?", observationID, userID).
		Order("created_at DESC").
		Order("id DESC").
		First(&identification).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, dbError(err, "latest_remaining")
	}
	return &identification, true, nil
}

// DeleteIdentification removes one identification.
func (ds *DataStore) DeleteIdentification(ctx context.Context, id int64) error {
	start := time.Now()
	result := ds.DB.WithContext(ctx).Delete(&ident.Identification{}, id)
	ds.recordOp("delete_identification", start, result.Error)
	if result.Error != nil {
		return dbError(result.Error, "delete_identification")
	}
	if result.RowsAffected == 0 {
		return ident.ErrNotFound
	}
	return nil
}

// CurrencyViolations returns every (observation, user) pair holding more
// than one current identification.
func (ds *DataStore) CurrencyViolations(ctx context.Context) ([]CurrencyViolation, error) {
	var violations []CurrencyViolation
	err := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Select("observation_id, user_id, COUNT(*) AS count").
		Where("current = ?", true).
		Group("observation_id, user_id").
		Having("COUNT(*) > 1").
		Scan(&violations).Error
	if err != nil {
		return nil, dbError(err, "currency_violations")
	}
	return violations, nil
}

func (ds *DataStore) recordOp(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ds.metrics.RecordOperation(operation, status, time.Since(start).Seconds())
}

func dbError(err error, operation string) error {
	return errors.Wrap(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
