package datastore

import (
	"context"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/taxonomy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveTaxon upserts one taxon row.
func (ds *DataStore) SaveTaxon(ctx context.Context, taxon *taxonomy.Taxon) error {
	err := ds.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(taxon).Error
	if err != nil {
		return dbError(err, "save_taxon")
	}
	return nil
}

// GetTaxon fetches one taxon by ID.
func (ds *DataStore) GetTaxon(ctx context.Context, taxonID int64) (*taxonomy.Taxon, error) {
	var taxon taxonomy.Taxon
	err := ds.DB.WithContext(ctx).First(&taxon, taxonID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("taxon %d not found", taxonID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				TaxonContext(taxonID).
				Build()
		}
		return nil, dbError(err, "get_taxon")
	}
	return &taxon, nil
}

// ReplaceAncestors rewrites the closure rows for one taxon. ancestorIDs is
// root-first, excluding the taxon itself; an empty set leaves the taxon
// ungrafted.
func (ds *DataStore) ReplaceAncestors(ctx context.Context, taxonID int64, ancestorIDs []int64) error {
	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("taxon_id = ?", taxonID).
			Delete(&taxonomy.TaxonAncestor{}).Error; err != nil {
			return err
		}
		if len(ancestorIDs) == 0 {
			return nil
		}
		rows := make([]taxonomy.TaxonAncestor, 0, len(ancestorIDs))
		for depth, ancestorID := range ancestorIDs {
			rows = append(rows, taxonomy.TaxonAncestor{
				TaxonID:    taxonID,
				AncestorID: ancestorID,
				Depth:      depth,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return dbError(err, "replace_ancestors")
	}
	return nil
}

// DeactivateTaxon retires a taxon and records its current synonymous
// replacement. synonymID 0 records no replacement, as after a split.
func (ds *DataStore) DeactivateTaxon(ctx context.Context, taxonID, synonymID int64) error {
	result := ds.DB.WithContext(ctx).
		Model(&taxonomy.Taxon{}).
		Where("id = ?", taxonID).
		Updates(map[string]any{
			"is_active":  false,
			"synonym_id": synonymID,
		})
	if result.Error != nil {
		return dbError(result.Error, "deactivate_taxon")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("taxon %d not found", taxonID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			TaxonContext(taxonID).
			Build()
	}
	return nil
}
