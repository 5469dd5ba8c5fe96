package datastore

import (
	"context"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/ident"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveObservation upserts one observation row.
func (ds *DataStore) SaveObservation(ctx context.Context, observation *ident.Observation) error {
	err := ds.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(observation).Error
	if err != nil {
		return dbError(err, "save_observation")
	}
	return nil
}

// GetObservation fetches one observation by ID.
func (ds *DataStore) GetObservation(ctx context.Context, observationID int64) (*ident.Observation, error) {
	var observation ident.Observation
	err := ds.DB.WithContext(ctx).First(&observation, observationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("observation %d not found", observationID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				ObservationContext(observationID, 0).
				Build()
		}
		return nil, dbError(err, "get_observation")
	}
	return &observation, nil
}

// SetCommunityTaxon persists the externally computed community taxon.
func (ds *DataStore) SetCommunityTaxon(ctx context.Context, observationID, taxonID int64) error {
	result := ds.DB.WithContext(ctx).
		Model(&ident.Observation{}).
		Where("id = ?", observationID).
		Update("community_taxon_id", taxonID)
	if result.Error != nil {
		return dbError(result.Error, "set_community_taxon")
	}
	if result.RowsAffected == 0 {
		return errors.Newf("observation %d not found", observationID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			ObservationContext(observationID, 0).
			Build()
	}
	return nil
}

// CommunityTaxon implements ident.ConsensusHolder.
func (ds *DataStore) CommunityTaxon(ctx context.Context, observationID int64) (int64, bool, error) {
	observation, err := ds.GetObservation(ctx, observationID)
	if err != nil {
		return 0, false, err
	}
	if observation.CommunityTaxonID == 0 {
		return 0, false, nil
	}
	return observation.CommunityTaxonID, true, nil
}

// ProbableTaxon implements ident.ConsensusHolder. The stored consensus
// does not re-derive history, so beforeIdentID is not consulted; the
// persisted community taxon stands in for the probable taxon.
func (ds *DataStore) ProbableTaxon(ctx context.Context, observationID, beforeIdentID int64) (int64, bool, error) {
	return ds.CommunityTaxon(ctx, observationID)
}

// PrefersCommunityTaxon implements ident.ConsensusHolder. Community mode
// is active unless the observation or its observer opted out.
func (ds *DataStore) PrefersCommunityTaxon(ctx context.Context, observationID int64) (bool, error) {
	observation, err := ds.GetObservation(ctx, observationID)
	if err != nil {
		return false, err
	}
	return !observation.OptedOut && !observation.ObserverOptedOut, nil
}

// ObservationTaxon implements ident.ConsensusHolder.
func (ds *DataStore) ObservationTaxon(ctx context.Context, observationID int64) (int64, bool, error) {
	observation, err := ds.GetObservation(ctx, observationID)
	if err != nil {
		return 0, false, err
	}
	if observation.TaxonID == 0 {
		return 0, false, nil
	}
	return observation.TaxonID, true, nil
}

// ObserverID implements ident.ConsensusHolder.
func (ds *DataStore) ObserverID(ctx context.Context, observationID int64) (int64, error) {
	observation, err := ds.GetObservation(ctx, observationID)
	if err != nil {
		return 0, err
	}
	return observation.ObserverID, nil
}

// ListObservationIDs returns every observation ID holding at least one
// identification, for batch recategorization.
func (ds *DataStore) ListObservationIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := ds.DB.WithContext(ctx).
		Model(&ident.Identification{}).
		Distinct("observation_id").
		Order("observation_id ASC").
		Pluck("observation_id", &ids).Error
	if err != nil {
		return nil, dbError(err, "list_observation_ids")
	}
	return ids, nil
}
