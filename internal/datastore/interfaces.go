// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"

	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/ident"
	"github.com/tphakala/identree-go/internal/observability/metrics"
	"github.com/tphakala/identree-go/internal/taxonomy"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation. It combines
// the identification store contract the engine depends on with taxonomy
// persistence and lifecycle management.
type Interface interface {
	ident.Store
	ident.ConsensusHolder

	Open() error
	Close() error

	// Handle exposes the GORM handle for collaborators that query the
	// same database, e.g. the taxonomy oracle.
	Handle() *gorm.DB

	// observation consensus state
	SaveObservation(ctx context.Context, observation *ident.Observation) error
	GetObservation(ctx context.Context, observationID int64) (*ident.Observation, error)
	SetCommunityTaxon(ctx context.Context, observationID, taxonID int64) error
	ListObservationIDs(ctx context.Context) ([]int64, error)

	// taxonomy persistence
	SaveTaxon(ctx context.Context, taxon *taxonomy.Taxon) error
	GetTaxon(ctx context.Context, taxonID int64) (*taxonomy.Taxon, error)
	ReplaceAncestors(ctx context.Context, taxonID int64, ancestorIDs []int64) error
	DeactivateTaxon(ctx context.Context, taxonID, synonymID int64) error

	// currency audit
	CurrencyViolations(ctx context.Context) ([]CurrencyViolation, error)
}

// CurrencyViolation reports a (observation, user) pair holding more than
// one current identification. A healthy database returns none.
type CurrencyViolation struct {
	ObservationID int64
	UserID        int64
	Count         int
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB
	metrics *metrics.DatastoreMetrics
}

// SetMetrics attaches datastore metrics; safe to leave unset.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// Handle returns the underlying GORM handle.
func (ds *DataStore) Handle() *gorm.DB {
	return ds.DB
}

// New creates a datastore instance based on the enabled output database.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}
