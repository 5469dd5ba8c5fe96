package datastore

import (
	"log/slog"
	"strings"
	"time"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/ident"
	"github.com/tphakala/identree-go/internal/taxonomy"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow. 1 second accommodates migration batch queries.
const DefaultSlowQueryThreshold = 1 * time.Second

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn, nil)
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := getLogger().With("db_type", dbType)

	migrationLogger.Debug("Starting database migration")

	tableMappings := []struct {
		model any
		name  string
	}{
		{&ident.Identification{}, "identifications"},
		{&ident.Observation{}, "observations"},
		{&taxonomy.Taxon{}, "taxa"},
		{&taxonomy.TaxonAncestor{}, "taxon_ancestors"},
	}

	for _, table := range tableMappings {
		tableStart := time.Now()
		if err := db.AutoMigrate(table.model); err != nil {
			enhancedErr := errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("operation", "auto_migrate_table").
				Context("db_type", dbType).
				Context("table", table.name).
				Build()
			migrationLogger.Error("Table migration failed",
				"table", table.name,
				"error", enhancedErr)
			return enhancedErr
		}
		migrationLogger.Debug("Table migration completed",
			"table", table.name,
			"duration", time.Since(tableStart))
	}

	if err := createCurrencyIndex(db, dbType, migrationLogger); err != nil {
		return err
	}

	migrationLogger.Debug("Database migration completed successfully",
		"total_duration", time.Since(migrationStart),
		"tables_migrated", len(tableMappings))

	return nil
}

// createCurrencyIndex enforces at most one current identification per
// (observation, user) pair at the storage layer. SQLite gets a partial
// unique index; MySQL lacks partial indexes, so a generated column that is
// NULL for superseded rows carries the unique constraint instead (NULLs
// never collide under UNIQUE).
func createCurrencyIndex(db *gorm.DB, dbType string, log *slog.Logger) error {
	indexName := "idx_identifications_one_current"

	var stmt string
	switch strings.ToLower(dbType) {
	case "sqlite":
		stmt = `CREATE UNIQUE INDEX IF NOT EXISTS idx_identifications_one_current
		        ON identifications (observation_id, user_id) WHERE current = 1`
	case "mysql":
		if !db.Migrator().HasColumn(&ident.Identification{}, "current_marker") {
			addColumn := `ALTER TABLE identifications
			              ADD COLUMN current_marker TINYINT
			              GENERATED ALWAYS AS (IF(current = 1, 1, NULL)) STORED`
			if err := db.Exec(addColumn).Error; err != nil && !isDuplicateSchemaObject(err) {
				return indexError(err, dbType, indexName)
			}
		}
		stmt = `CREATE UNIQUE INDEX idx_identifications_one_current
		        ON identifications (observation_id, user_id, current_marker)`
	default:
		log.Debug("Unsupported database type for currency index, skipping",
			"db_type", dbType)
		return nil
	}

	if err := db.Exec(stmt).Error; err != nil {
		if isDuplicateSchemaObject(err) {
			log.Debug("Currency index already exists, continuing",
				"index", indexName)
			return nil
		}
		return indexError(err, dbType, indexName)
	}

	log.Debug("Currency index created", "index", indexName)
	return nil
}

func isDuplicateSchemaObject(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "duplicate column")
}

func indexError(err error, dbType, indexName string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "create_currency_index").
		Context("db_type", dbType).
		Context("index_name", indexName).
		Build()
}
