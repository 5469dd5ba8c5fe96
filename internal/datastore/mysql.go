package datastore

import (
	"fmt"

	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/ident"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

var _ Interface = (*MySQLStore)(nil)
var _ ident.Store = (*MySQLStore)(nil)

func validateMySQLConfig(settings *conf.Settings) error {
	mysqlConf := settings.Output.MySQL
	if mysqlConf.Host == "" || mysqlConf.Database == "" || mysqlConf.Username == "" {
		return fmt.Errorf("MySQL configuration requires host, database and username")
	}
	return nil
}

// mysqlDSN builds the connection string. clientFoundRows makes UPDATE
// report matched rows instead of changed rows, so a same-value update
// (e.g. promoting an identification that is already current) is not
// mistaken for a missing record by RowsAffected checks.
func mysqlDSN(settings *conf.Settings) string {
	mysqlConf := settings.Output.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&clientFoundRows=true",
		mysqlConf.Username, mysqlConf.Password,
		mysqlConf.Host, mysqlConf.Port,
		mysqlConf.Database)
}

// Open sets up the MySQL database connection and runs migrations.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	dsn := mysqlDSN(store.Settings)

	newLogger := createGormLogger()

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		getLogger().Error("Failed to open MySQL database",
			"host", store.Settings.Output.MySQL.Host,
			"port", store.Settings.Output.MySQL.Port,
			"database", store.Settings.Output.MySQL.Database,
			"error", err)
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "MySQL", dsn)
}

// Close closes the MySQL database connection.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		getLogger().Error("Failed to retrieve generic DB object", "error", err)
		return err
	}
	if err := sqlDB.Close(); err != nil {
		getLogger().Error("Failed to close MySQL database", "error", err)
		return err
	}
	if store.Settings.Debug {
		getLogger().Debug("MySQL database connection closed successfully")
	}
	return nil
}
