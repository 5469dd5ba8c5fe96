package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tphakala/identree-go/internal/conf"
)

func TestMySQLDSN(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Output.MySQL.Username = "identree"
	settings.Output.MySQL.Password = "secret"
	settings.Output.MySQL.Host = "db.local"
	settings.Output.MySQL.Port = "3306"
	settings.Output.MySQL.Database = "identree"

	dsn := mysqlDSN(settings)

	assert.Contains(t, dsn, "identree:secret@tcp(db.local:3306)/identree")
	// Without clientFoundRows the driver reports changed rows, and no-op
	// updates like re-promoting a current identification would surface as
	// zero rows affected.
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "parseTime=True")
}

func TestValidateMySQLConfig(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Output.MySQL.Host = "db.local"
	settings.Output.MySQL.Database = "identree"

	assert.Error(t, validateMySQLConfig(settings), "username is required")

	settings.Output.MySQL.Username = "identree"
	assert.NoError(t, validateMySQLConfig(settings))
}
