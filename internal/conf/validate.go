package conf

import (
	"fmt"
)

// ValidateSettings checks that the loaded settings are internally consistent.
// It is called by Load before the settings instance is published.
func ValidateSettings(settings *Settings) error {
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return fmt.Errorf("only one database output can be enabled at a time")
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("one of sqlite or mysql output must be enabled")
	}

	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path is required when sqlite output is enabled")
	}

	if settings.Output.MySQL.Enabled {
		if settings.Output.MySQL.Database == "" {
			return fmt.Errorf("output.mysql.database is required when mysql output is enabled")
		}
		if settings.Output.MySQL.Host == "" {
			return fmt.Errorf("output.mysql.host is required when mysql output is enabled")
		}
	}

	if settings.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", settings.Engine.Workers)
	}
	if settings.Engine.QueueSize < 1 {
		return fmt.Errorf("engine.queuesize must be at least 1, got %d", settings.Engine.QueueSize)
	}
	if settings.Engine.BatchSize < 1 {
		return fmt.Errorf("engine.batchsize must be at least 1, got %d", settings.Engine.BatchSize)
	}

	if settings.Taxonomy.CacheTTLMinutes < 0 {
		return fmt.Errorf("taxonomy.cachettlminutes must not be negative")
	}

	return nil
}
