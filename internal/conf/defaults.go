// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "IdenTree-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "identree.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("engine.debug", false)
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.queuesize", 1024)
	viper.SetDefault("engine.batchsize", 100)
	viper.SetDefault("engine.eventbus.enabled", true)
	viper.SetDefault("engine.eventbus.buffersize", 10000)
	viper.SetDefault("engine.eventbus.workers", 4)

	viper.SetDefault("taxonomy.debug", false)
	viper.SetDefault("taxonomy.cachettlminutes", 60)
	viper.SetDefault("taxonomy.cachesweepmin", 10)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "identree.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "identree")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "identree")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
