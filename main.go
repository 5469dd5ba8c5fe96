package main

import (
	"fmt"
	"os"

	"github.com/tphakala/identree-go/cmd"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/logging"
)

// version and buildDate are populated at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
