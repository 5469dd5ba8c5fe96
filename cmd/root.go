package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/identree-go/cmd/recategorize"
	"github.com/tphakala/identree-go/cmd/taxa"
	"github.com/tphakala/identree-go/cmd/taxonchange"
	"github.com/tphakala/identree-go/cmd/verify"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/runtime"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "identree",
		Short:   "IdenTree-Go identification engine CLI",
		Long:    "Batch tooling for the identification consensus engine: recategorization, taxon-change propagation, taxonomy import and currency audits.",
		Version: runtime.NewContext(settings).String(),
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		recategorize.Command(settings),
		taxonchange.Command(settings),
		taxa.Command(settings),
		verify.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags configures global flags for the root command
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the SQLite database")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
