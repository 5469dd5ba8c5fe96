// Package verify implements the currency audit subcommand.
package verify

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/runtime"
)

func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Audit the currency invariant",
		Long:  "Scan for (observation, user) pairs holding more than one current identification. A healthy database reports none.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}
}

func run(ctx context.Context, settings *conf.Settings) error {
	svc, err := runtime.Bootstrap(settings)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	violations, err := svc.Store.CurrencyViolations(ctx)
	if err != nil {
		return err
	}

	if len(violations) == 0 {
		fmt.Println("currency invariant holds: no duplicate current identifications")
		return nil
	}

	for _, v := range violations {
		fmt.Printf("observation %d user %d: %d current identifications\n",
			v.ObservationID, v.UserID, v.Count)
	}
	return fmt.Errorf("found %d currency violations", len(violations))
}
