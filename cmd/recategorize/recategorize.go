// Package recategorize implements the batch recategorization subcommand.
package recategorize

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/runtime"
)

var all bool

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recategorize [observation-id ...]",
		Short: "Recompute identification categories",
		Long:  "Re-run the categorization pass for the given observations, or for every observation holding identifications with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("provide observation IDs or --all")
			}
			return run(cmd.Context(), settings, args)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "recategorize every observation with identifications")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, args []string) error {
	svc, err := runtime.Bootstrap(settings)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	observationIDs, err := resolveIDs(ctx, svc, args)
	if err != nil {
		return err
	}

	changed := 0
	for _, observationID := range observationIDs {
		assignment, err := svc.Engine.RecomputeCategories(ctx, observationID)
		if err != nil {
			return fmt.Errorf("observation %d: %w", observationID, err)
		}
		for _, ids := range assignment {
			changed += len(ids)
		}
	}

	fmt.Printf("recategorized %d observations, %d identifications changed\n",
		len(observationIDs), changed)
	return nil
}

func resolveIDs(ctx context.Context, svc *runtime.Services, args []string) ([]int64, error) {
	if all {
		return svc.Store.ListObservationIDs(ctx)
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid observation ID %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
