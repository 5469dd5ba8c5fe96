// Package taxonchange implements the taxon-change propagation subcommand.
package taxonchange

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/ident"
	"github.com/tphakala/identree-go/internal/runtime"
	"gopkg.in/yaml.v3"
)

// changeFile is the YAML description of one committed taxon change.
//
//	id: 4101
//	type: swap
//	input_taxa: [812]
//	output_taxa: [813]
type changeFile struct {
	ID         int64   `yaml:"id"`
	Type       string  `yaml:"type"`
	InputTaxa  []int64 `yaml:"input_taxa"`
	OutputTaxa []int64 `yaml:"output_taxa"`

	// Splits need a per-record destination; the file maps observation IDs
	// to the output taxon chosen for them. Records with no mapping are
	// skipped, matching an unresolvable split.
	SplitOutputs map[int64]int64 `yaml:"split_outputs,omitempty"`
}

var dryRun bool

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonchange [change.yaml]",
		Short: "Propagate a committed taxon change",
		Long:  "Replay current identifications of the change's input taxa onto the output taxa, as described by a YAML change file. Safe to re-run; already replayed records are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0])
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate the change file without applying it")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading change file: %w", err)
	}

	var file changeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing change file: %w", err)
	}

	change := &ident.TaxonChange{
		ID:             file.ID,
		Type:           ident.ChangeType(file.Type),
		InputTaxonIDs:  file.InputTaxa,
		OutputTaxonIDs: file.OutputTaxa,
	}
	if change.Type == ident.ChangeSplit {
		outputs := file.SplitOutputs
		change.OutputFor = func(ctx context.Context, identification *ident.Identification) (int64, bool, error) {
			taxonID, ok := outputs[identification.ObservationID]
			return taxonID, ok, nil
		}
	}

	if err := change.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("change %d (%s) is valid: %d input taxa, %d output taxa\n",
			change.ID, change.Type, len(change.InputTaxonIDs), len(change.OutputTaxonIDs))
		return nil
	}

	svc, err := runtime.Bootstrap(settings)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	result, err := svc.Engine.ApplyTaxonChange(ctx, change)
	if err != nil {
		return err
	}

	fmt.Printf("change %d (%s): %d replayed, %d skipped, %d rewritten, %d cleared, %d observations recategorized\n",
		change.ID, change.Type, result.Replayed, result.Skipped,
		result.Rewritten, result.Cleared, result.Observations)
	return nil
}
