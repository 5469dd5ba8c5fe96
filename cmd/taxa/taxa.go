// Package taxa implements the taxonomy import subcommand.
package taxa

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/runtime"
	"github.com/tphakala/identree-go/internal/taxonomy"
	"gopkg.in/yaml.v3"
)

// taxaFile is the YAML description of a hierarchy snapshot.
//
//	taxa:
//	  - id: 1
//	    name: Animalia
//	    rank: kingdom
//	  - id: 2
//	    name: Chordata
//	    rank: phylum
//	    parent: 1
type taxaFile struct {
	Taxa []taxonEntry `yaml:"taxa"`
}

type taxonEntry struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Rank     string `yaml:"rank"`
	Parent   int64  `yaml:"parent,omitempty"`
	Inactive bool   `yaml:"inactive,omitempty"`
	Synonym  int64  `yaml:"synonym,omitempty"`
}

func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "taxa [taxa.yaml]",
		Short: "Import a taxonomy snapshot",
		Long:  "Load taxa and their parent links from a YAML file, rebuilding the ancestry closure rows used by the taxonomy oracle.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0])
		},
	}
}

func run(ctx context.Context, settings *conf.Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading taxa file: %w", err)
	}

	var file taxaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing taxa file: %w", err)
	}
	if len(file.Taxa) == 0 {
		return fmt.Errorf("taxa file contains no taxa")
	}

	parents := make(map[int64]int64, len(file.Taxa))
	for _, entry := range file.Taxa {
		if entry.ID <= 0 {
			return fmt.Errorf("taxon entry %q has no valid ID", entry.Name)
		}
		parents[entry.ID] = entry.Parent
	}

	svc, err := runtime.Bootstrap(settings)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	for _, entry := range file.Taxa {
		taxon := &taxonomy.Taxon{
			ID:        entry.ID,
			Name:      entry.Name,
			Rank:      entry.Rank,
			ParentID:  entry.Parent,
			IsActive:  !entry.Inactive,
			SynonymID: entry.Synonym,
		}
		if err := svc.Store.SaveTaxon(ctx, taxon); err != nil {
			return err
		}

		ancestors, err := ancestorChain(entry.ID, parents)
		if err != nil {
			return err
		}
		if err := svc.Store.ReplaceAncestors(ctx, entry.ID, ancestors); err != nil {
			return err
		}
		svc.Oracle.Invalidate(entry.ID)
	}

	fmt.Printf("imported %d taxa\n", len(file.Taxa))
	return nil
}

// ancestorChain walks parent links to the root, returning ancestors
// root-first. A parent missing from the file leaves the taxon ungrafted.
func ancestorChain(taxonID int64, parents map[int64]int64) ([]int64, error) {
	var chain []int64
	seen := map[int64]struct{}{taxonID: {}}
	current := parents[taxonID]
	for current != 0 {
		if _, cycle := seen[current]; cycle {
			return nil, fmt.Errorf("parent cycle detected at taxon %d", current)
		}
		seen[current] = struct{}{}
		chain = append(chain, current)
		next, known := parents[current]
		if !known {
			return nil, nil
		}
		current = next
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
