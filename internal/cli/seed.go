package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the metric display catalog",
	Long: `Insert the built-in metric metadata catalog into the database.

Existing entries are left untouched, so seeding is safe to repeat.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	catalog, err := store.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	added, err := st.SeedMetricMetadata(ctx, catalog)
	if err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]int{"added": added, "total": len(catalog)})
	}
	printer.Success("seeded %d new catalog entries (%d in catalog)", added, len(catalog))
	return nil
}
