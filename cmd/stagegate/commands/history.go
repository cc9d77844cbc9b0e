package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/history"
	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
)

func newHistoryCommand() *cobra.Command {
	var (
		manifestFile string
		planHash     string
		backward     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded deployment runs for a plan",
		Long: `History lists this agent's recorded runs for a plan, most recent first.

The plan hash is computed from the manifest by default; pass --plan-hash to
inspect runs of an older plan.`,
		Example: `  # Runs of the current plan
  stagegate history -c stagegate.yaml

  # Runs of a specific plan
  stagegate history --plan-hash 3f2a... -c stagegate.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("history is disabled: set history.path in the config file")
			}

			if planHash == "" {
				path, err := manifestPath(manifestFile, cfg)
				if err != nil {
					return err
				}
				manifest, err := schema.LoadManifest(path)
				if err != nil {
					return err
				}
				direction := staging.DirectionForward
				if backward {
					direction = staging.DirectionBackward
				}
				planHash = staging.HashPlan(manifest.Plan(direction))
			}

			store, err := history.NewSQLiteStore(cfg.History)
			if err != nil {
				return err
			}
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), planHash)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Printf("no runs recorded for plan %s\n", planHash)
				return nil
			}
			fmt.Printf("%-36s  %-5s  %-10s  %-7s  %s\n", "RUN", "PHASE", "STATUS", "ENTRIES", "STARTED")
			for _, run := range runs {
				fmt.Printf("%-36s  %-5s  %-10s  %-7d  %s\n",
					run.ID, run.Phase, run.Status, run.Entries, run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "manifest file path (overrides config)")
	cmd.Flags().StringVar(&planHash, "plan-hash", "", "inspect runs of a specific plan hash")
	cmd.Flags().BoolVar(&backward, "backward", false, "hash the revert plan instead of the forward plan")

	return cmd
}
