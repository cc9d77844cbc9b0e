package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
)

// planReport is the machine-readable output of the plan command.
type planReport struct {
	PlanHash string   `json:"plan_hash"`
	Pre      []string `json:"pre_deploy"`
	Post     []string `json:"post_deploy"`
}

func newPlanCommand() *cobra.Command {
	var (
		manifestFile string
		backward     bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Split the migration plan into its deployment phases",
		Long: `Plan loads the manifest, resolves every migration's stage and splits the
resulting plan into the pre-deploy prefix and the post-deploy remainder.

A pre-deploy migration that depends on a post-deploy one cannot be placed in
either phase; the command reports both migrations and the configuration
change that would untangle them.`,
		Example: `  # Show the phases of the forward plan
  stagegate plan -c stagegate.yaml

  # Show the phases of a full revert
  stagegate plan -c stagegate.yaml --backward`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			resolver, err := newResolver(cfg)
			if err != nil {
				return err
			}
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
			plan := manifest.Plan(direction)
			stager := staging.NewStager(resolver)

			pre, err := stager.TrimToPreDeploy(plan)
			if err != nil {
				var planErr *staging.AmbiguousPlanError
				if errors.As(err, &planErr) {
					return fmt.Errorf("plan cannot be staged: %w", planErr)
				}
				return err
			}
			post, err := stager.PostDeployRemainder(plan)
			if err != nil {
				return err
			}

			report := planReport{PlanHash: staging.HashPlan(plan)}
			for _, entry := range pre {
				report.Pre = append(report.Pre, entry.Migration.Ref().String())
			}
			for _, entry := range post {
				report.Post = append(report.Post, entry.Migration.Ref().String())
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("Plan hash: %s\n\n", report.PlanHash)
			fmt.Printf("Pre-deploy (%d):\n", len(report.Pre))
			for _, ref := range report.Pre {
				fmt.Printf("  %s\n", ref)
			}
			fmt.Printf("\nPost-deploy (%d):\n", len(report.Post))
			for _, ref := range report.Post {
				fmt.Printf("  %s\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "manifest file path (overrides config)")
	cmd.Flags().BoolVar(&backward, "backward", false, "stage the revert plan instead of the forward plan")

	return cmd
}
