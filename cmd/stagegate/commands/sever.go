package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/quorum"
	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
)

func newSeverCommand() *cobra.Command {
	var (
		manifestFile string
		phase        string
		backward     bool
	)

	cmd := &cobra.Command{
		Use:   "sever",
		Short: "Abandon a rendezvous on behalf of an agent that cannot proceed",
		Long: `Sever dissolves the quorum rendezvous for one phase of the plan. Every
agent still waiting on that rendezvous aborts its deployment instead of
hanging until the wait timeout.

Run it in place of apply on an agent that is being withdrawn from the
deployment, or from an operator console to cancel a stuck rollout. The
withdrawal is recorded in the run history.`,
		Example: `  # Cancel the pre-deploy rendezvous for the current plan
  stagegate sever --phase pre -c stagegate.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase != string(quorum.PhasePreDeploy) && phase != string(quorum.PhasePostDeploy) {
				return fmt.Errorf("invalid phase %q (want %q or %q)", phase, quorum.PhasePreDeploy, quorum.PhasePostDeploy)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
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

			ctx := cmd.Context()
			driver, cleanup, err := buildDriver(ctx, cfg, logger, resolver, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := driver.Sever(ctx, plan, quorum.Phase(phase)); err != nil {
				return err
			}
			fmt.Printf("%s-deploy rendezvous severed\n", phase)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "manifest file path (overrides config)")
	cmd.Flags().StringVarP(&phase, "phase", "p", "", "deployment phase to sever (pre or post)")
	cmd.Flags().BoolVar(&backward, "backward", false, "sever the revert plan's rendezvous")
	cmd.MarkFlagRequired("phase")

	return cmd
}
