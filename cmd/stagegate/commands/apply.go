package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/config"
	"github.com/stagegate/stagegate/pkg/deploy"
	"github.com/stagegate/stagegate/pkg/history"
	"github.com/stagegate/stagegate/pkg/quorum"
	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
	"github.com/stagegate/stagegate/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		manifestFile string
		phase        string
		backward     bool
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply one deployment phase of the migration plan",
		Long: `Apply coordinates this agent through one phase of the staged plan.

The pre phase rendezvouses with the other agents first and applies the
pre-deploy prefix once every agent is ready. The post phase applies the
post-deploy remainder first and rendezvouses once it is done, so the
deployment pipeline can block until the whole fleet has finished.

Each entry is applied by the configured migrate command; with --dry-run, or
when no command is configured, the entries are only logged.`,
		Example: `  # Before deploying the new code
  stagegate apply --phase pre -c stagegate.yaml

  # After the new code is running everywhere
  stagegate apply --phase post -c stagegate.yaml

  # Rehearse the rendezvous without touching the database
  stagegate apply --phase pre --dry-run -c stagegate.yaml`,
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
			driver, cleanup, err := buildDriver(ctx, cfg, logger, resolver, dryRun)
			if err != nil {
				return err
			}
			defer cleanup()

			var applied staging.Plan
			if phase == string(quorum.PhasePreDeploy) {
				applied, err = driver.ApplyPreDeploy(ctx, plan)
			} else {
				applied, err = driver.ApplyPostDeploy(ctx, plan)
			}
			switch {
			case errors.Is(err, quorum.ErrQuorumDissolved):
				return fmt.Errorf("deployment aborted: %w", err)
			case errors.Is(err, deploy.ErrQuorumTimeout):
				return fmt.Errorf("deployment did not assemble: %w", err)
			case err != nil:
				return err
			}

			fmt.Printf("%s-deploy phase complete: %d migrations applied\n", phase, len(applied))
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "manifest file path (overrides config)")
	cmd.Flags().StringVarP(&phase, "phase", "p", "", "deployment phase to apply (pre or post)")
	cmd.Flags().BoolVar(&backward, "backward", false, "apply the revert plan instead of the forward plan")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log entries instead of running the migrate command")
	cmd.MarkFlagRequired("phase")

	return cmd
}

// buildDriver assembles the deployment driver and its collaborators from the
// configuration. The returned cleanup flushes tracing and closes the history
// store.
func buildDriver(ctx context.Context, cfg *config.Config, logger *telemetry.Logger, resolver *staging.Resolver, dryRun bool) (*deploy.Driver, func(), error) {
	coordinator, err := quorum.New(ctx, cfg.Quorum)
	if err != nil {
		return nil, nil, err
	}

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(); err != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	tracer, err := telemetry.NewTracer(cfg.Tracing, "stagegate", buildVersion)
	if err != nil {
		return nil, nil, err
	}

	var store history.Store
	if cfg.History.Path != "" {
		sqliteStore, err := history.NewSQLiteStore(cfg.History)
		if err != nil {
			return nil, nil, err
		}
		if err := sqliteStore.Init(ctx); err != nil {
			return nil, nil, err
		}
		store = sqliteStore
	}

	var executor deploy.Executor
	if dryRun || len(cfg.Deploy.MigrateCommand) == 0 {
		executor = deploy.NewDryRunExecutor(logger)
	} else {
		executor, err = deploy.NewCommandExecutor(cfg.Deploy.MigrateCommand, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	driver, err := deploy.New(deploy.Options{
		Config: deploy.Config{
			Database:     cfg.Database,
			Quorum:       cfg.Deploy.Quorum,
			PollInterval: cfg.Deploy.PollInterval,
			WaitTimeout:  cfg.Deploy.WaitTimeout,
		},
		Coordinator: coordinator,
		Executor:    executor,
		Stager:      staging.NewStager(resolver),
		Store:       store,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("tracer shutdown failed")
		}
		if store != nil {
			if err := store.Close(); err != nil {
				logger.WithError(err).Error("closing history store failed")
			}
		}
	}
	return driver, cleanup, nil
}
