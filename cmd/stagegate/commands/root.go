// Package commands implements the stagegate CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/config"
	"github.com/stagegate/stagegate/pkg/staging"
	"github.com/stagegate/stagegate/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is the binary version, recorded on traces.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagegate",
		Short: "Stagegate - Staged Schema Migration Deployment",
		Long: `Stagegate splits a database migration plan into a pre-deploy phase that is
safe to run against the currently deployed code and a post-deploy phase that
must wait for the new revision, then coordinates a fleet of deployment
agents through both phases with a quorum rendezvous.

Features:
  - Operation-level stage classification with explicit overrides
  - Contiguity checking with actionable diagnostics
  - Quorum rendezvous over memory or Redis backends
  - Deployment run history in SQLite
  - Prometheus metrics and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newSeverCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig loads the configuration file named by --config, or the defaults
// when the flag is unset, and folds the verbosity flags into the logging
// section.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	return cfg, nil
}

// newLogger builds the CLI logger from the loaded configuration.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Logging)
}

// newResolver builds the stage resolver from the loaded configuration.
func newResolver(cfg *config.Config) (*staging.Resolver, error) {
	resolverCfg, err := cfg.ResolverConfig()
	if err != nil {
		return nil, err
	}
	return staging.NewResolver(resolverCfg), nil
}

// manifestPath returns the manifest location, preferring the command flag
// over the config file.
func manifestPath(flagValue string, cfg *config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.Manifest != "" {
		return cfg.Manifest, nil
	}
	return "", fmt.Errorf("no manifest: pass --manifest or set manifest in the config file")
}
