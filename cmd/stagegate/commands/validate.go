package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/pkg/schema"
	"github.com/stagegate/stagegate/pkg/staging"
)

// stageReport is one migration's resolution result.
type stageReport struct {
	Migration string `json:"migration"`
	Stage     string `json:"stage"`
	Origin    string `json:"origin"`
	Error     string `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var manifestFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and resolve every migration's stage",
		Long: `Validate loads the migration manifest and resolves the deployment stage of
every migration against the configured overrides and fallbacks.

A migration whose operations disagree and that has neither an explicit stage
nor a fallback is reported as ambiguous, together with the configuration
change that would resolve it.`,
		Example: `  # Validate the manifest named in the config file
  stagegate validate -c stagegate.yaml

  # Validate a specific manifest
  stagegate validate --manifest migrations.yaml`,
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

			var (
				reports   []stageReport
				ambiguous int
			)
			for _, migration := range manifest.Migrations {
				report := stageReport{Migration: migration.Ref().String()}
				stage, origin, err := resolver.Resolve(migration)
				switch {
				case staging.IsAmbiguousStage(err):
					ambiguous++
					report.Error = err.Error()
					if resolver.ThirdParty(migration.AppLabel) {
						report.Error += fmt.Sprintf("; add an override entry for %q", migration.Ref())
					} else {
						report.Error += "; set an explicit stage on the migration or configure a fallback"
					}
				case err != nil:
					return err
				case stage == staging.StageUnset:
					report.Stage = "unconstrained"
					report.Origin = string(origin)
				default:
					report.Stage = string(stage)
					report.Origin = string(origin)
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, report := range reports {
					if report.Error != "" {
						fmt.Printf("%-40s AMBIGUOUS: %s\n", report.Migration, report.Error)
						continue
					}
					fmt.Printf("%-40s %-13s (%s)\n", report.Migration, report.Stage, report.Origin)
				}
			}

			if ambiguous > 0 {
				return fmt.Errorf("%d of %d migrations are ambiguous", ambiguous, len(manifest.Migrations))
			}
			fmt.Printf("%d migrations validated\n", len(manifest.Migrations))
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "manifest file path (overrides config)")

	return cmd
}
