// Package config loads and validates the stagegate configuration file and
// watches it for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stagegate/stagegate/pkg/history"
	"github.com/stagegate/stagegate/pkg/quorum"
	"github.com/stagegate/stagegate/pkg/staging"
	"github.com/stagegate/stagegate/pkg/telemetry"
)

// Config is the root configuration for a stagegate agent.
type Config struct {
	// Database names the target database; it keys rendezvous namespaces
	// alongside the plan hash.
	Database string `yaml:"database" validate:"required"`

	// Manifest is the path of the migration manifest the CLI operates on.
	Manifest string `yaml:"manifest"`

	// Stages configures migration stage overrides and fallbacks.
	Stages StagesConfig `yaml:"stages"`

	// Deploy configures the deployment driver.
	Deploy DeployConfig `yaml:"deploy"`

	// Quorum selects and configures the rendezvous backend.
	Quorum quorum.Config `yaml:"quorum"`

	// History configures the deployment run store.
	History history.Config `yaml:"history"`

	// Logging configures structured logging.
	Logging telemetry.LoggingConfig `yaml:"logging"`

	// Tracing configures distributed tracing.
	Tracing telemetry.TracingConfig `yaml:"tracing"`

	// Metrics configures the Prometheus endpoint.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// StagesConfig is the externally loaded stage configuration. Values are
// stage names ("pre-deploy" or "post-deploy") keyed by "app.name" or "app".
type StagesConfig struct {
	// Overrides forces a stage regardless of a migration's own signals.
	Overrides map[string]string `yaml:"overrides"`

	// Fallbacks resolves migrations whose operations disagree.
	Fallbacks map[string]string `yaml:"fallbacks"`

	// ThirdPartyApps lists app labels owned by external packages.
	ThirdPartyApps []string `yaml:"third_party_apps"`

	// ThirdPartyDefault is the fallback stage seeded for third-party apps.
	ThirdPartyDefault string `yaml:"third_party_default"`
}

// DeployConfig configures the deployment driver's rendezvous behavior.
type DeployConfig struct {
	// Quorum is the number of agents that must rendezvous per phase.
	Quorum int `yaml:"quorum" validate:"min=1"`

	// PollInterval is the delay between quorum polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WaitTimeout bounds the total time spent waiting for quorum.
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// MigrateCommand is the argv run to apply one plan entry. Empty means
	// the agent only coordinates and logs (dry-run execution).
	MigrateCommand []string `yaml:"migrate_command"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Database: "default",
		Deploy: DeployConfig{
			Quorum:       1,
			PollInterval: time.Second,
			WaitTimeout:  10 * time.Minute,
		},
		Quorum: quorum.Config{
			Backend: quorum.BackendMemory,
			TTL:     quorum.DefaultTTL,
		},
		History: history.Config{Path: "stagegate.db"},
		Logging: telemetry.DefaultLoggingConfig(),
		Tracing: telemetry.DefaultTracingConfig(),
		Metrics: telemetry.DefaultMetricsConfig(),
	}
}

// Load reads, parses and validates the configuration file, applying
// defaults for everything the file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, including every stage name in the
// override and fallback maps. Problems surface here, before any deployment
// work starts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.ResolverConfig(); err != nil {
		return err
	}
	if err := telemetry.ValidateLogging(c.Logging); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := telemetry.ValidateTracing(c.Tracing); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := telemetry.ValidateMetrics(c.Metrics); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ResolverConfig converts the stage maps into the typed configuration the
// staging resolver consumes.
func (c *Config) ResolverConfig() (staging.ResolverConfig, error) {
	parseMap := func(name string, src map[string]string) (staging.StageMap, error) {
		if len(src) == 0 {
			return nil, nil
		}
		dst := make(staging.StageMap, len(src))
		for key, value := range src {
			stage, err := staging.ParseStage(value)
			if err != nil {
				return nil, fmt.Errorf("stages.%s[%q]: %w", name, key, err)
			}
			dst[key] = stage
		}
		return dst, nil
	}

	overrides, err := parseMap("overrides", c.Stages.Overrides)
	if err != nil {
		return staging.ResolverConfig{}, err
	}
	fallbacks, err := parseMap("fallbacks", c.Stages.Fallbacks)
	if err != nil {
		return staging.ResolverConfig{}, err
	}

	thirdPartyDefault := staging.StageUnset
	if c.Stages.ThirdPartyDefault != "" {
		thirdPartyDefault, err = staging.ParseStage(c.Stages.ThirdPartyDefault)
		if err != nil {
			return staging.ResolverConfig{}, fmt.Errorf("stages.third_party_default: %w", err)
		}
	}

	return staging.ResolverConfig{
		Overrides:         overrides,
		Fallbacks:         fallbacks,
		ThirdPartyApps:    c.Stages.ThirdPartyApps,
		ThirdPartyDefault: thirdPartyDefault,
	}, nil
}
