// Package config loads the process configuration shared by the
// orchestrator, gateway, and governance binaries from a single YAML file.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ServerConfig carries the HTTP listen addresses for the governance and
// gateway HTTP surfaces.
type ServerConfig struct {
	GovernancePort string `yaml:"governance_port"`
	MetricsPort    string `yaml:"metrics_port"`
}

// GatewayConfig mirrors spec.md §4.2's enumerated configuration knobs.
type GatewayConfig struct {
	MonthlyHardCapUSD   float64          `yaml:"monthly_hard_cap_usd"`
	MonthlySoftAlertUSD float64          `yaml:"monthly_soft_alert_usd"`
	MaxRetries          int              `yaml:"max_retries"`
	BaseDelaySeconds    float64          `yaml:"base_delay_seconds"`
	ContextBudgetByTier map[string]int   `yaml:"context_budget_by_tier"`
	KnownTechniqueIDs   []string         `yaml:"known_technique_ids"`
	Providers           ProvidersConfig  `yaml:"providers"`
}

// ProvidersConfig names the model id used for each capability tier.
type ProvidersConfig struct {
	Tier0  string `yaml:"tier0"`  // Bedrock, cheap/batch
	Tier1  string `yaml:"tier1"`  // Anthropic, standard
	Tier1P string `yaml:"tier1p"` // Anthropic or OpenAI-compatible, escalation
}

// GovernanceConfig carries FP governance defaults.
type GovernanceConfig struct {
	ApprovalWindow        time.Duration `yaml:"approval_window"`
	CanaryMinSamples      int           `yaml:"canary_min_samples"`
	CanaryMaxDisagreement float64       `yaml:"canary_max_disagreement"`
	ShadowWindow          time.Duration `yaml:"shadow_window"`
	DefaultShadowMode     bool          `yaml:"default_shadow_mode"`
}

// StoreConfig carries backend DSNs. Concrete backends are external
// collaborators per spec.md §1; this repo only needs the connection
// strings to construct clients against them.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	PubSubTopic string `yaml:"pubsub_topic"`
}

// NotificationConfig carries the Slack destination used for approval-gate
// notifications. The bot token itself is a secret and is read from the
// SLACK_BOT_TOKEN environment variable, not this file.
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
}

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Gateway      GatewayConfig       `yaml:"gateway"`
	Governance   GovernanceConfig    `yaml:"governance"`
	Store        StoreConfig         `yaml:"store"`
	Notification NotificationConfig `yaml:"notification"`
	LogLevel     string              `yaml:"log_level"`
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with the defaults named in
// spec.md §4.2 (max_retries=3, base_delay_seconds=1, the three context
// budgets) and §4.3 (90-day expiry is a pattern-level invariant, not
// configurable, so it is not repeated here).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GovernancePort: "8080",
			MetricsPort:    "9090",
		},
		Gateway: GatewayConfig{
			MaxRetries:       3,
			BaseDelaySeconds: 1,
			ContextBudgetByTier: map[string]int{
				"tier0":  4096,
				"tier1":  8192,
				"tier1p": 16384,
			},
		},
		Governance: GovernanceConfig{
			ApprovalWindow:        4 * time.Hour,
			CanaryMinSamples:      50,
			CanaryMaxDisagreement: 0.05,
			ShadowWindow:          14 * 24 * time.Hour,
			DefaultShadowMode:     true,
		},
		LogLevel: "info",
	}
}

// Watch reloads path on every write event and calls onChange with the
// newly parsed Config. A config that fails to parse or validate is
// logged and skipped, leaving the previous Config in effect — the
// calling process keeps serving on its last-known-good configuration
// rather than crashing on a bad edit. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log logr.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Error(err, "config: reload failed, keeping previous configuration", "path", path)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "config: watcher error", "path", path)
		}
	}
}

// WatchLogLevel is the one setting every cmd/* binary hot-swaps without a
// restart: every other knob (provider choice, budget caps, tenant
// deadlines) is read once at startup and threaded through constructors,
// but turning up log verbosity to chase a live incident shouldn't require
// bouncing the process. Blocks until ctx is done; run it in a goroutine.
func WatchLogLevel(ctx context.Context, cfgPath string, log logr.Logger, level zap.AtomicLevel) {
	err := Watch(ctx, cfgPath, log, func(cfg *Config) {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			log.Error(err, "config: invalid log_level in reloaded config", "log_level", cfg.LogLevel)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Error(err, "config: watch stopped")
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("gateway.max_retries must be >= 0")
	}
	if c.Gateway.MonthlyHardCapUSD > 0 && c.Gateway.MonthlySoftAlertUSD > c.Gateway.MonthlyHardCapUSD {
		return fmt.Errorf("gateway.monthly_soft_alert_usd must not exceed monthly_hard_cap_usd")
	}
	if c.Governance.CanaryMaxDisagreement < 0 || c.Governance.CanaryMaxDisagreement > 1 {
		return fmt.Errorf("governance.canary_max_disagreement must be within [0,1]")
	}
	return nil
}
