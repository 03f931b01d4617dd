// Package config loads Knots's runtime configuration the way the teacher
// loads its knot/spindle server configs: struct tags bound by
// sethvargo/go-envconfig, with an optional repo-level YAML overlay.
package config

import (
	"context"
	"os"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Sync holds the replication policy knobs from spec.md §6.4.
type Sync struct {
	// Policy is one of "auto", "always", "never".
	Policy       string   `env:"SYNC_POLICY, default=auto" yaml:"policy"`
	AutoBudgetMS int      `env:"SYNC_AUTO_BUDGET_MS, default=750" yaml:"auto_budget_ms"`
	TryLockMS    int      `env:"SYNC_TRY_LOCK_MS, default=0" yaml:"try_lock_ms"`
	FetchArgs    []string `env:"SYNC_FETCH_ARGS, default=--no-tags,--prune" yaml:"fetch_args"`

	// PushBudgetMS is the default per-call push budget (spec.md §4.5.1);
	// not itself enumerated in §6.4 but needed to drive Replication.Push.
	PushBudgetMS int `env:"SYNC_PUSH_BUDGET_MS, default=800" yaml:"push_budget_ms"`
}

// Config is the full set of Knots configuration keys, loadable from the
// environment and overlaid by an optional repo-local knots.yml.
type Config struct {
	Sync           Sync   `env:",prefix=KNOTS_"`
	HotWindowDays  int    `env:"KNOTS_HOT_WINDOW_DAYS, default=7" yaml:"hot_window_days"`
	DefaultProfile string `env:"KNOTS_DEFAULT_PROFILE, default=default" yaml:"default_profile"`
	Remote         string `env:"KNOTS_REMOTE, default=origin" yaml:"remote"`
	Branch         string `env:"KNOTS_BRANCH, default=knots" yaml:"branch"`

	// LockTimeoutSeconds is the ceiling for a blocking lock acquisition
	// (spec.md §5 "Cancellation / timeouts").
	LockTimeoutSeconds int `env:"KNOTS_LOCK_TIMEOUT_SECONDS, default=30" yaml:"lock_timeout_seconds"`

	// MaxPushAttempts bounds the retry-and-rebase loop (spec.md §4.5.1).
	MaxPushAttempts int `env:"KNOTS_MAX_PUSH_ATTEMPTS, default=3" yaml:"max_push_attempts"`
}

// Load reads configuration from the environment, following the same
// envconfig.Process(ctx, &cfg) shape as knotserver/config.Load.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadYAMLOverlay reads a repo-local knots.yml (if present) and overlays
// its values onto cfg. A missing file is not an error; every other field
// in cfg keeps whatever the environment already set.
func LoadYAMLOverlay(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(b, cfg)
}
