package config

import (
	"log/slog"
	"sync"
)

// Runtime holds the subset of configuration that may change while the service runs.
// It is shared by the validation pipeline and the config watcher.
type Runtime struct {
	mu     sync.RWMutex
	bypass bool
	tier   string
	level  *slog.LevelVar
}

// NewRuntime seeds a Runtime from cfg. level may be nil when the log level is not reloadable.
func NewRuntime(cfg *Config, level *slog.LevelVar) *Runtime {
	r := &Runtime{level: level}
	r.bypass = cfg.Validation.Bypass
	r.tier = cfg.Validation.Tier
	if level != nil {
		level.Set(cfg.Logging.Level.SlogLevel())
	}
	return r
}

// ValidationBypass reports whether the validation pipeline is currently skipped.
func (r *Runtime) ValidationBypass() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bypass
}

// ValidationTier returns the tier applied to newly triggered builds.
func (r *Runtime) ValidationTier() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tier
}

// SetValidationBypass toggles the validation bypass.
func (r *Runtime) SetValidationBypass(bypass bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bypass = bypass
}

// Apply copies the runtime-safe fields of cfg. Other fields require a restart.
func (r *Runtime) Apply(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Validation.Bypass != r.bypass {
		slog.Warn("Validation bypass changed", "bypass", cfg.Validation.Bypass)
		r.bypass = cfg.Validation.Bypass
	}
	if cfg.Validation.Tier != r.tier {
		slog.Info("Validation tier changed", "from", r.tier, "to", cfg.Validation.Tier)
		r.tier = cfg.Validation.Tier
	}
	if r.level != nil && r.level.Level() != cfg.Logging.Level.SlogLevel() {
		slog.Info("Log level changed", "level", string(cfg.Logging.Level))
		r.level.Set(cfg.Logging.Level.SlogLevel())
	}
}
