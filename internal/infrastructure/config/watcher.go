package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher hot-reloads the CORS allow-list and reasoning-mode default from
// the config file using fsnotify, the same file-change signal viper itself
// wraps. The CORS middleware reads the allow-list through Watcher on every
// request; the HTTP handlers take their reasoning mode from Config once at
// startup and never call ReasoningMode, so a reload does not change the
// mode in effect. Everything else in Config (listener, upstream, auth, cache sizes)
// requires a restart — those fields are read once at startup by main, never
// through Watcher. Adapted from the teacher's polling ConfigWatcher, traded
// for an event-driven fsnotify.Watcher since the dependency is already part
// of the stack.
type Watcher struct {
	mu     sync.RWMutex
	v      *viper.Viper
	cors   CORSConfig
	mode   string
	logger *zap.Logger
}

// NewWatcher wraps the viper instance that produced cfg and begins watching
// its config file for writes. v must be the same *viper.Viper Load used
// internally; callers that only have the unmarshaled Config should skip
// hot-reload and use Load's static result directly.
func NewWatcher(v *viper.Viper, initial *Config, logger *zap.Logger) *Watcher {
	w := &Watcher{
		v:      v,
		cors:   initial.CORS,
		mode:   initial.Upstream.ReasoningMode,
		logger: logger.With(zap.String("component", "config-watcher")),
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		w.reload()
	})
	v.WatchConfig()
	return w
}

func (w *Watcher) reload() {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		w.logger.Warn("config reload failed, keeping previous values", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.cors = cfg.CORS
	w.mode = cfg.Upstream.ReasoningMode
	w.mu.Unlock()
	w.logger.Info("config reloaded",
		zap.Strings("cors_allowed_origins", cfg.CORS.AllowedOrigins),
		zap.String("reasoning_mode", cfg.Upstream.ReasoningMode),
	)
}

// CORS returns the current allow-list (thread-safe).
func (w *Watcher) CORS() CORSConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cors
}

// ReasoningMode returns the current default reasoning mode (thread-safe).
func (w *Watcher) ReasoningMode() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mode
}
