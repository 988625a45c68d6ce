// Package config - watcher.go provides config hot-reload support.
//
// Grounded on the original ConfigWatcher (poll the file, diff the
// reloadable section, invoke callbacks only when something that matters
// actually changed) but built on viper.WatchConfig + OnConfigChange
// (fsnotify under the hood) instead of a hand-rolled os.Stat polling loop.
//
// Only RateLimit is reloadable. Database/Redis addresses, broker
// credentials, and mode require a process restart.
package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Watcher monitors the config file for changes and invokes callbacks when
// the reloadable RateLimit section changes and the new config passes
// validation.
type Watcher struct {
	v   *viper.Viper
	log zerolog.Logger

	mu       sync.RWMutex
	current  *Config
	onChange []func(old, new *Config)
}

// NewWatcher builds a watcher for path. initial is the already-loaded
// config returned by Load for the same path.
func NewWatcher(path string, initial *Config, log zerolog.Logger) *Watcher {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Watcher{
		v:       v,
		log:     log.With().Str("component", "config_watcher").Logger(),
		current: initial,
	}
}

// OnChange registers a callback invoked after a reload that changes
// RateLimit and passes validation. Multiple callbacks may be registered.
func (w *Watcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching the config file. Returns an error if the initial
// read fails; reload failures afterward are logged and the prior config
// is kept in place.
func (w *Watcher) Start() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	w.v.OnConfigChange(func(_ fsnotify.Event) {
		w.handleChange()
	})
	w.v.WatchConfig()
	w.log.Info().Str("file", w.v.ConfigFileUsed()).Msg("watching config file for changes")
	return nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// handleChange is unexported; tests in this package call it directly,
// while production code only ever reaches it through the OnConfigChange
// callback registered in Start.
func (w *Watcher) handleChange() {
	var newCfg Config
	if err := w.v.Unmarshal(&newCfg); err != nil {
		w.log.Warn().Err(err).Msg("config reload: parse error, keeping previous config")
		return
	}
	if err := newCfg.Validate(); err != nil {
		w.log.Warn().Err(err).Msg("config reload: validation error, keeping previous config")
		return
	}

	w.mu.Lock()
	oldCfg := w.current
	if !rateLimitChanged(oldCfg.RateLimit, newCfg.RateLimit) {
		w.mu.Unlock()
		w.log.Debug().Msg("config file changed but rate_limit section unchanged, skipping")
		return
	}
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	w.log.Info().
		Int("requests_per_window_old", oldCfg.RateLimit.RequestsPerWindow).
		Int("requests_per_window_new", newCfg.RateLimit.RequestsPerWindow).
		Dur("window_old", oldCfg.RateLimit.Window).
		Dur("window_new", newCfg.RateLimit.Window).
		Msg("rate_limit config changed")

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

func rateLimitChanged(old, new RateLimitConfig) bool {
	return old.RequestsPerWindow != new.RequestsPerWindow || old.Window != new.Window
}
