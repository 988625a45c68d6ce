// Package config loads and validates application configuration and
// supports hot-reloading the subset of settings that are safe to change
// without a restart.
//
// Grounded on 0xtitan6-polymarket-mm/internal/config/config.go's
// viper-based Load (YAML + env override via SetEnvPrefix/AutomaticEnv) and
// on the original internal/config/config.go for the overall shape: a Mode
// enum gating stricter validation, and a live-mode safety gate requiring
// both a CLI flag and an environment variable to agree before real
// trading is allowed.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects whether a deployment can place real broker orders.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds every setting the system's components need, loaded once at
// startup and passed down read-only. RateLimit is the one section the
// watcher is allowed to hot-swap.
type Config struct {
	Mode Mode `mapstructure:"mode"`

	DatabaseURL string `mapstructure:"database_url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	HTTPPort int `mapstructure:"http_port"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// HistoricalSource names the ohlc_levels source id the backend
	// orchestrator's backtest worker pool reads candle history under. The
	// backtests table carries no source column, so an operator running
	// `backtest run` directly passes --source explicitly; the orchestrator
	// instead falls back to this one configured default since it cannot
	// prompt per run.
	HistoricalSource string `mapstructure:"historical_source"`

	// Brokers maps a broker_connection_id (as stored on
	// strategy_deployments) to the credentials and endpoint that
	// connection resolves to.
	Brokers map[string]BrokerConfig `mapstructure:"brokers"`

	// Webhook configures the optional order-postback receiver the backend
	// orchestrator starts alongside its admin API.
	Webhook WebhookConfig `mapstructure:"webhook"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// WebhookConfig mirrors internal/webhook.Config; kept here rather than
// imported to avoid internal/config depending on internal/webhook.
type WebhookConfig struct {
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// RateLimitConfig is the one hot-reloadable section: Watcher reloads and
// validates it and passes it to OnChange callbacks. The live broker adapter
// does not read it; its internal/ratelimit limiter is fixed at 200 requests
// per 60 seconds.
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// BrokerConfig is one venue connection's credentials and base URL. The json
// tags let a BrokerConfig be re-marshalled directly into the configJSON a
// broker.Registry factory expects (see cmd/deployment and cmd/backend).
type BrokerConfig struct {
	Type        string `mapstructure:"type" json:"type"`
	BaseURL     string `mapstructure:"base_url" json:"base_url"`
	AccessToken string `mapstructure:"access_token" json:"access_token"`
	ClientID    string `mapstructure:"client_id" json:"client_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load reads config from path (JSON or YAML, by extension) with ALGO_*
// environment variable overrides, after loading a local .env file (if
// present) so development secrets reach the environment before viper
// reads it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModePaper))
	v.SetDefault("redis_db", 0)
	v.SetDefault("http_port", 8080)
	v.SetDefault("rate_limit.requests_per_window", 200)
	v.SetDefault("rate_limit.window", 60*time.Second)
	v.SetDefault("webhook.port", 8090)
	v.SetDefault("webhook.path", "/webhook/orders")
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks structural correctness. It does not perform the extra
// live-mode safety gate — callers about to start a live deployment must
// call RequireLiveConfirmation separately, enforcing the "both
// --confirm-live and ALGO_LIVE_CONFIRMED=true" double gate.
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q, got %q", ModePaper, ModeLive, c.Mode)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate_limit.requests_per_window must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	for id, b := range c.Brokers {
		if b.Type == "" {
			return fmt.Errorf("brokers.%s.type is required", id)
		}
	}
	return nil
}

// RequireLiveConfirmation enforces the double opt-in cmd/engine/main.go
// requires before a live (real-money) deployment starts: the operator
// must pass --confirm-live AND have ALGO_LIVE_CONFIRMED=true set in the
// environment. Either alone is treated as an accident, not an
// authorization.
func RequireLiveConfirmation(mode Mode, confirmLiveFlag bool, liveConfirmedEnv string) error {
	if mode != ModeLive {
		return nil
	}
	if !confirmLiveFlag || liveConfirmedEnv != "true" {
		return fmt.Errorf("config: live mode requires both --confirm-live and ALGO_LIVE_CONFIRMED=true")
	}
	return nil
}
