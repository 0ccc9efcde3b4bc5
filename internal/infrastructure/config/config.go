package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName is the canonical application name, used for the config home
// directory and the env var prefix.
const AppName = "zai2api"

// Config is the relay's full runtime configuration (spec.md §6).
type Config struct {
	Listen   ListenConfig   `mapstructure:"listen"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// ListenConfig controls the HTTP listener.
type ListenConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

// UpstreamConfig targets the single proprietary SSE upstream this relay
// translates for.
type UpstreamConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	AnonymousToken  bool          `mapstructure:"anonymous_token"`
	DefaultModel    string        `mapstructure:"default_model"`
	ReasoningMode   string        `mapstructure:"reasoning_mode"` // think | pure | raw
	IdleReadTimeout time.Duration `mapstructure:"idle_read_timeout"`
}

// AuthConfig gates inbound requests.
type AuthConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

// CacheConfig holds the cache settings (spec.md §5, §10). ModelListTTL
// sizes the /v1/models cache and TokenTTL the anonymous-token cache;
// ContentTTL and MaxEntries are loaded but no component reads them.
type CacheConfig struct {
	ModelListTTL    time.Duration `mapstructure:"model_list_ttl"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	ContentTTL      time.Duration `mapstructure:"content_ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// CORSConfig lists permitted browser origins. Hot-reloadable (Watcher).
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TimeoutsConfig holds the request/stream timeouts, the concurrent-request
// limit and the perf-monitoring flag. They are loaded but no component
// reads them: no request or stream timeout and no concurrency cap is
// enforced.
type TimeoutsConfig struct {
	Request             time.Duration `mapstructure:"request"`
	Stream              time.Duration `mapstructure:"stream"`
	MaxConcurrent       int           `mapstructure:"max_concurrent_requests"`
	PerfMonitoring      bool          `mapstructure:"perf_monitoring"`
}

// Validate rejects configurations this relay cannot run with: a non-
// anonymous upstream setup left without a token has no way to authenticate
// at all, which would otherwise only surface as a confusing first-request
// failure.
func (c *Config) Validate() error {
	if !c.Upstream.AnonymousToken && c.Upstream.Token == "" {
		return fmt.Errorf("upstream.token must be set when upstream.anonymous_token is false")
	}
	return nil
}

// HomeDir returns ~/.zai2api, where an optional config.yaml overlay lives.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Load builds the Config from defaults, an optional ~/.zai2api/config.yaml
// or ./config.yaml overlay, and RELAY_-prefixed environment variables —
// layered low-to-high priority, mirroring the teacher's global→local→env
// precedence in its own Load().
func Load() (*Config, error) {
	cfg, _, err := LoadWithViper()
	return cfg, err
}

// LoadWithViper is Load plus the underlying *viper.Viper, needed by
// NewWatcher to register a file-change callback on the same instance that
// parsed the config.
func LoadWithViper() (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 8080)
	v.SetDefault("listen.debug", false)

	v.SetDefault("upstream.base_url", "https://chat.z.ai/api")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.anonymous_token", true)
	v.SetDefault("upstream.default_model", "glm-4.6")
	v.SetDefault("upstream.reasoning_mode", "think")
	v.SetDefault("upstream.idle_read_timeout", "60s")

	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.enabled", false)

	v.SetDefault("cache.model_list_ttl", "5m")
	v.SetDefault("cache.token_ttl", "50m")
	v.SetDefault("cache.content_ttl", "10m")
	v.SetDefault("cache.max_entries", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("timeouts.request", "30s")
	v.SetDefault("timeouts.stream", "10m")
	v.SetDefault("timeouts.max_concurrent_requests", 64)
	v.SetDefault("timeouts.perf_monitoring", false)
}
