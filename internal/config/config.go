// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Icons   IconsConfig   `mapstructure:"icons"`
	Prober  ProberConfig  `mapstructure:"prober"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig bounds outbound fetch behavior. Metadata fetches and health
// probes carry separate timeout budgets; probes run frequently and in bulk,
// so their budget is shorter.
type HTTPConfig struct {
	MetadataTimeoutSeconds int    `mapstructure:"metadata_timeout_seconds"`
	ProbeTimeoutSeconds    int    `mapstructure:"probe_timeout_seconds"`
	MaxRedirects           int    `mapstructure:"max_redirects"`
	MaxBodyKB              int    `mapstructure:"max_body_kb"`
	UserAgent              string `mapstructure:"user_agent"`
}

// IconsConfig governs the icon resolution tiers.
type IconsConfig struct {
	// FaviconService is a printf template receiving the hostname.
	FaviconService   string `mapstructure:"favicon_service"`
	FaviconTimeoutMs int    `mapstructure:"favicon_timeout_ms"`
	// IndexPath optionally overrides the embedded brand-icon index.
	IndexPath   string `mapstructure:"index_path"`
	PaletteSize int    `mapstructure:"palette_size"`
}

// ProberConfig bounds health-probe concurrency.
type ProberConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKBEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("http.metadata_timeout_seconds", 5)
	v.SetDefault("http.probe_timeout_seconds", 3)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_kb", 64)
	v.SetDefault("http.user_agent", "linkbeacon/0.1")
	v.SetDefault("icons.favicon_service", "https://www.google.com/s2/favicons?domain=%s&sz=64")
	v.SetDefault("icons.favicon_timeout_ms", 2000)
	v.SetDefault("icons.palette_size", 12)
	v.SetDefault("prober.concurrency", 8)
	v.SetDefault("prober.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.MetadataTimeoutSeconds <= 0 {
		return fmt.Errorf("http.metadata_timeout_seconds must be > 0")
	}
	if c.HTTP.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("http.probe_timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.HTTP.MaxBodyKB <= 0 {
		return fmt.Errorf("http.max_body_kb must be > 0")
	}
	if !strings.Contains(c.Icons.FaviconService, "%s") {
		return fmt.Errorf("icons.favicon_service must contain a %%s hostname placeholder")
	}
	if c.Icons.PaletteSize <= 0 {
		return fmt.Errorf("icons.palette_size must be > 0")
	}
	if c.Prober.Concurrency <= 0 {
		return fmt.Errorf("prober.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// MetadataTimeout returns the fetch budget for metadata resolution.
func (c Config) MetadataTimeout() time.Duration {
	return time.Duration(c.HTTP.MetadataTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the fetch budget for health probes.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HTTP.ProbeTimeoutSeconds) * time.Second
}

// FaviconTimeout returns the fetch budget for the remote favicon tier.
func (c Config) FaviconTimeout() time.Duration {
	return time.Duration(c.Icons.FaviconTimeoutMs) * time.Millisecond
}

// MaxBodyBytes returns the body size cap in bytes.
func (c Config) MaxBodyBytes() int {
	return c.HTTP.MaxBodyKB * 1024
}
