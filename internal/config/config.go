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
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Site      SiteConfig      `mapstructure:"site"`
	Session   SessionConfig   `mapstructure:"session"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig points the protocol client at the target platform.
type SiteConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SessionConfig governs the credential session cache.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CrawlConfig governs the account discovery pipeline.
type CrawlConfig struct {
	PageDelay time.Duration `mapstructure:"page_delay"`
}

// MessagingConfig governs the outreach pipeline.
type MessagingConfig struct {
	SendDelay    time.Duration `mapstructure:"send_delay"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	FailureLimit int           `mapstructure:"failure_limit"`
	Text         string        `mapstructure:"text"`
	LinkURL      string        `mapstructure:"link_url"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN              string `mapstructure:"dsn"`
	CredentialSecret string `mapstructure:"credential_secret"`
}

// StorageConfig selects where raw search snapshots land.
type StorageConfig struct {
	// Provider is "memory" or "gcs".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notification export.
// Both fields empty disables the sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOGREACH")
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
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("site.base_url", "https://www.tumblr.com")
	v.SetDefault("site.timeout", "15s")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("crawl.page_delay", "5s")
	v.SetDefault("messaging.send_delay", "10s")
	v.SetDefault("messaging.cooldown", "5m")
	v.SetDefault("messaging.failure_limit", 10)
	v.SetDefault("db.credential_secret", "")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Crawl.PageDelay <= 0 {
		return fmt.Errorf("crawl.page_delay must be positive")
	}
	if c.Messaging.SendDelay <= 0 {
		return fmt.Errorf("messaging.send_delay must be positive")
	}
	if c.Messaging.FailureLimit <= 0 {
		return fmt.Errorf("messaging.failure_limit must be positive")
	}
	if c.DB.DSN != "" && c.DB.CredentialSecret == "" {
		return fmt.Errorf("db.credential_secret is required when db.dsn is set")
	}
	switch c.Storage.Provider {
	case "memory", "gcs":
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
