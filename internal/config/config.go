// Package config loads service configuration from an optional YAML file
// with CROSSWIRE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Webhooks WebhookConfig  `mapstructure:"webhooks"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty selects the in-memory
	// store, which only suits local development.
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	// Endpoint selects the S3-compatible backend; empty falls back to
	// LocalDir on disk.
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	LocalDir  string `mapstructure:"local_dir"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type SecretsConfig struct {
	// Passphrase derives the AES key for the credential envelope.
	Passphrase string `mapstructure:"passphrase"`
}

type SyncConfig struct {
	MaxPagesPerRun  int           `mapstructure:"max_pages_per_run"`
	MaxRunTime      time.Duration `mapstructure:"max_run_time"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	EnrichQueueSize int           `mapstructure:"enrich_queue_size"`
}

type WebhookConfig struct {
	SlackSigningSecret string `mapstructure:"slack_signing_secret"`
	GitHubSecret       string `mapstructure:"github_secret"`
}

// Load reads the optional config file at path (empty skips the file)
// and applies environment overrides, e.g. CROSSWIRE_DATABASE_URL,
// CROSSWIRE_OPENAI_API_KEY. DATABASE_URL is honored unprefixed for
// platform compatibility.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8085")
	v.SetDefault("storage.bucket", "crosswire-attachments")
	v.SetDefault("storage.local_dir", "./data/attachments")
	v.SetDefault("sync.max_pages_per_run", 50)
	v.SetDefault("sync.max_run_time", 10*time.Minute)
	v.SetDefault("sync.sweep_interval", 30*time.Minute)
	v.SetDefault("sync.enrich_queue_size", 512)

	// Viper only applies env overrides to keys it knows about, so every
	// overridable key needs at least an empty default.
	for _, key := range []string{
		"database.url",
		"storage.endpoint", "storage.access_key", "storage.secret_key",
		"openai.api_key",
		"secrets.passphrase",
		"webhooks.slack_signing_secret", "webhooks.github_secret",
	} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix("CROSSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.Secrets.Passphrase == "" {
		return errors.New("config: secrets passphrase is required")
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("config: openai api key is required")
	}
	return nil
}
