// Package config loads Loker configuration from flags, an optional
// config file, and LOKER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for Loker.
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`

	// TLS configuration
	UseHTTPS bool   `mapstructure:"use_https"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`

	// Store configuration
	DatabasePath  string `mapstructure:"database_path"`
	EncryptionKey string `mapstructure:"encryption_key"`

	// The sole accepted SigV4 credential
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`

	// ARN minting
	Region    string `mapstructure:"region"`
	AccountID string `mapstructure:"account_id"`

	Purge   PurgeConfig   `mapstructure:"purge"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PurgeConfig controls the scheduled-deletion purger.
type PurgeConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Interval string `mapstructure:"interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Load loads configuration from flags, config file and environment.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("use_https", false)

	v.SetDefault("database_path", "secrets.db")
	// encryption_key must be explicitly configured

	// access_key_id and access_key_secret must be explicitly configured

	v.SetDefault("region", "us-east-1")
	v.SetDefault("account_id", "000000000000")

	v.SetDefault("purge.enable", false)
	v.SetDefault("purge.interval", "1h")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":         "listen",
		"log-level":      "log_level",
		"database-path":  "database_path",
		"tls-cert":       "cert_path",
		"tls-key":        "key_path",
		"use-https":      "use_https",
		"region":         "region",
		"enable-purge":   "purge.enable",
		"purge-interval": "purge.interval",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required: specify via config file or LOKER_ENCRYPTION_KEY environment variable")
	}
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return fmt.Errorf("access_key_id and access_key_secret are required")
	}

	if cfg.Listen == "" {
		if cfg.UseHTTPS {
			cfg.Listen = "0.0.0.0:8443"
		} else {
			cfg.Listen = "0.0.0.0:8080"
		}
	}

	if cfg.UseHTTPS {
		if cfg.CertPath == "" || cfg.KeyPath == "" {
			return fmt.Errorf("use_https enabled but cert_path or key_path not specified")
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	return nil
}
