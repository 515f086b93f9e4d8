package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vearutop/offline"
)

// Config describes proxy settings.
type Config struct {
	Listen   string `mapstructure:"listen" validate:"required"`
	Upstream string `mapstructure:"upstream" validate:"required,url"`

	Version        string        `mapstructure:"version" validate:"required"`
	Manifest       []string      `mapstructure:"manifest" validate:"dive,startswith=/"`
	OfflinePath    string        `mapstructure:"offline-path" validate:"required,startswith=/"`
	SyncTag        string        `mapstructure:"sync-tag" validate:"required"`
	MaxEntrySize   int64         `mapstructure:"max-entry-size" validate:"gte=-1"`
	WaitForClients bool          `mapstructure:"wait-for-clients"`
	ClientIdleTTL  time.Duration `mapstructure:"client-idle-ttl" validate:"gt=0"`
	Heartbeat      time.Duration `mapstructure:"heartbeat" validate:"gt=0"`

	HeapInUseSoftLimit uint64 `mapstructure:"heap-soft-limit"`
	StateFile          string `mapstructure:"state-file"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" validate:"gt=0"`
	InstallTimeout  time.Duration `mapstructure:"install-timeout" validate:"gt=0"`
	LogLevel        string        `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Metrics         bool          `mapstructure:"metrics"`
}

func bindFlags(fs *pflag.FlagSet) {
	fs.String("listen", "localhost:8080", "listen address")
	fs.String("upstream", "", "origin URL, e.g. https://example.com")
	fs.String("version", offline.DefaultVersion, "cache generation version")
	fs.StringSlice("manifest", offline.DefaultManifest(), "paths to precache on install")
	fs.String("offline-path", offline.DefaultOfflinePath, "path of offline page")
	fs.String("sync-tag", offline.DefaultSyncTag, "sync tag that triggers client notification")
	fs.Int64("max-entry-size", offline.DefaultMaxEntrySize, "max stored body size, -1 for unlimited")
	fs.Bool("wait-for-clients", false, "keep installed version waiting while clients of previous version remain")
	fs.Duration("client-idle-ttl", time.Minute, "client is forgotten after this idle time")
	fs.Duration("heartbeat", 15*time.Second, "event stream keep-alive interval")
	fs.Uint64("heap-soft-limit", 0, "heap in use threshold to trigger cache eviction, 0 disables")
	fs.String("state-file", "", "file to restore cache from on start and dump to on shutdown")
	fs.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	fs.Duration("install-timeout", 30*time.Second, "install timeout")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("metrics", true, "expose Prometheus metrics at /metrics")
}

// loadConfig merges flags, OFFLINE_* environment variables and optional config file.
//
// Precedence (highest to lowest): explicit flags, environment, config file, flag defaults.
func loadConfig(fs *pflag.FlagSet, configPath string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("OFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c Config) mediatorConfig() offline.Config {
	return offline.Config{
		Version:        c.Version,
		Origin:         c.Upstream,
		Manifest:       c.Manifest,
		OfflinePath:    c.OfflinePath,
		SyncTag:        c.SyncTag,
		MaxEntrySize:   c.MaxEntrySize,
		WaitForClients: c.WaitForClients,
		ClientIdleTTL:  c.ClientIdleTTL,
	}
}
