// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads jkstat settings from a YAML file and JKSTAT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "JKSTAT"

// ConnectionConfig selects and parameterizes the link to the BMS
type ConnectionConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	NoSSLVerify bool          `mapstructure:"noSslVerify"`
	BLE         string        `mapstructure:"ble"`
	BLETimeout  time.Duration `mapstructure:"bleTimeout"`
}

// PollConfig controls the request/response cycle
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	DataTimeout  time.Duration `mapstructure:"dataTimeout"`
	FlushTimeout time.Duration `mapstructure:"flushTimeout"`
	RequestGap   time.Duration `mapstructure:"requestGap"`
	Retries      int           `mapstructure:"retries"`
}

// LumberjackConfig configures the rotating log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig selects log level, encoding and outputs.
// An empty level disables logging.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// HTTPConfig configures the status API
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// MetricsConfig configures Prometheus exposure
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// StoreConfig locates the snapshot cache
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DiscoveryConfig configures mDNS bridge discovery
type DiscoveryConfig struct {
	Service string        `mapstructure:"service"`
	Domain  string        `mapstructure:"domain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Config is the top-level configuration
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Poll       PollConfig       `mapstructure:"poll"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Store      StoreConfig      `mapstructure:"store"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
}

// Load reads configuration from path, JKSTAT_CONFIG, or ./jkstat.yaml, in
// that order. A missing default file is not an error; defaults and
// environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("jkstat")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects settings the poller cannot run with
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.DataTimeout <= 0 {
		return fmt.Errorf("poll.dataTimeout must be positive, got %s", c.Poll.DataTimeout)
	}
	if c.Poll.Retries < 0 {
		return fmt.Errorf("poll.retries must not be negative, got %d", c.Poll.Retries)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.port", "")
	v.SetDefault("connection.baud", 115200)
	v.SetDefault("connection.url", "")
	v.SetDefault("connection.username", "admin")
	v.SetDefault("connection.password", "")
	v.SetDefault("connection.noSslVerify", false)
	v.SetDefault("connection.ble", "")
	v.SetDefault("connection.bleTimeout", "10s")

	v.SetDefault("poll.interval", "15s")
	v.SetDefault("poll.dataTimeout", "10s")
	v.SetDefault("poll.flushTimeout", "2s")
	v.SetDefault("poll.requestGap", "200ms")
	v.SetDefault("poll.retries", 3)

	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("http.addr", ":9105")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("store.path", "jkstat-cache.yaml")

	v.SetDefault("discovery.service", "_jkbms._tcp")
	v.SetDefault("discovery.domain", "local.")
	v.SetDefault("discovery.timeout", "5s")
}
