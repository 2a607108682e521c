// Package config loads acsbridge settings from ACSBRIDGE_* environment
// variables and an optional YAML file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // device timezones on hosts without zoneinfo

	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/logger"
)

const envPrefix = "ACSBRIDGE"

type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	// DB
	Env    string `mapstructure:"env"` // "dev" | "prod"
	DBPath string `mapstructure:"db_path"`

	Log    logger.Config `mapstructure:"log"`
	Sync   SyncConfig    `mapstructure:"sync"`
	Health HealthConfig  `mapstructure:"health"`

	// DeviceTimeout applies to devices that do not set their own.
	DeviceTimeout time.Duration `mapstructure:"device_timeout"`
	UserScanLimit int           `mapstructure:"user_scan_limit"`

	Devices []DeviceConfig `mapstructure:"devices"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Lookback is where a device with no cursor starts.
	Lookback    time.Duration `mapstructure:"lookback"`
	PageSize    int           `mapstructure:"page_size"`
	MaxPages    int           `mapstructure:"max_pages"`
	Concurrency int           `mapstructure:"concurrency"`
	Mode        string        `mapstructure:"mode"` // "fingerprint" | "all"

	// RetentionDays bounds stored events; 0 keeps everything.
	RetentionDays int `mapstructure:"retention_days"`
}

type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	ResetPolicy string        `mapstructure:"reset_policy"`
}

type DeviceConfig struct {
	ID                 string        `mapstructure:"id"`
	Name               string        `mapstructure:"name"`
	Scheme             string        `mapstructure:"scheme"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timezone           string        `mapstructure:"timezone"`
}

// Load reads the file named by ACSBRIDGE_CONFIG (if set), then overlays
// ACSBRIDGE_* variables. Nested keys use underscores, so sync.interval is
// ACSBRIDGE_SYNC_INTERVAL.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("env", "dev")
	v.SetDefault("db_path", "./data/acsbridge.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.time_format", "")

	v.SetDefault("sync.interval", "1m")
	v.SetDefault("sync.lookback", "24h")
	v.SetDefault("sync.page_size", isapi.DefaultPageSize)
	v.SetDefault("sync.max_pages", 20)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.mode", "fingerprint")
	v.SetDefault("sync.retention_days", 90)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.reset_policy", isapi.ResetAfterResponseIsHealthy.String())

	v.SetDefault("device_timeout", isapi.DefaultTimeout.String())
	v.SetDefault("user_scan_limit", isapi.DefaultUserScanLimit)
}

func (c *Config) normalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	if c.HTTPAddr == "" {
		return errors.New("config: http_addr must be set")
	}

	if c.Sync.Interval <= 0 || c.Health.Interval <= 0 {
		return errors.New("config: sync.interval and health.interval must be positive")
	}

	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = isapi.DefaultPageSize
	}

	if c.Sync.MaxPages <= 0 {
		c.Sync.MaxPages = 1
	}

	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 1
	}

	policy, err := isapi.ParseResetPolicy(c.Health.ResetPolicy)
	if err != nil {
		return fmt.Errorf("config: health.reset_policy: %w", err)
	}

	c.Health.ResetPolicy = policy.String()

	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = isapi.DefaultTimeout
	}

	seen := make(map[string]struct{}, len(c.Devices))

	for i := range c.Devices {
		d := &c.Devices[i]
		d.ID = strings.TrimSpace(d.ID)
		d.Host = strings.TrimSpace(d.Host)

		if d.ID == "" {
			return fmt.Errorf("config: devices[%d]: id is required", i)
		}

		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("config: devices[%d]: duplicate id %q", i, d.ID)
		}

		seen[d.ID] = struct{}{}

		if d.Host == "" {
			return fmt.Errorf("config: device %q: host is required", d.ID)
		}

		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("config: device %q: port %d out of range", d.ID, d.Port)
		}

		switch strings.ToLower(d.Scheme) {
		case "":
			d.Scheme = "http"
		case "http", "https":
			d.Scheme = strings.ToLower(d.Scheme)
		default:
			return fmt.Errorf("config: device %q: unsupported scheme %q", d.ID, d.Scheme)
		}

		if d.Timeout <= 0 {
			d.Timeout = c.DeviceTimeout
		}

		if d.Timezone != "" {
			if _, err := time.LoadLocation(d.Timezone); err != nil {
				return fmt.Errorf("config: device %q: timezone: %w", d.ID, err)
			}
		}
	}

	return nil
}

// ISAPIDevice converts the descriptor into the client's device type.
func (d DeviceConfig) ISAPIDevice() isapi.Device {
	dev := isapi.Device{
		Scheme:             d.Scheme,
		Host:               d.Host,
		Port:               d.Port,
		Username:           d.Username,
		Password:           d.Password,
		Timeout:            d.Timeout,
		InsecureSkipVerify: d.InsecureSkipVerify,
	}

	if d.Timezone != "" {
		// validated in Load
		dev.Location, _ = time.LoadLocation(d.Timezone)
	}

	return dev
}

// DisplayName falls back to the ID.
func (d DeviceConfig) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}

	return d.ID
}

// ResetPolicy returns the policy validated by Load.
func (c *Config) ResetPolicy() isapi.ResetPolicy {
	p, _ := isapi.ParseResetPolicy(c.Health.ResetPolicy)
	return p
}

func (c *Config) SyncMode() isapi.Mode {
	return isapi.ParseMode(c.Sync.Mode)
}
