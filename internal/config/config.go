package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"igharvest/internal/models"
)

// Config is the full application configuration.
type Config struct {
	Accounts []models.Account `mapstructure:"accounts"`
	Scrape   ScrapeConfig     `mapstructure:"scrape"`
	Browser  BrowserConfig    `mapstructure:"browser"`
	State    StateConfig      `mapstructure:"state"`
	Service  ServiceConfig    `mapstructure:"service"`
	Logging  LoggingConfig    `mapstructure:"logging"`
}

// ScrapeConfig tunes the orchestrator.
type ScrapeConfig struct {
	DefaultLimit        int           `mapstructure:"default_limit"`         // posts per target when unspecified
	StaleScrollLimit    int           `mapstructure:"stale_scroll_limit"`    // consecutive no-progress scrolls before end-of-feed
	BatchWindow         int           `mapstructure:"batch_window"`          // concurrent tabs per batch window
	BatchMaxTargets     int           `mapstructure:"batch_max_targets"`     // hard cap on targets per batch request
	WindowPause         time.Duration `mapstructure:"window_pause"`          // pacing delay between batch windows
	ResponseSettle      time.Duration `mapstructure:"response_settle"`       // trailing wait for in-flight responses
}

// BrowserConfig tunes the session pool.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`     // page-load wait, degrades to proceed-anyway
	LoginTimeout   time.Duration `mapstructure:"login_timeout"`   // login-flow wait, fails the repair on expiry
	SessionRoot    string        `mapstructure:"session_root"`    // parent dir of per-account profile dirs
	ReaperInterval time.Duration `mapstructure:"reaper_interval"` // zombie/memory process scan period
	ReaperMaxRSS   int64         `mapstructure:"reaper_max_rss"`  // per-process RSS kill threshold (bytes)
}

// StateConfig locates persisted rotation/health state.
type StateConfig struct {
	File string `mapstructure:"file"`
}

// ServiceConfig tunes admission control and the result cache.
type ServiceConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"` // 0 means one slot per configured account
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig mirrors utils.LogConfig in the config file.
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// Load reads the config file, falling back to defaults when absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".igharvest"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &config, nil
}

// MaxConcurrent resolves the admission cap; the default ties it to the
// number of configured accounts.
func (c *Config) MaxConcurrent() int {
	if c.Service.MaxConcurrent > 0 {
		return c.Service.MaxConcurrent
	}
	if len(c.Accounts) > 0 {
		return len(c.Accounts)
	}
	return 1
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.default_limit", 12)
	v.SetDefault("scrape.stale_scroll_limit", 5)
	v.SetDefault("scrape.batch_window", 2)
	v.SetDefault("scrape.batch_max_targets", 5)
	v.SetDefault("scrape.window_pause", 3*time.Second)
	v.SetDefault("scrape.response_settle", 2*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.login_timeout", 90*time.Second)
	v.SetDefault("browser.session_root", "sessions")
	v.SetDefault("browser.reaper_interval", 5*time.Minute)
	v.SetDefault("browser.reaper_max_rss", int64(2*1024*1024*1024))

	v.SetDefault("state.file", "state/rotation.json")

	v.SetDefault("service.max_concurrent", 0)
	v.SetDefault("service.cache_ttl", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}
