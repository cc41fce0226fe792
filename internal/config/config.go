// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fiscalops/docharvest/internal/period"
	"github.com/fiscalops/docharvest/internal/pipeline"
	"github.com/fiscalops/docharvest/internal/scheduler"
	"github.com/fiscalops/docharvest/internal/session"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Certificates CertificatesConfig `mapstructure:"certificates"`
	Harvest      HarvestConfig      `mapstructure:"harvest"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Portal       PortalConfig       `mapstructure:"portal"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the status API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig sets the root of the document tree.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// CertificatesConfig points at the certificate provider service.
type CertificatesConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HarvestConfig restricts and shapes what the discovery job processes.
type HarvestConfig struct {
	AllowList   []string `mapstructure:"allow_list"`
	YearStart   int      `mapstructure:"year_start"`
	MonthStart  int      `mapstructure:"month_start"`
	YearEnd     int      `mapstructure:"year_end"`
	MonthEnd    int      `mapstructure:"month_end"`
	TriggerDays []int    `mapstructure:"trigger_days"`
	Reprocess   bool     `mapstructure:"reprocess"`
}

// ScheduleConfig governs job timing.
type ScheduleConfig struct {
	Cron             string `mapstructure:"cron"`
	Instant          bool   `mapstructure:"instant"`
	DownloadInterval int    `mapstructure:"download_interval_minutes"`
	OrganizeInterval int    `mapstructure:"organize_interval_minutes"`
}

// PortalConfig configures the browser session against the portal.
type PortalConfig struct {
	URL              string `mapstructure:"url"`
	SearchTimeoutMin int    `mapstructure:"search_timeout_minutes"`
	CaptchaToken     string `mapstructure:"captcha_token"`
	UserAgent        string `mapstructure:"user_agent"`
	Headless         bool   `mapstructure:"headless"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCHARVEST")
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
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("certificates.timeout_seconds", 30)
	v.SetDefault("schedule.download_interval_minutes", 5)
	v.SetDefault("schedule.organize_interval_minutes", 30)
	v.SetDefault("portal.search_timeout_minutes", 10)
	v.SetDefault("portal.headless", true)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Certificates.BaseURL == "" {
		return fmt.Errorf("certificates.base_url is required")
	}
	if (c.Harvest.YearStart != 0) != (c.Harvest.MonthStart != 0) {
		return fmt.Errorf("harvest.year_start and harvest.month_start must be set together")
	}
	if (c.Harvest.YearEnd != 0) != (c.Harvest.MonthEnd != 0) {
		return fmt.Errorf("harvest.year_end and harvest.month_end must be set together")
	}
	if (c.Harvest.YearStart != 0) != (c.Harvest.YearEnd != 0) {
		return fmt.Errorf("harvest range requires both its start and end")
	}
	for _, m := range []int{c.Harvest.MonthStart, c.Harvest.MonthEnd} {
		if m < 0 || m > 12 {
			return fmt.Errorf("harvest month %d out of range", m)
		}
	}
	for _, d := range c.Harvest.TriggerDays {
		if d < 1 || d > 31 {
			return fmt.Errorf("harvest.trigger_days entry %d out of range", d)
		}
	}
	return nil
}

// PeriodConfig maps the harvest section onto the planner inputs.
func (c Config) PeriodConfig() period.Config {
	return period.Config{
		YearStart:   c.Harvest.YearStart,
		MonthStart:  c.Harvest.MonthStart,
		YearEnd:     c.Harvest.YearEnd,
		MonthEnd:    c.Harvest.MonthEnd,
		TriggerDays: c.Harvest.TriggerDays,
		Reprocess:   c.Harvest.Reprocess,
	}
}

// PipelineConfig maps the harvest section onto the pipeline inputs.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{AllowList: c.Harvest.AllowList}
}

// SchedulerConfig assembles one scheduler configuration from the schedule,
// harvest, and allow-list sections.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Instant:          c.Schedule.Instant,
		CronSpec:         c.Schedule.Cron,
		DownloadInterval: time.Duration(c.Schedule.DownloadInterval) * time.Minute,
		OrganizeInterval: time.Duration(c.Schedule.OrganizeInterval) * time.Minute,
		Period:           c.PeriodConfig(),
		Pipeline:         c.PipelineConfig(),
	}
}

// SessionConfig maps the portal section onto the browser session.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		PortalURL:     c.Portal.URL,
		SearchTimeout: time.Duration(c.Portal.SearchTimeoutMin) * time.Minute,
		CaptchaToken:  c.Portal.CaptchaToken,
		UserAgent:     c.Portal.UserAgent,
		Headless:      c.Portal.Headless,
	}
}

// CertificateTimeout is the HTTP timeout for provider calls.
func (c Config) CertificateTimeout() time.Duration {
	return time.Duration(c.Certificates.TimeoutSeconds) * time.Second
}

// ConnLifetime is the maximum age of a pooled database connection.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMin) * time.Minute
}
