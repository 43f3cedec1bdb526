package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/trialkit/pkg/validator"
)

// Config represents the runtime configuration for the trialkit service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Rewards     RewardsConfig     `mapstructure:"rewards"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Plans       PlansConfig       `mapstructure:"plans"`
	Campaigns   []CampaignConfig  `mapstructure:"campaigns"`
	Events      EventsConfig      `mapstructure:"events"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogEncoding     string          `mapstructure:"log_encoding"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig controls the API rate limiter. Store is memory, database or redis.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Store    string        `mapstructure:"store"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures identity provider token settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures bearer token validation.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// RewardsConfig sets trial days per reward type and the inviter bonus cap.
type RewardsConfig struct {
	Days        RewardDaysConfig `mapstructure:"days"`
	ReferralCap int              `mapstructure:"referral_cap"`
}

// RewardDaysConfig holds trial days granted per reward type.
type RewardDaysConfig struct {
	Signup   int `mapstructure:"signup"`
	Survey   int `mapstructure:"survey"`
	Referral int `mapstructure:"referral"`
}

// QuotaConfig holds per-plan limits and the optional distributed lock.
type QuotaConfig struct {
	Free     PlanLimitsConfig `mapstructure:"free"`
	Standard PlanLimitsConfig `mapstructure:"standard"`
	Lock     QuotaLockConfig  `mapstructure:"lock"`
}

// PlanLimitsConfig lists the limits of one plan.
type PlanLimitsConfig struct {
	Experience       int64 `mapstructure:"experience"`
	ESGeneration     int64 `mapstructure:"es_generation"`
	InterviewSession int64 `mapstructure:"interview_session"`
}

// QuotaLockConfig enables redsync locking around quota-gated writes. Requires Redis.
type QuotaLockConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Expiry  time.Duration `mapstructure:"expiry"`
}

// PlansConfig configures the default plan resolver.
type PlansConfig struct {
	AdminEmails []string `mapstructure:"admin_emails"`
}

// CampaignConfig describes a campaign provisioned at start-up.
type CampaignConfig struct {
	Key       string     `mapstructure:"key"`
	Name      string     `mapstructure:"name"`
	Enabled   bool       `mapstructure:"enabled"`
	MaxSlots  int        `mapstructure:"max_slots"`
	BonusDays int        `mapstructure:"bonus_days"`
	StartsAt  *time.Time `mapstructure:"starts_at"`
	EndsAt    *time.Time `mapstructure:"ends_at"`
}

// EventsConfig selects the domain event sinks.
type EventsConfig struct {
	Database bool          `mapstructure:"database"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CacheSchedule      string `mapstructure:"cache_schedule"`
	EventSchedule      string `mapstructure:"event_schedule"`
	EventRetentionDays int    `mapstructure:"event_retention_days"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TRIALKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("config: auth.jwt.secret is required")
	}
	switch c.Server.RateLimit.Store {
	case "", "memory", "database":
	case "redis":
		if !c.Cache.Redis.Enabled {
			return errors.New("config: server.rate_limit.store=redis requires cache.redis.enabled")
		}
	default:
		return fmt.Errorf("config: unknown rate limit store %q", c.Server.RateLimit.Store)
	}
	if c.Quota.Lock.Enabled && !c.Cache.Redis.Enabled {
		return errors.New("config: quota.lock.enabled requires cache.redis.enabled")
	}
	for _, email := range c.Plans.AdminEmails {
		if err := validator.ValidateVar(strings.TrimSpace(email), "required,email"); err != nil {
			return fmt.Errorf("config: plans.admin_emails: invalid address %q", email)
		}
	}
	for _, campaign := range c.Campaigns {
		if strings.TrimSpace(campaign.Key) == "" {
			return errors.New("config: campaign key is required")
		}
		if campaign.MaxSlots < 0 {
			return fmt.Errorf("config: campaign %s: max_slots must not be negative", campaign.Key)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.store", "memory")
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/trialkit.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "trialkit")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "trialkit")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")

	v.SetDefault("rewards.days.signup", 30)
	v.SetDefault("rewards.days.survey", 7)
	v.SetDefault("rewards.days.referral", 14)
	v.SetDefault("rewards.referral_cap", 5)

	v.SetDefault("quota.free.experience", 3)
	v.SetDefault("quota.free.es_generation", 5)
	v.SetDefault("quota.free.interview_session", 2)
	v.SetDefault("quota.standard.experience", 50)
	v.SetDefault("quota.standard.es_generation", 100)
	v.SetDefault("quota.standard.interview_session", 30)
	v.SetDefault("quota.lock.enabled", false)
	v.SetDefault("quota.lock.expiry", "10s")

	v.SetDefault("plans.admin_emails", []string{})

	v.SetDefault("events.database", true)
	v.SetDefault("events.dedup_ttl", "24h")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cache_schedule", "@every 15m")
	v.SetDefault("maintenance.event_schedule", "@daily")
	v.SetDefault("maintenance.event_retention_days", 90)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
