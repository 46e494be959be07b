package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUCTIONHOUSE_"

// Config represents the application configuration. Both binaries read the
// same file; each uses the sections it needs.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Redis          RedisConfig          `yaml:"redis"`
	NATS           NATSConfig           `yaml:"nats"`
	House          HouseConfig          `yaml:"house"`
	Purchase       PurchaseConfig       `yaml:"purchase"`
	Sync           SyncConfig           `yaml:"sync"`
	Settlement     SettlementConfig     `yaml:"settlement"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
	// AnnounceChannelID receives a message whenever an auction is bought.
	AnnounceChannelID string `yaml:"announce_channel_id"`
	// Admins may grant balance.
	Admins []string `yaml:"admins"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx", "pgx" or "memory"
	MaxConns int    `yaml:"max_conns"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	HealthPort      int           `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// RedisConfig configures the purchase idempotency cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PurchaseTTL time.Duration `yaml:"purchase_ttl"`
}

// NATSConfig configures the outcome feed and auction notices. An empty URL
// disables both.
type NATSConfig struct {
	URL               string `yaml:"url"`
	OutcomeSubject    string `yaml:"outcome_subject"`
	GameStatusSubject string `yaml:"game_status_subject"`
	NoticeSubject     string `yaml:"notice_subject"`
	QueueGroup        string `yaml:"queue_group"`
}

// HouseConfig tells the bot where the auction house API lives.
type HouseConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PurchaseConfig bounds retries of a commit that failed in transit.
type PurchaseConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// SyncConfig holds the view refresh intervals.
type SyncConfig struct {
	Background time.Duration `yaml:"background"`
	Focused    time.Duration `yaml:"focused"`
}

// SettlementConfig schedules the expired-stake sweep.
type SettlementConfig struct {
	Schedule string `yaml:"schedule"`
}

// LedgerConfig holds balance rules.
type LedgerConfig struct {
	StartingBalance string `yaml:"starting_balance"`
	DailyAllowance  string `yaml:"daily_allowance"`
	DailyCurrency   string `yaml:"daily_currency"`
}

// Starting returns the balance credited to a user the first time they are
// seen.
func (l LedgerConfig) Starting() decimal.Decimal { return decimal.RequireFromString(l.StartingBalance) }

// Allowance returns the daily claim amount.
func (l LedgerConfig) Allowance() decimal.Decimal { return decimal.RequireFromString(l.DailyAllowance) }

// RateLimitConfig limits API requests per user.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Defaults returns the configuration used for any field the file omits.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			HealthPort:      8081,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			Driver:   "sqlx",
			MaxConns: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctionhouse",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctionhouse-settlement",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Redis: RedisConfig{
			PurchaseTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			OutcomeSubject:    "outcomes.resolved",
			GameStatusSubject: "games.status",
			NoticeSubject:     "auctions.notices",
			QueueGroup:        "auctionhouse",
		},
		House: HouseConfig{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Purchase: PurchaseConfig{
			MaxRetries:     4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Sync: SyncConfig{
			Background: 45 * time.Second,
			Focused:    time.Second,
		},
		Settlement: SettlementConfig{
			Schedule: "@every 1m",
		},
		Ledger: LedgerConfig{
			StartingBalance: "100",
			DailyAllowance:  "25",
			DailyCurrency:   "standard",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// Load reads a YAML configuration file from the given path, applies it over
// the defaults, then applies AUCTIONHOUSE_* environment overrides. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets secrets and endpoints be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Discord.Token, "DISCORD_TOKEN")
	setStr(&cfg.Discord.GuildID, "DISCORD_GUILD_ID")

	setStr(&cfg.Database.Driver, "DATABASE_DRIVER")
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.DBName, "DATABASE_DBNAME")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.NATS.URL, "NATS_URL")
	setStr(&cfg.House.URL, "HOUSE_URL")
	setStr(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "pgx", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\", \"pgx\" or \"memory\"", c.Database.Driver)
	}
	if c.Sync.Focused <= 0 || c.Sync.Background <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.Focused > c.Sync.Background {
		return fmt.Errorf("focused sync interval %s is slower than background %s", c.Sync.Focused, c.Sync.Background)
	}
	if c.Purchase.MaxRetries < 0 {
		return fmt.Errorf("purchase.max_retries must not be negative")
	}
	if _, err := cron.ParseStandard(c.Settlement.Schedule); err != nil {
		return fmt.Errorf("settlement.schedule: %w", err)
	}
	for name, v := range map[string]string{
		"ledger.starting_balance": c.Ledger.StartingBalance,
		"ledger.daily_allowance":  c.Ledger.DailyAllowance,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	return nil
}
