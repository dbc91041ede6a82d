// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/watcher and cmd/watchctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredential is returned by Load when a required token is unset.
var ErrMissingCredential = errors.New("missing required credential")

// --------------------------------------------------------------------------
// Config is populated from environment variables.
// --------------------------------------------------------------------------

type Config struct {
	Environment string // development, production
	Debug       bool

	// Marketplace
	BaseURL            string
	PartnerID          int
	FeedURL            string
	MarketplaceRPM     int
	MarketplaceTimeout time.Duration

	// Cadences
	MainInterval      time.Duration
	DiscoveryInterval time.Duration

	// Discovery windows
	ForwardWindow  int
	BackwardWindow int

	// Dispatch
	DispatchSpacing       time.Duration
	DispatchRetryFallback time.Duration

	// Telegram
	TelegramToken       string
	TelegramChannelID   string
	FarmerToken         string
	FarmerChannelID     string
	SendToFarmer        bool
	PublicSiteURL       string
	MirrorSiteURL       string
	FastSiteURL         string
	ImageHostRewriteOld string
	ImageHostRewriteNew string

	// YoAI
	YoToken     string
	YoChannelID string
	YoBaseURL   string

	// Kafka event sink (optional)
	KafkaBrokers []string
	KafkaTopic   string

	// Chart history (optional)
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	HistoryKeep    int // days

	// Seed data
	SeedsFile string

	// Schedules
	Timezone       string
	RewardDigestAt string // HH:MM

	// Status API
	APIHost           string
	APIPort           int
	CORSAllowOrigins  []string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CacheEnabled      bool
}

// Load reads configuration from environment variables with sensible defaults.
// Telegram credentials are required; everything else has a default or is
// optional.
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTools reads the same configuration for offline tooling, which never
// posts alerts and so needs no credentials.
func LoadTools() (*Config, error) {
	cfg := read()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() *Config {
	env := envOr("ENVIRONMENT", envOr("NODE_ENV", "development"))
	prefix := "DEV_"
	if env == "production" {
		prefix = "PROD_"
	}

	cfg := &Config{
		Environment: env,
		Debug:       envBool("DEBUG", env != "production"),

		BaseURL:            strings.TrimRight(envOr("MARKETPLACE_BASE_URL", "https://sss.ortak1.me"), "/"),
		PartnerID:          envInt("MARKETPLACE_PARTNER_ID", 99),
		FeedURL:            envOr("FEED_URL", "wss://sss.ortak1.me/feed"),
		MarketplaceRPM:     envInt("MARKETPLACE_RPM", 120),
		MarketplaceTimeout: envDuration("MARKETPLACE_TIMEOUT", 30*time.Second),

		MainInterval:      envDuration("MAIN_INTERVAL", 2*time.Minute),
		DiscoveryInterval: envDuration("DISCOVERY_INTERVAL", 15*time.Minute),

		ForwardWindow:  envInt("DISCOVERY_FORWARD_WINDOW", 15),
		BackwardWindow: envInt("DISCOVERY_BACKWARD_WINDOW", 25),

		DispatchSpacing:       envDuration("DISPATCH_SPACING", 3*time.Second),
		DispatchRetryFallback: envDuration("DISPATCH_RETRY_FALLBACK", 16*time.Second),

		TelegramToken:       os.Getenv(prefix + "TELEGRAM_TOKEN"),
		TelegramChannelID:   os.Getenv(prefix + "CHANNEL_ID"),
		FarmerToken:         os.Getenv("FARMER_TELEGRAM_TOKEN"),
		FarmerChannelID:     os.Getenv("FARMER_CHANNEL_ID"),
		SendToFarmer:        envBool("SEND_TO_FARMER", true),
		PublicSiteURL:       envOr("PUBLIC_SITE_URL", "https://sss.ortak.me"),
		MirrorSiteURL:       envOr("MIRROR_SITE_URL", "https://hayo.ortak.me"),
		FastSiteURL:         envOr("FAST_SITE_URL", "https://fast.ortak.me"),
		ImageHostRewriteOld: envOr("IMAGE_HOST_REWRITE_FROM", "res.ortak1.me"),
		ImageHostRewriteNew: envOr("IMAGE_HOST_REWRITE_TO", "res.ortak.me"),

		YoToken:     os.Getenv(prefix + "YO_TOKEN"),
		YoChannelID: os.Getenv(prefix + "YO_CHANNEL_ID"),
		YoBaseURL:   envOr("YO_BASE_URL", "https://yoai.yophone.com/api/pub"),

		KafkaBrokers: envList("KAFKA_BROKERS", nil),
		KafkaTopic:   envOr("KAFKA_TOPIC", "collection-alerts"),

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 4),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		HistoryKeep:    envInt("HISTORY_KEEP_DAYS", 20),

		SeedsFile: envOr("SEEDS_FILE", ""),

		Timezone:       envOr("TIMEZONE", "Asia/Yerevan"),
		RewardDigestAt: envOr("REWARD_DIGEST_AT", "18:00"),

		APIHost: envOr("API_HOST", "0.0.0.0"),
		APIPort: envInt("API_PORT", envInt("PORT", 8080)),
		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),
		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
		CacheEnabled:      envBool("CACHE_ENABLED", true),
	}
	return cfg
}

func (c *Config) validateCredentials() error {
	if c.TelegramToken == "" || c.FarmerToken == "" {
		return fmt.Errorf("%w: telegram bot tokens (%s, FARMER_TELEGRAM_TOKEN)",
			ErrMissingCredential, c.tokenVar())
	}
	return nil
}

func (c *Config) validate() error {
	if c.MainInterval <= 0 || c.DiscoveryInterval <= 0 {
		return fmt.Errorf("intervals must be positive (main=%s discovery=%s)", c.MainInterval, c.DiscoveryInterval)
	}
	if c.ForwardWindow < 1 || c.BackwardWindow < 1 {
		return fmt.Errorf("discovery windows must be >= 1 (forward=%d backward=%d)", c.ForwardWindow, c.BackwardWindow)
	}
	if _, _, err := ParseClock(c.RewardDigestAt); err != nil {
		return fmt.Errorf("REWARD_DIGEST_AT: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

func (c *Config) tokenVar() string {
	if c.IsProduction() {
		return "PROD_TELEGRAM_TOKEN"
	}
	return "DEV_TELEGRAM_TOKEN"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location returns the configured schedule time zone, UTC if invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HistoryEnabled reports whether chart history persistence is configured.
func (c *Config) HistoryEnabled() bool { return c.DatabaseURL != "" }

// KafkaEnabled reports whether the Kafka event sink is configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// YoEnabled reports whether the YoAI transport is configured.
func (c *Config) YoEnabled() bool { return c.YoToken != "" && c.YoChannelID != "" }

// ParseClock parses an "HH:MM" wall clock time.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or bare milliseconds ("120000").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
