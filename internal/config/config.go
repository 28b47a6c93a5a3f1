package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrConfiguration reports invalid settings; the process must not start with them.
var ErrConfiguration = errors.New("configuration error")

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken         string        `envconfig:"BOT_TOKEN"`
	DBPath           string        `envconfig:"DB_PATH" default:"./data/finbot.db"`
	DefaultTZ        string        `envconfig:"DEFAULT_TZ" default:"Europe/Moscow"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr         string        `envconfig:"HTTP_ADDR" default:":8080"` // healthz and metrics
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"30s"`
	SchedulerWorkers int           `envconfig:"SCHEDULER_WORKERS" default:"4"`
	SchedulerBatch   int           `envconfig:"SCHEDULER_BATCH" default:"100"` // due triggers read per tick
	RetryBase        time.Duration `envconfig:"SEND_RETRY_BASE" default:"1m"`
	RetryMax         time.Duration `envconfig:"SEND_RETRY_MAX" default:"30m"`
	MaxSendAttempts  int           `envconfig:"SEND_MAX_ATTEMPTS" default:"5"`

	Ideas Ideas `envconfig:"IDEAS"`
	Providers
	Cache
}

// Ideas tunes digest building. Variables are prefixed with IDEAS_.
type Ideas struct {
	MinSources     int           `envconfig:"MIN_SOURCES" default:"2"`
	MaxAgeDays     int           `envconfig:"MAX_AGE_DAYS" default:"90"`
	TopN           int           `envconfig:"TOPN" default:"5"`
	ScoreThreshold float64       `envconfig:"SCORE_THRESHOLD" default:"0.6"`
	Deadline       time.Duration `envconfig:"DEADLINE" default:"20s"`
	UniversePath   string        `envconfig:"UNIVERSE_PATH"` // empty: embedded default
	Workers        int           `envconfig:"WORKERS" default:"8"`
}

// Providers configures the market data sources.
type Providers struct {
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"5s"`
	MOEXURL      string        `envconfig:"MOEX_URL" default:"https://iss.moex.com"`
	MOEXRPS      float64       `envconfig:"MOEX_RPS" default:"5"`
	CoinGeckoURL string        `envconfig:"COINGECKO_URL" default:"https://api.coingecko.com/api/v3"`
	CoinGeckoRPS float64       `envconfig:"COINGECKO_RPS" default:"0.5"`
	FREDURL      string        `envconfig:"FRED_URL" default:"https://api.stlouisfed.org"`
	FREDAPIKey   string        `envconfig:"FRED_API_KEY"` // FRED is skipped when empty
	FREDSeries   string        `envconfig:"FRED_SERIES" default:"FEDFUNDS"`
	FREDRPS      float64       `envconfig:"FRED_RPS" default:"2"`
	SECUserAgent string        `envconfig:"SEC_USER_AGENT"`
	SECTickers   []string      `envconfig:"SEC_TICKERS"` // EDGAR is skipped when empty
	SECRPS       float64       `envconfig:"SEC_RPS" default:"5"`
	Burst        int           `envconfig:"PROVIDER_BURST" default:"5"`
	TripAfter    uint32        `envconfig:"BREAKER_TRIP_AFTER" default:"5"`
	OpenFor      time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"1m"`
}

// Cache configures the fact cache.
type Cache struct {
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"10m"`
	Retention     time.Duration `envconfig:"CACHE_RETENTION" default:"24h"` // how long stale facts stay in Redis
	RedisAddr     string        `envconfig:"REDIS_ADDR"`                    // empty: in-process cache
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string        `envconfig:"REDIS_PREFIX" default:"finbot:fact:"`
}

// Load reads the bot configuration: an optional .env file, then environment variables. BOT_TOKEN is required.
func Load() (Config, error) {
	cfg, err := LoadTools()
	if err != nil {
		return cfg, err
	}
	if cfg.BotToken == "" {
		return cfg, fmt.Errorf("%w: BOT_TOKEN is required", ErrConfiguration)
	}
	return cfg, nil
}

// LoadTools reads the configuration for offline tools that never talk to Telegram.
func LoadTools() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: .env: %v", ErrConfiguration, err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.DefaultTZ); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TZ %q: %v", c.DefaultTZ, err))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn or error", c.LogLevel))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.SchedulerWorkers < 1 {
		errs = append(errs, errors.New("SCHEDULER_WORKERS must be at least 1"))
	}
	if c.SchedulerBatch < 1 {
		errs = append(errs, errors.New("SCHEDULER_BATCH must be at least 1"))
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		errs = append(errs, fmt.Errorf("SEND_RETRY_BASE %s and SEND_RETRY_MAX %s: want 0 < base <= max", c.RetryBase, c.RetryMax))
	}
	if c.MaxSendAttempts < 1 {
		errs = append(errs, errors.New("SEND_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Ideas.MinSources < 1 {
		errs = append(errs, errors.New("IDEAS_MIN_SOURCES must be at least 1"))
	}
	if c.Ideas.MaxAgeDays <= 0 {
		errs = append(errs, errors.New("IDEAS_MAX_AGE_DAYS must be positive"))
	}
	if c.Ideas.TopN < 1 || c.Ideas.TopN > 8 {
		errs = append(errs, fmt.Errorf("IDEAS_TOPN %d out of range 1..8", c.Ideas.TopN))
	}
	if c.Ideas.ScoreThreshold < 0 || c.Ideas.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("IDEAS_SCORE_THRESHOLD %v out of range 0..1", c.Ideas.ScoreThreshold))
	}
	if c.Ideas.Deadline < 0 {
		errs = append(errs, errors.New("IDEAS_DEADLINE must not be negative"))
	}
	if c.Providers.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}
