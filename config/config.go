package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"bybit-techbot/internal/indicator"
	"bybit-techbot/internal/logger"
	"bybit-techbot/internal/schedule"
	"bybit-techbot/internal/strategy"
	"bybit-techbot/pkg/bybit"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Telegram TelegramConfig `env:", prefix=TELEGRAM_"`
	DB       DBConfig       `env:", prefix=DB_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	Bybit    BybitConfig    `env:", prefix=BYBIT_"`
	Bot      BotConfig      `env:", prefix=BOT_"`
	Strategy StrategyConfig `env:", prefix=STRATEGY_"`
	Alert    AlertConfig    `env:", prefix=ALERT_"`

	MetricsAddr string `env:"METRICS_ADDR, default=:9090"`
	LogLevel    string `env:"LOG_LEVEL, default=info"`
}

// TelegramConfig holds the Bot API settings.
type TelegramConfig struct {
	Token         string `env:"BOT_TOKEN"`
	Debug         bool   `env:"DEBUG, default=false"`
	UpdateTimeout int    `env:"UPDATE_TIMEOUT, default=30"` // long-poll seconds
}

// DBConfig selects the relational store.
type DBConfig struct {
	Driver string `env:"DRIVER, default=sqlite3"` // sqlite3 or postgres
	DSN    string `env:"DSN, default=data/techbot.db"`
}

// RedisConfig holds the shared cache settings.
type RedisConfig struct {
	Enabled         bool          `env:"ENABLED, default=true"`
	Addr            string        `env:"ADDR, default=localhost:6379"`
	Password        string        `env:"PASSWORD"`
	DB              int           `env:"DB, default=0"`
	Prefix          string        `env:"PREFIX, default=techbot:"`
	CacheTTL        time.Duration `env:"CACHE_TTL, default=6h"`
	BreakerFailures int           `env:"BREAKER_FAILURES, default=5"`
	BreakerReset    time.Duration `env:"BREAKER_RESET, default=10s"`
}

// BybitConfig holds the exchange endpoints and client limits.
type BybitConfig struct {
	Testnet     bool          `env:"TESTNET, default=false"`
	BaseURL     string        `env:"BASE_URL"` // overrides Testnet
	WSURL       string        `env:"WS_URL"`   // overrides Testnet
	Category    string        `env:"CATEGORY, default=linear"`
	RecvWindow  time.Duration `env:"RECV_WINDOW, default=5s"`
	Timeout     time.Duration `env:"TIMEOUT, default=10s"`
	RateLimit   time.Duration `env:"RATE_LIMIT, default=100ms"`
	CandleLimit int           `env:"CANDLE_LIMIT, default=200"`
}

// BotConfig holds the robot and wizard settings.
type BotConfig struct {
	Tickers     []string      `env:"TICKERS, default=BNBUSDT"`
	Timeframes  []string      `env:"TIMEFRAMES, default=1,60"`
	MaxFailures int           `env:"MAX_FAILURES, default=3"`
	Paper       bool          `env:"PAPER, default=false"`
	JournalPath string        `env:"JOURNAL_PATH, default=data/journal.db"`
	Lead        time.Duration `env:"LEAD, default=1s"`
}

// StrategyConfig holds the default indicator parameters. Leverage, capital
// share and timeframe come from each user's strategy.
type StrategyConfig struct {
	Mode           string  `env:"MODE, default=multi"`
	MAPeriod       int     `env:"MA_PERIOD, default=10"`
	StochK         int     `env:"STOCH_K, default=14"`
	StochD         int     `env:"STOCH_D, default=3"`
	StochSmooth    int     `env:"STOCH_SMOOTH, default=3"`
	ADOSCFast      int     `env:"ADOSC_FAST, default=3"`
	ADOSCSlow      int     `env:"ADOSC_SLOW, default=10"`
	RSIPeriod      int     `env:"RSI_PERIOD, default=14"`
	RSILow         float64 `env:"RSI_LOW, default=30"`
	RSIHigh        float64 `env:"RSI_HIGH, default=70"`
	Window         int     `env:"WINDOW, default=4"`
	MaxLossPercent float64 `env:"MAX_LOSS_PERCENT, default=2"`
	VolumeLow      float64 `env:"VOLUME_LOW, default=30"`
	VolumeMid      float64 `env:"VOLUME_MID, default=77"`
	VolumeHigh     float64 `env:"VOLUME_HIGH, default=554"`
}

// AlertConfig holds operator alerting.
type AlertConfig struct {
	WebhookURL string `env:"WEBHOOK_URL"` // empty disables
}

// Load reads .env (if present) and then the environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom processes configuration from l and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: process: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration. The Telegram token is checked by
// the commands that need it.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.DB.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DB driver %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("DB DSN is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("Redis address is required when Redis is enabled")
	}
	if len(c.Bot.Tickers) == 0 {
		return errors.New("at least one ticker is required")
	}
	if len(c.Bot.Timeframes) == 0 {
		return errors.New("at least one timeframe is required")
	}
	for _, tf := range c.Bot.Timeframes {
		if _, err := schedule.ParseTimeframe(tf); err != nil {
			return err
		}
	}
	if c.Bot.MaxFailures < 1 {
		return fmt.Errorf("invalid max failures: %d", c.Bot.MaxFailures)
	}
	if c.Bot.Lead < 0 || c.Bot.Lead >= time.Minute {
		return fmt.Errorf("bot lead must be in [0, 1m), got %s", c.Bot.Lead)
	}
	if c.Bybit.CandleLimit < 1 || c.Bybit.CandleLimit > 1000 {
		return fmt.Errorf("candle limit must be in [1, 1000], got %d", c.Bybit.CandleLimit)
	}
	return c.Strategy.Params().Validate()
}

// Params returns the evaluator defaults.
func (s StrategyConfig) Params() strategy.Params {
	p := strategy.DefaultParams()
	p.Mode = strategy.Mode(s.Mode)
	p.Indicators = indicator.Config{
		MAPeriod:    s.MAPeriod,
		StochK:      s.StochK,
		StochD:      s.StochD,
		StochSmooth: s.StochSmooth,
		ADOSCFast:   s.ADOSCFast,
		ADOSCSlow:   s.ADOSCSlow,
		RSIPeriod:   s.RSIPeriod,
	}
	p.Window = s.Window
	p.Volume = strategy.VolumeLevels{Low: s.VolumeLow, Mid: s.VolumeMid, High: s.VolumeHigh}
	p.RSILow, p.RSIHigh = s.RSILow, s.RSIHigh
	p.MaxLossPercent = s.MaxLossPercent
	return p
}

// Client returns the keyless client configuration; sessions add keys.
func (b BybitConfig) Client() bybit.Config {
	cfg := bybit.Config{
		BaseURL:    b.BaseURL,
		WSURL:      b.WSURL,
		Category:   b.Category,
		RecvWindow: b.RecvWindow,
		Timeout:    b.Timeout,
		RateLimit:  b.RateLimit,
	}
	if b.Testnet {
		if cfg.BaseURL == "" {
			cfg.BaseURL = bybit.TestnetURL
		}
		if cfg.WSURL == "" {
			cfg.WSURL = bybit.TestnetPrivateWS
		}
	}
	return cfg
}
