package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"TopSignals/internal/logging"
	"TopSignals/internal/model"
)

// Metric keys served by the HTTP surface and cached.
const (
	MetricBTCHistory    = "btc_history"
	MetricBTCIndicators = "btc_indicators"
	MetricPiCycle       = "pi_cycle"
	MetricCoinbaseRank  = "coinbase_rank"
)

// Scalar metrics tracked by the snapshot store.
const (
	ScalarBTCPrice    = "btc_price"
	ScalarFinanceRank = "coinbase_finance_rank"
	ScalarOverallRank = "coinbase_overall_rank"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MetricConfig tunes caching and trend tracking for one metric.
type MetricConfig struct {
	TTL           Duration `yaml:"ttl"`
	DegradedTTL   Duration `yaml:"degraded_ttl"`
	Polarity      string   `yaml:"polarity"`
	StaticDefault *float64 `yaml:"static_default"`
}

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr            string   `yaml:"addr"`
		ShutdownTimeout Duration `yaml:"shutdown_timeout"`
		Mode            string   `yaml:"mode"` // gin mode: debug, release, test
	} `yaml:"server"`
	Log      logging.Config `yaml:"log"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Providers struct {
		CryptoCompareKey string   `yaml:"crypto_compare_key"`
		CoinGeckoKey     string   `yaml:"coingecko_key"`
		SearchAPIKey     string   `yaml:"searchapi_key"`
		TAAPISecret      string   `yaml:"taapi_secret"`
		Timeout          Duration `yaml:"timeout"`
		AttemptTimeout   Duration `yaml:"attempt_timeout"`
		Endpoints        struct {
			Binance       string `yaml:"binance"`
			CryptoCompare string `yaml:"cryptocompare"`
			CoinGecko     string `yaml:"coingecko"`
			Yahoo         string `yaml:"yahoo"`
			TAAPI         string `yaml:"taapi"`
			SearchAPI     string `yaml:"searchapi"`
			AppleRSS      string `yaml:"apple_rss"`
		} `yaml:"endpoints"`
	} `yaml:"providers"`
	Schedule struct {
		WarmCron   string `yaml:"warm_cron"`
		SignalCron string `yaml:"signal_cron"`
		// AlertStateFile keeps fired alerts across restarts.
		AlertStateFile string `yaml:"alert_state_file"`
	} `yaml:"schedule"`
	Database struct {
		Driver     string `yaml:"driver"` // sqlite, postgres, memory
		SQLitePath string `yaml:"sqlite_path"`
		DSN        string `yaml:"dsn"`
	} `yaml:"database"`
	Cache struct {
		StaleRetention Duration `yaml:"stale_retention"`
	} `yaml:"cache"`
	Metrics map[string]MetricConfig `yaml:"metrics"`
	Proxy   string                  `yaml:"proxy"`
}

// Load reads an optional .env file, the YAML config at path, then environment overrides
// and defaults. A missing file at either path is not an error.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Providers.CryptoCompareKey, "CRYPTO_COMPARE_API")
	override(&c.Providers.CoinGeckoKey, "CG_DEMO_API_KEY")
	override(&c.Providers.SearchAPIKey, "SEARCHAPI_IO_KEY")
	override(&c.Providers.TAAPISecret, "TAAPI_SECRET")
	override(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	override(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	override(&c.Database.SQLitePath, "SQLITE_PATH")
	override(&c.Proxy, "HTTPS_PROXY")
	override(&c.Server.Addr, "HTTP_ADDR")
	override(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		c.Database.Driver = "postgres"
	}
}

// defaultMetrics mirrors the refresh cadence of each data set.
func defaultMetrics() map[string]MetricConfig {
	return map[string]MetricConfig{
		MetricBTCHistory:    {TTL: Duration(24 * time.Hour), DegradedTTL: Duration(5 * time.Minute)},
		MetricBTCIndicators: {TTL: Duration(4 * time.Hour), DegradedTTL: Duration(5 * time.Minute)},
		MetricPiCycle:       {TTL: Duration(24 * time.Hour), DegradedTTL: Duration(5 * time.Minute)},
		MetricCoinbaseRank:  {TTL: Duration(5 * time.Minute), DegradedTTL: Duration(time.Minute)},
		ScalarBTCPrice:      {Polarity: string(model.HigherIsBetter)},
		ScalarFinanceRank:   {Polarity: string(model.LowerIsBetter)},
		ScalarOverallRank:   {Polarity: string(model.LowerIsBetter)},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = "logs/topsignals.log"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = Duration(20 * time.Second)
	}
	if c.Providers.AttemptTimeout == 0 {
		c.Providers.AttemptTimeout = Duration(90 * time.Second)
	}
	if c.Schedule.WarmCron == "" {
		c.Schedule.WarmCron = "0 */30 * * * *"
	}
	if c.Schedule.SignalCron == "" {
		c.Schedule.SignalCron = "0 0 */4 * * *"
	}
	if c.Schedule.AlertStateFile == "" {
		c.Schedule.AlertStateFile = "data/alert_state.json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/topsignals.db"
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = Duration(24 * time.Hour)
	}

	if c.Metrics == nil {
		c.Metrics = map[string]MetricConfig{}
	}
	for key, def := range defaultMetrics() {
		mc, ok := c.Metrics[key]
		if !ok {
			c.Metrics[key] = def
			continue
		}
		if mc.TTL == 0 {
			mc.TTL = def.TTL
		}
		if mc.DegradedTTL == 0 {
			mc.DegradedTTL = def.DegradedTTL
		}
		if mc.Polarity == "" {
			mc.Polarity = def.Polarity
		}
		c.Metrics[key] = mc
	}
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, postgres, memory", c.Database.Driver)
	}
	for _, key := range []string{ScalarBTCPrice, ScalarFinanceRank, ScalarOverallRank} {
		if _, err := model.ParsePolarity(c.Metrics[key].Polarity); err != nil {
			return fmt.Errorf("metrics.%s.polarity: %w", key, err)
		}
	}
	for key, mc := range c.Metrics {
		if mc.DegradedTTL > mc.TTL && mc.TTL > 0 {
			return fmt.Errorf("metrics.%s: degraded_ttl must not exceed ttl", key)
		}
		if mc.Polarity != "" {
			if _, err := model.ParsePolarity(mc.Polarity); err != nil {
				return fmt.Errorf("metrics.%s.polarity: %w", key, err)
			}
		}
	}
	return nil
}

// TelegramEnabled reports whether alert delivery is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Polarities returns the configured polarity of every tracked scalar. Call after Validate.
func (c *Config) Polarities() map[string]model.Polarity {
	out := make(map[string]model.Polarity)
	for key, mc := range c.Metrics {
		if p, err := model.ParsePolarity(mc.Polarity); err == nil {
			out[key] = p
		}
	}
	return out
}

// Metric returns the settings for key, falling back to the built-in defaults.
func (c *Config) Metric(key string) MetricConfig {
	if mc, ok := c.Metrics[key]; ok {
		return mc
	}
	return defaultMetrics()[key]
}
