// Package config loads the runtime's recognized configuration keys
// from a YAML file plus "__"-nested-delimiter environment overrides,
// mirroring original_source/backend/config.py's pydantic-settings
// nested model tree.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MMRTier is one row of a tiered maintenance-margin schedule.
type MMRTier struct {
	NotionalThreshold float64 `mapstructure:"notional_threshold"`
	MMR               float64 `mapstructure:"mmr"`
	MaintAmount       float64 `mapstructure:"maint_amount"`
}

// EMAConfig sizes the fast/slow exponential moving averages.
type EMAConfig struct {
	Fast int `mapstructure:"fast"`
	Slow int `mapstructure:"slow"`
}

// RSIConfig sizes the relative strength index.
type RSIConfig struct {
	Length int `mapstructure:"length"`
}

// MACDConfig sizes the MACD fast/slow/signal EMAs.
type MACDConfig struct {
	Fast   int `mapstructure:"fast"`
	Slow   int `mapstructure:"slow"`
	Signal int `mapstructure:"signal"`
}

// ATRConfig sizes the average true range.
type ATRConfig struct {
	Length int `mapstructure:"length"`
}

// BufferConfig sizes the kline ring buffers.
type BufferConfig struct {
	MaxBars15m int `mapstructure:"max_bars_15m"`
	MaxBars1h  int `mapstructure:"max_bars_1h"`
}

// WsReconnectConfig tunes the market source's reconnect backoff.
type WsReconnectConfig struct {
	MaxRetries   int `mapstructure:"max_retries"`
	BaseDelayMs  int `mapstructure:"base_delay_ms"`
	MaxDelayMs   int `mapstructure:"max_delay_ms"`
}

// BinanceConfig points at the upstream exchange endpoints.
type BinanceConfig struct {
	RestBase     string            `mapstructure:"rest_base"`
	WsBase       string            `mapstructure:"ws_base"`
	Symbol       string            `mapstructure:"symbol"`
	Intervals    []string          `mapstructure:"intervals"`
	WsReconnect  WsReconnectConfig `mapstructure:"ws_reconnect"`
}

// TelegramAlertConfig configures the Telegram alert channel.
type TelegramAlertConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// WebhookAlertConfig configures a generic webhook alert channel.
type WebhookAlertConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// AlertsConfig groups every alert transport and dedup policy.
type AlertsConfig struct {
	Enabled    bool                `mapstructure:"enabled"`
	DedupTTLMs int64               `mapstructure:"dedup_ttl_ms"`
	Telegram   TelegramAlertConfig `mapstructure:"telegram"`
	Webhook    WebhookAlertConfig  `mapstructure:"webhook"`
}

// APIConfig configures the downstream HTTP/WebSocket surface.
type APIConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	BasePath      string `mapstructure:"base_path"`
	WsPushInterval string `mapstructure:"ws_push_interval"`
}

// StorageConfig points at the sqlite database file.
type StorageConfig struct {
	SqlitePath string `mapstructure:"sqlite_path"`
}

// FundingConfig controls periodic funding-rate application.
type FundingConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PollIntervalS  int  `mapstructure:"poll_interval_s"`
}

// TelemetryConfig points the tracer at a jaeger agent/collector.
type TelemetryConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// RiskConfig bounds position sizing and defines the liquidation schedule.
type RiskConfig struct {
	MaxPositionNotional  float64   `mapstructure:"max_position_notional"`
	MaxPositionPctEquity float64   `mapstructure:"max_position_pct_equity"`
	MMRTiers             []MMRTier `mapstructure:"mmr_tiers"`
}

// StrategyEntryConfig tunes the reference strategy's entry filters.
// When SwingLookback is zero the whole block is taken from the
// top-level values of the same names; otherwise every field is used as
// given, zero values included.
type StrategyEntryConfig struct {
	TrendStrengthMin  float64 `mapstructure:"trend_strength_min"`
	ATRStopMult       float64 `mapstructure:"atr_stop_mult"`
	CooldownAfterStop int     `mapstructure:"cooldown_after_stop"`
	RSILongLo         float64 `mapstructure:"rsi_long_lo"`
	RSILongHi         float64 `mapstructure:"rsi_long_hi"`
	RSIShortLo        float64 `mapstructure:"rsi_short_lo"`
	RSIShortHi        float64 `mapstructure:"rsi_short_hi"`
	RSISlopeRequired  bool    `mapstructure:"rsi_slope_required"`
	SwingLookback     int     `mapstructure:"swing_lookback"`
}

// StrategyInstance is one configured strategy id/type pair.
type StrategyInstance struct {
	ID             string              `mapstructure:"id"`
	Type           string              `mapstructure:"type"`
	InitialCapital float64             `mapstructure:"initial_capital"`
	MaxLeverage    int                 `mapstructure:"max_leverage"`
	FeeRate        float64             `mapstructure:"fee_rate"`
	Entry          StrategyEntryConfig `mapstructure:"entry"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Symbol    string   `mapstructure:"symbol"`
	Intervals []string `mapstructure:"intervals"`

	InitialCapital float64 `mapstructure:"initial_capital"`
	MaxLeverage    int     `mapstructure:"max_leverage"`
	FeeRate        float64 `mapstructure:"fee_rate"`

	EMA  EMAConfig  `mapstructure:"ema"`
	RSI  RSIConfig  `mapstructure:"rsi"`
	MACD MACDConfig `mapstructure:"macd"`
	ATR  ATRConfig  `mapstructure:"atr"`

	StrategyEntryConfig `mapstructure:",squash"`

	Risk   RiskConfig   `mapstructure:"risk"`
	Buffer BufferConfig `mapstructure:"buffer"`

	WarmupExtraBars  int     `mapstructure:"warmup_extra_bars"`
	WarmupBufferMult float64 `mapstructure:"warmup_buffer_mult"`

	Alerts    AlertsConfig    `mapstructure:"alerts"`
	API       APIConfig       `mapstructure:"api"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Funding   FundingConfig   `mapstructure:"funding"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	Strategies []StrategyInstance `mapstructure:"strategies"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("intervals", []string{"15m", "1h"})
	v.SetDefault("initial_capital", 10000.0)
	v.SetDefault("max_leverage", 10)
	v.SetDefault("fee_rate", 0.0004)

	v.SetDefault("ema.fast", 9)
	v.SetDefault("ema.slow", 21)
	v.SetDefault("rsi.length", 14)
	v.SetDefault("macd.fast", 12)
	v.SetDefault("macd.slow", 26)
	v.SetDefault("macd.signal", 9)
	v.SetDefault("atr.length", 14)

	v.SetDefault("trend_strength_min", 0.001)
	v.SetDefault("atr_stop_mult", 1.5)
	v.SetDefault("cooldown_after_stop", 5)
	v.SetDefault("rsi_long_lo", 40.0)
	v.SetDefault("rsi_long_hi", 60.0)
	v.SetDefault("rsi_short_lo", 40.0)
	v.SetDefault("rsi_short_hi", 60.0)
	v.SetDefault("rsi_slope_required", true)
	v.SetDefault("swing_lookback", 20)

	v.SetDefault("risk.max_position_notional", 5000.0)
	v.SetDefault("risk.max_position_pct_equity", 0.5)
	v.SetDefault("risk.mmr_tiers", []map[string]interface{}{
		{"notional_threshold": 50000.0, "mmr": 0.004, "maint_amount": 0.0},
		{"notional_threshold": 250000.0, "mmr": 0.005, "maint_amount": 50.0},
		{"notional_threshold": 1000000.0, "mmr": 0.01, "maint_amount": 1300.0},
	})

	v.SetDefault("buffer.max_bars_15m", 1000)
	v.SetDefault("buffer.max_bars_1h", 1000)
	v.SetDefault("warmup_extra_bars", 20)
	v.SetDefault("warmup_buffer_mult", 2.0)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.dedup_ttl_ms", 300000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.ws_push_interval", "raw")

	v.SetDefault("binance.rest_base", "https://fapi.binance.com")
	v.SetDefault("binance.ws_base", "wss://fstream.binance.com")
	v.SetDefault("binance.ws_reconnect.max_retries", 0)
	v.SetDefault("binance.ws_reconnect.base_delay_ms", 1000)
	v.SetDefault("binance.ws_reconnect.max_delay_ms", 30000)

	v.SetDefault("storage.sqlite_path", "paperbot.db")

	v.SetDefault("funding.enabled", true)
	v.SetDefault("funding.poll_interval_s", 300)

	v.SetDefault("strategies", []map[string]interface{}{
		{"id": "default", "type": "trendpullback"},
	})
}

// Load reads configFile (if it exists), applies PAPERBOT_-prefixed
// "__"-nested-delimited environment overrides on top, and returns the
// resolved Config. A local .env file, if present, is loaded first so
// its values are visible to the environment override pass.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix("PAPERBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
