package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileEnv = "CONFIG_FILE"
	defaultFile   = "values_local"
)

// GatewayConfig binds the ib_gateway.* surface from spec.md §6.
type GatewayConfig struct {
	Host        string        `mapstructure:"host"`
	PaperPort   int           `mapstructure:"paper_port"`
	LivePort    int           `mapstructure:"live_port"`
	ClientID    int           `mapstructure:"client_id"`
	TimeoutSec  time.Duration `mapstructure:"timeout_seconds"`
	TradingMode string        `mapstructure:"trading_mode"`
	LiveEnabled bool          `mapstructure:"live_enabled"`
}

// RuntimeConfig binds runtime.* — filesystem locations the engine reads
// and writes, kept independent of the store DSN so the market cache and
// event logs can be relocated on their own.
type RuntimeConfig struct {
	DataDir           string `mapstructure:"data_dir"`
	DBPath            string `mapstructure:"db_path"`
	LogPath           string `mapstructure:"log_path"`
	MarketDataLogPath string `mapstructure:"market_data_log_path"`
	MarketCacheDBPath string `mapstructure:"market_cache_db_path"`
}

// WorkerConfig binds worker.*. The raw monitor_interval_seconds value is
// clamped to [20,300] by internal/orchestrator, not here.
type WorkerConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	MonitorIntervalSeconds int  `mapstructure:"monitor_interval_seconds"`
	ConfiguredThreads      int  `mapstructure:"configured_threads"`
	QueueMaxSize           int  `mapstructure:"queue_maxsize"`

	// GatewayNotWorkEventThrottleSeconds/WaitingForMarketDataEventThrottleSeconds
	// bound how often the orchestrator re-appends a GATEWAY_NOT_WORK/
	// WAITING_FOR_MARKET_DATA StrategyEvent for a strategy stuck on the
	// same low-signal outcome across consecutive scans.
	GatewayNotWorkEventThrottleSeconds       int `mapstructure:"gateway_not_work_event_throttle_seconds"`
	WaitingForMarketDataEventThrottleSeconds int `mapstructure:"waiting_for_market_data_event_throttle_seconds"`
}

// MarketStreamConfig binds market_stream.* — an optional live bar feed
// that ingests closed bars over a single batched websocket subscription
// instead of waiting for the next GetHistoricalBars poll. Disabled
// (empty URL) by default; spec.md's C1 gets by on page-fetch polling
// alone, so this only turns on where an operator has a streaming
// endpoint to point at.
type MarketStreamConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	URL                   string        `mapstructure:"url"`
	BarSize               string        `mapstructure:"bar_size"`
	PingIntervalSeconds   time.Duration `mapstructure:"ping_interval_seconds"`
	ReconnectDelaySeconds time.Duration `mapstructure:"reconnect_delay_seconds"`
}

// VerifierRule names one registered check and its audited version, in
// the order internal/verifier.Verify runs it.
type VerifierRule struct {
	ID      string `mapstructure:"id"`
	Version int    `mapstructure:"version"`
}

// VerificationConfig binds verification.* — the pre-trade rule set's
// tunables and rule ordering read by internal/verifier. RuleSet is
// empty by default, in which case internal/verifier falls back to its
// built-in default ordering (order_type_allowed v1, max_notional v1).
type VerificationConfig struct {
	MaxNotionalUSD    float64        `mapstructure:"max_notional_usd"`
	AllowedOrderTypes []string       `mapstructure:"allowed_order_types"`
	RuleSet           []VerifierRule `mapstructure:"rule_set"`
}

type LimitsConfig struct {
	MaxConditionsPerStrategy int `mapstructure:"max_conditions_per_strategy"`
}

// ServiceConfig is the ambient HTTP/admin listen surface, grounded on the
// teacher's Service{Host,PublicPort,AdminPort} block.
type ServiceConfig struct {
	Host       string `mapstructure:"host"`
	PublicPort int    `mapstructure:"public_port"`
	AdminPort  int    `mapstructure:"admin_port"`
}

type TracingConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AlertsConfig binds alerts.* — the operator-notification channel for
// conditions the engine can't resolve on its own (naked risk left
// behind by a partially-failed roll). An empty bot_token falls back to
// logging alerts to stdout instead of sending them anywhere.
type AlertsConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
}

type Config struct {
	DB                 string             `mapstructure:"db_dsn"`
	Service            ServiceConfig      `mapstructure:"service"`
	Tracing            TracingConfig      `mapstructure:"tracing"`
	Gateway            GatewayConfig      `mapstructure:"ib_gateway"`
	Runtime            RuntimeConfig      `mapstructure:"runtime"`
	Worker             WorkerConfig       `mapstructure:"worker"`
	MarketStream       MarketStreamConfig `mapstructure:"market_stream"`
	Verification       VerificationConfig `mapstructure:"verification"`
	Limits             LimitsConfig       `mapstructure:"limits"`
	Alerts             AlertsConfig       `mapstructure:"alerts"`
	ConditionRulesFile string             `mapstructure:"condition_rules_file"`
}

// NewConfig loads configuration in the precedence order spec.md §6
// requires: built-in defaults, then the YAML file, then environment
// variables (highest priority). The file name is resolved from
// CONFIG_FILE, falling back to configs/values_local.yaml.
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileName := defaultFile
	if name := os.Getenv(configFileEnv); name != "" {
		configFileName = strings.TrimSuffix(name, ".yaml")
	}
	v.SetConfigName(configFileName)
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.DB = dsn
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.public_port", 8080)
	v.SetDefault("service.admin_port", 8081)

	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("ib_gateway.host", "127.0.0.1")
	v.SetDefault("ib_gateway.paper_port", 7497)
	v.SetDefault("ib_gateway.live_port", 7496)
	v.SetDefault("ib_gateway.client_id", 1)
	v.SetDefault("ib_gateway.timeout_seconds", "10s")
	v.SetDefault("ib_gateway.trading_mode", "paper")
	v.SetDefault("ib_gateway.live_enabled", false)

	v.SetDefault("runtime.data_dir", "./data")
	v.SetDefault("runtime.db_path", "./data/engine.db")
	v.SetDefault("runtime.log_path", "./data/engine.log")
	v.SetDefault("runtime.market_data_log_path", "./data/market_data.log")
	v.SetDefault("runtime.market_cache_db_path", "./data/market_cache.db")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.monitor_interval_seconds", 60)
	v.SetDefault("worker.configured_threads", 4)
	v.SetDefault("worker.queue_maxsize", 200)
	v.SetDefault("worker.gateway_not_work_event_throttle_seconds", 300)
	v.SetDefault("worker.waiting_for_market_data_event_throttle_seconds", 120)

	v.SetDefault("market_stream.enabled", false)
	v.SetDefault("market_stream.url", "")
	v.SetDefault("market_stream.bar_size", "1m")
	v.SetDefault("market_stream.ping_interval_seconds", "20s")
	v.SetDefault("market_stream.reconnect_delay_seconds", "1s")

	v.SetDefault("verification.max_notional_usd", 50000.0)
	v.SetDefault("verification.allowed_order_types", []string{"MKT", "LMT"})

	v.SetDefault("limits.max_conditions_per_strategy", 5)

	v.SetDefault("alerts.telegram_bot_token", "")
	v.SetDefault("alerts.telegram_chat_id", 0)

	v.SetDefault("condition_rules_file", "configs/condition_rules.json")
}
