package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed by pointer to every component.
// Nothing mutates it after Load returns.
type Config struct {
	BinanceConfig        BinanceConfig        `json:"binance"`
	TradingConfig        TradingConfig        `json:"trading"`
	RiskConfig           RiskConfig           `json:"risk"`
	IndicatorConfig      IndicatorConfig      `json:"indicators"`
	ScannerConfig        ScannerConfig        `json:"scanner"`
	ProtectionConfig     ProtectionConfig     `json:"protection"`
	AdvancedConfig       AdvancedConfig       `json:"advanced"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	RetryConfig          RetryConfig          `json:"retry"`
	PriceFeedConfig      PriceFeedConfig      `json:"price_feed"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	RedisConfig          RedisConfig          `json:"redis"`
	VaultConfig          VaultConfig          `json:"vault"`
	NotificationConfig   NotificationConfig   `json:"notification"`
	ServerConfig         ServerConfig         `json:"server"`
	AuthConfig           AuthConfig           `json:"auth"`
	LoggingConfig        LoggingConfig        `json:"logging"`
}

type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`

	// RequestWeightPerMinute bounds REST usage; Binance spot allows 6000.
	RequestWeightPerMinute int      `json:"request_weight_per_minute"`
	RequestTimeout         Duration `json:"request_timeout"`
}

type TradingConfig struct {
	PaperTrading        bool     `json:"paper_trading"`
	PaperBalance        float64  `json:"paper_balance"`
	ScanInterval        Duration `json:"scan_interval"`
	OHLCVTimeframe      string   `json:"ohlcv_timeframe"`
	OHLCVLimit          int      `json:"ohlcv_limit"`
	PriceCheckInterval  Duration `json:"price_check_interval"` // delay between per-symbol calls
	PendingCheckDelay   Duration `json:"pending_check_delay"`
	FillCheckDelayPaper Duration `json:"fill_check_delay_paper"`
	FillCheckDelayLive  Duration `json:"fill_check_delay_live"`
	PendingTimeoutPaper Duration `json:"pending_timeout_paper"`
	PendingTimeoutLive  Duration `json:"pending_timeout_live"`
	MarketRefresh       Duration `json:"market_refresh"`
	MessageCooldown     Duration `json:"message_cooldown"`
	DiagnosticsDelay    Duration `json:"diagnostics_delay"`
	DailyReportHour     int      `json:"daily_report_hour"`
}

type RiskConfig struct {
	RiskPercent         float64 `json:"risk_percent"`
	MaxPositions        int     `json:"max_positions"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	TrailingStopPercent float64 `json:"trailing_stop_percent"`
	MaxDailyLoss        float64 `json:"max_daily_loss"` // negative percent, e.g. -5
	MinPositionUSD      float64 `json:"min_position_usd"`
	MaxBuySlippage      float64 `json:"max_buy_slippage"`
	MinSellProfit       float64 `json:"min_sell_profit"`
	FeePercent          float64 `json:"fee_percent"`
	StopLimitOffset     float64 `json:"stop_limit_offset"` // percent below stop for the OCO stop-limit leg
}

type IndicatorConfig struct {
	MinCandles        int     `json:"min_candles"`
	SMAFast           int     `json:"sma_fast"`
	SMASlow           int     `json:"sma_slow"`
	RSIPeriod         int     `json:"rsi_period"`
	RSIBuyMin         float64 `json:"rsi_buy_min"`
	RSIBuyMax         float64 `json:"rsi_buy_max"`
	RSIStrongCeiling  float64 `json:"rsi_strong_ceiling"`
	RSIMediumCeiling  float64 `json:"rsi_medium_ceiling"`
	MACDFast          int     `json:"macd_fast"`
	MACDSlow          int     `json:"macd_slow"`
	MACDSignal        int     `json:"macd_signal"`
	ATRPeriod         int     `json:"atr_period"`
	VolumeWindow      int     `json:"volume_window"`
	VolumeSurgeFactor float64 `json:"volume_surge_factor"`
}

type ScannerConfig struct {
	QuoteAsset  string   `json:"quote_asset"`
	MinVolume   float64  `json:"min_volume"`
	MinPrice    float64  `json:"min_price"`
	MinChange   float64  `json:"min_change"`
	MaxChange   float64  `json:"max_change"`
	MaxSymbols  int      `json:"max_symbols"`
	ExcludeList []string `json:"exclude_list"`
}

type ProtectionConfig struct {
	Enabled            bool     `json:"enabled"`
	ReferenceSymbol    string   `json:"reference_symbol"`
	Window             Duration `json:"window"`
	SentimentReadings  int      `json:"sentiment_readings"`
	BTCDropThreshold   float64  `json:"btc_drop_threshold"`
	RedMarketThreshold float64  `json:"red_market_threshold"`
	SeverityThreshold  float64  `json:"severity_threshold"`
	DurationMin        Duration `json:"duration_min"`
	DurationMax        Duration `json:"duration_max"`
}

type AdvancedConfig struct {
	DynamicStopLoss    DynamicStopLossConfig    `json:"dynamic_stop_loss"`
	TrailingTakeProfit TrailingTakeProfitConfig `json:"trailing_take_profit"`
	SmartReentry       SmartReentryConfig       `json:"smart_reentry"`
	RearmBracket       bool                     `json:"rearm_bracket"`
}

type DynamicStopLossConfig struct {
	Enabled           bool    `json:"enabled"`
	MoveToBreakevenAt float64 `json:"move_to_breakeven_at"`
	LockProfitAt      float64 `json:"lock_profit_at"`
	LockProfitPercent float64 `json:"lock_profit_percent"`
}

type TrailingTakeProfitConfig struct {
	Enabled           bool    `json:"enabled"`
	ActivationPercent float64 `json:"activation_percent"`
	TrailingPercent   float64 `json:"trailing_percent"`
}

type SmartReentryConfig struct {
	Enabled            bool     `json:"enabled"`
	BlockAfterLoss     Duration `json:"block_after_loss"`
	BlockAfterStopLoss Duration `json:"block_after_stop_loss"`
}

type CircuitBreakerConfig struct {
	Enabled              bool `json:"enabled"`
	MaxConsecutiveLosses int  `json:"max_consecutive_losses"`
	HaltProcess          bool `json:"halt_process"`
}

type RetryConfig struct {
	MaxRetries      int      `json:"max_retries"`
	InitialInterval Duration `json:"initial_interval"`
	Multiplier      float64  `json:"multiplier"`
	MaxInterval     Duration `json:"max_interval"`
}

type PriceFeedConfig struct {
	Enabled        bool     `json:"enabled"`
	URL            string   `json:"url"`
	ReconnectDelay Duration `json:"reconnect_delay"`
	PingTimeout    Duration `json:"ping_timeout"`
	StaleAfter     Duration `json:"stale_after"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type ServerConfig struct {
	Enabled         bool     `json:"enabled"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ProductionMode  bool     `json:"production_mode"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// Duration wraps time.Duration so config.json can use "10s" style values.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value) * time.Millisecond
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

func dur(d time.Duration) Duration { return Duration{Duration: d} }

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			RequestWeightPerMinute: 3000,
			RequestTimeout:         dur(15 * time.Second),
		},
		TradingConfig: TradingConfig{
			PaperTrading:        true,
			PaperBalance:        1000,
			ScanInterval:        dur(60 * time.Second),
			OHLCVTimeframe:      "15m",
			OHLCVLimit:          500,
			PriceCheckInterval:  dur(200 * time.Millisecond),
			PendingCheckDelay:   dur(500 * time.Millisecond),
			FillCheckDelayPaper: dur(10 * time.Second),
			FillCheckDelayLive:  dur(120 * time.Second),
			PendingTimeoutPaper: dur(10 * time.Second),
			PendingTimeoutLive:  dur(600 * time.Second),
			MarketRefresh:       dur(time.Hour),
			MessageCooldown:     dur(10 * time.Minute),
			DiagnosticsDelay:    dur(30 * time.Second),
			DailyReportHour:     0,
		},
		RiskConfig: RiskConfig{
			RiskPercent:         2,
			MaxPositions:        5,
			StopLossPercent:     2.5,
			TakeProfitPercent:   7,
			TrailingStopPercent: 3.5,
			MaxDailyLoss:        -5,
			MinPositionUSD:      15,
			MaxBuySlippage:      0.3,
			MinSellProfit:       0.5,
			FeePercent:          0.1,
			StopLimitOffset:     0.5,
		},
		IndicatorConfig: IndicatorConfig{
			MinCandles:        200,
			SMAFast:           50,
			SMASlow:           200,
			RSIPeriod:         14,
			RSIBuyMin:         30,
			RSIBuyMax:         70,
			RSIStrongCeiling:  65,
			RSIMediumCeiling:  70,
			MACDFast:          12,
			MACDSlow:          26,
			MACDSignal:        9,
			ATRPeriod:         14,
			VolumeWindow:      20,
			VolumeSurgeFactor: 1.3,
		},
		ScannerConfig: ScannerConfig{
			QuoteAsset:  "USDT",
			MinVolume:   5_000_000,
			MinPrice:    0.01,
			MinChange:   -30,
			MaxChange:   100,
			MaxSymbols:  50,
			ExcludeList: []string{"BUSD", "UP", "DOWN", "BULL", "BEAR"},
		},
		ProtectionConfig: ProtectionConfig{
			Enabled:            true,
			ReferenceSymbol:    "BTCUSDT",
			Window:             dur(5 * time.Minute),
			SentimentReadings:  10,
			BTCDropThreshold:   -1.5,
			RedMarketThreshold: 70,
			SeverityThreshold:  3,
			DurationMin:        dur(2 * time.Hour),
			DurationMax:        dur(4 * time.Hour),
		},
		AdvancedConfig: AdvancedConfig{
			DynamicStopLoss: DynamicStopLossConfig{
				Enabled:           true,
				MoveToBreakevenAt: 3,
				LockProfitAt:      5,
				LockProfitPercent: 2,
			},
			TrailingTakeProfit: TrailingTakeProfitConfig{
				Enabled:           true,
				ActivationPercent: 5,
				TrailingPercent:   1.5,
			},
			SmartReentry: SmartReentryConfig{
				Enabled:            true,
				BlockAfterLoss:     dur(60 * time.Minute),
				BlockAfterStopLoss: dur(120 * time.Minute),
			},
			RearmBracket: true,
		},
		CircuitBreakerConfig: CircuitBreakerConfig{
			Enabled:              true,
			MaxConsecutiveLosses: 0,
		},
		RetryConfig: RetryConfig{
			MaxRetries:      3,
			InitialInterval: dur(2 * time.Second),
			Multiplier:      2,
			MaxInterval:     dur(30 * time.Second),
		},
		PriceFeedConfig: PriceFeedConfig{
			Enabled:        true,
			URL:            "wss://stream.binance.com:9443/ws/!ticker@arr",
			ReconnectDelay: dur(10 * time.Second),
			PingTimeout:    dur(60 * time.Second),
			StaleAfter:     dur(30 * time.Second),
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Database: "spot_trading",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RedisConfig: RedisConfig{
			Address:   "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "spot:",
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "spot-trading/binance",
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:4200", "http://localhost:5173"},
			ShutdownTimeout: dur(30 * time.Second),
		},
		AuthConfig: AuthConfig{
			Issuer: "spot-trading-engine",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Load reads .env, the optional JSON file, and environment overrides, in that
// order of increasing precedence.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Binance credentials only come from the environment or Vault
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)
	cfg.BinanceConfig.RequestWeightPerMinute = getEnvIntOrDefault("BINANCE_WEIGHT_PER_MINUTE", cfg.BinanceConfig.RequestWeightPerMinute)

	// Trading
	cfg.TradingConfig.PaperTrading = getEnvBoolOrDefault("PAPER_TRADING", cfg.TradingConfig.PaperTrading)
	cfg.TradingConfig.PaperBalance = getEnvFloatOrDefault("PAPER_BALANCE", cfg.TradingConfig.PaperBalance)
	cfg.TradingConfig.ScanInterval.Duration = getEnvDurationOrDefault("SCAN_INTERVAL", cfg.TradingConfig.ScanInterval.Duration)
	cfg.TradingConfig.OHLCVTimeframe = getEnvOrDefault("OHLCV_TIMEFRAME", cfg.TradingConfig.OHLCVTimeframe)
	cfg.TradingConfig.OHLCVLimit = getEnvIntOrDefault("OHLCV_LIMIT", cfg.TradingConfig.OHLCVLimit)

	// Risk
	cfg.RiskConfig.RiskPercent = getEnvFloatOrDefault("RISK_PERCENT", cfg.RiskConfig.RiskPercent)
	cfg.RiskConfig.MaxPositions = getEnvIntOrDefault("MAX_POSITIONS", cfg.RiskConfig.MaxPositions)
	cfg.RiskConfig.StopLossPercent = getEnvFloatOrDefault("STOP_LOSS_PERCENT", cfg.RiskConfig.StopLossPercent)
	cfg.RiskConfig.TakeProfitPercent = getEnvFloatOrDefault("TAKE_PROFIT_PERCENT", cfg.RiskConfig.TakeProfitPercent)
	cfg.RiskConfig.TrailingStopPercent = getEnvFloatOrDefault("TRAILING_STOP_PERCENT", cfg.RiskConfig.TrailingStopPercent)
	cfg.RiskConfig.MaxDailyLoss = getEnvFloatOrDefault("MAX_DAILY_LOSS", cfg.RiskConfig.MaxDailyLoss)
	cfg.RiskConfig.MinPositionUSD = getEnvFloatOrDefault("MIN_POSITION_USD", cfg.RiskConfig.MinPositionUSD)

	// Protection
	cfg.ProtectionConfig.Enabled = getEnvBoolOrDefault("PROTECTION_ENABLED", cfg.ProtectionConfig.Enabled)
	cfg.ProtectionConfig.BTCDropThreshold = getEnvFloatOrDefault("PROTECTION_BTC_DROP", cfg.ProtectionConfig.BTCDropThreshold)
	cfg.ProtectionConfig.RedMarketThreshold = getEnvFloatOrDefault("PROTECTION_RED_MARKET", cfg.ProtectionConfig.RedMarketThreshold)

	// Circuit breaker
	cfg.CircuitBreakerConfig.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreakerConfig.Enabled)
	cfg.CircuitBreakerConfig.HaltProcess = getEnvBoolOrDefault("CIRCUIT_HALT_PROCESS", cfg.CircuitBreakerConfig.HaltProcess)

	// Price feed
	cfg.PriceFeedConfig.Enabled = getEnvBoolOrDefault("PRICE_FEED_ENABLED", cfg.PriceFeedConfig.Enabled)
	cfg.PriceFeedConfig.URL = getEnvOrDefault("PRICE_FEED_URL", cfg.PriceFeedConfig.URL)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Notification
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = int64(getEnvIntOrDefault("TELEGRAM_CHAT_ID", int(cfg.NotificationConfig.Telegram.ChatID)))
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowedOrigins = strings.Split(origins, ",")
	}

	// Auth
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)
}

// Validate rejects configurations the engine cannot run safely with
func (c *Config) Validate() error {
	var problems []string

	r := c.RiskConfig
	if r.RiskPercent <= 0 || r.RiskPercent > 100 {
		problems = append(problems, "risk.risk_percent must be in (0, 100]")
	}
	if r.MaxPositions <= 0 {
		problems = append(problems, "risk.max_positions must be positive")
	}
	if r.StopLossPercent <= 0 || r.StopLossPercent >= 100 {
		problems = append(problems, "risk.stop_loss_percent must be in (0, 100)")
	}
	if r.TakeProfitPercent <= 0 {
		problems = append(problems, "risk.take_profit_percent must be positive")
	}
	if r.MinPositionUSD <= 0 {
		problems = append(problems, "risk.min_position_usd must be positive")
	}
	if r.MaxDailyLoss > 0 {
		problems = append(problems, "risk.max_daily_loss must be zero or negative")
	}

	ind := c.IndicatorConfig
	if ind.MinCandles < ind.SMASlow {
		problems = append(problems, "indicators.min_candles must cover sma_slow")
	}
	if ind.MACDFast >= ind.MACDSlow {
		problems = append(problems, "indicators.macd_fast must be below macd_slow")
	}
	if ind.RSIBuyMin >= ind.RSIBuyMax {
		problems = append(problems, "indicators.rsi_buy_min must be below rsi_buy_max")
	}
	if c.TradingConfig.OHLCVLimit < ind.MinCandles {
		problems = append(problems, "trading.ohlcv_limit must be at least indicators.min_candles")
	}
	if c.TradingConfig.ScanInterval.Duration <= 0 {
		problems = append(problems, "trading.scan_interval must be positive")
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required when auth is enabled")
	}
	if !c.TradingConfig.PaperTrading && !c.VaultConfig.Enabled &&
		(c.BinanceConfig.APIKey == "" || c.BinanceConfig.SecretKey == "") {
		problems = append(problems, "live trading requires BINANCE_API_KEY and BINANCE_SECRET_KEY or vault")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the defaults as a starting config.json
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
