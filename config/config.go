package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Exit policies
const (
	ExitFixed = "fixed"
	ExitATR   = "atr"
)

// Policies for an unavailable flow signal
const (
	FlowVeto    = "veto"
	FlowNeutral = "neutral"
)

// Config holds application configuration
type Config struct {
	Preset string `yaml:"preset" default:"default"`

	// Exchange (Bybit v5)
	APIKey         string `yaml:"-"`
	APISecret      string `yaml:"-"`
	RESTHost       string `yaml:"rest_host" default:"https://api-demo.bybit.com" validate:"url"`
	RecvWindow     string `yaml:"recv_window" default:"5000"`
	AccountType    string `yaml:"account_type" default:"UNIFIED"`
	SettleCoin     string `yaml:"settle_coin" default:"USDT"`
	UseTestnet     bool   `yaml:"use_testnet" default:"true"`
	RequestsPerSec int    `yaml:"requests_per_sec" default:"8" validate:"gte=1"`

	// Flow provider (Nansen)
	NansenAPIKey  string        `yaml:"-"`
	NansenBaseURL string        `yaml:"nansen_base_url" default:"https://api.nansen.ai/api/v1" validate:"url"`
	NansenMock    bool          `yaml:"nansen_mock"`
	FlowCacheTTL  time.Duration `yaml:"flow_cache_ttl" default:"5m" validate:"gt=0"`
	FlowTimeRange string        `yaml:"flow_time_range" default:"24h"`

	// Universe and capital
	Symbols         []string `yaml:"symbols" default:"[\"BTCUSDT\",\"ETHUSDT\"]" validate:"min=1,dive,required"`
	StartingCapital float64  `yaml:"starting_capital" default:"100" validate:"gt=0"`
	// Allocation caps the margin of one position as a fraction of equity;
	// 0 splits equity evenly across Symbols
	Allocation float64 `yaml:"allocation" validate:"gte=0,lte=1"`

	// Risk limits (fractions: 0.02 = 2%)
	BaseRiskPct           float64 `yaml:"base_risk_pct" default:"0.02" validate:"gt=0,lte=0.2"`
	HighRiskPct           float64 `yaml:"high_risk_pct" default:"0.03" validate:"gt=0,lte=0.2"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct" default:"0.15" validate:"gt=0,lt=1"`
	MaxConsecutiveLosses  int     `yaml:"max_consecutive_losses" default:"3" validate:"gte=1"`
	DailyLossLimitPct     float64 `yaml:"daily_loss_limit_pct" default:"0.06" validate:"gt=0,lt=1"`
	MinRiskReward         float64 `yaml:"min_risk_reward" default:"0.1" validate:"gte=0"`
	BaseLeverage          int     `yaml:"base_leverage" default:"3" validate:"gte=1,lte=100"`
	HighLeverage          int     `yaml:"high_leverage" default:"6" validate:"gte=1,lte=100"`
	MaxConcurrentTrades   int     `yaml:"max_concurrent_trades" default:"5" validate:"gte=1"`
	MinTradeIntervalHours float64 `yaml:"min_trade_interval_hours" default:"0.005" validate:"gte=0"`
	MaxTradesPerDay       int     `yaml:"max_trades_per_day" validate:"gte=0"` // 0 disables the cap
	MinOrderSize          float64 `yaml:"min_order_size" default:"0.001" validate:"gt=0"`
	WinRateWarnTrades     int     `yaml:"win_rate_warn_trades" default:"10"`
	WinRateWarnPct        float64 `yaml:"win_rate_warn_pct" default:"50"`
	Timezone              string  `yaml:"timezone" default:"UTC"`

	// Timeframes
	SignalTimeframe    string `yaml:"signal_timeframe" default:"240"`
	MomentumTimeframe  string `yaml:"momentum_timeframe" default:"60"`
	SignalCandles      int    `yaml:"signal_candles" default:"100" validate:"gtefield=MinSignalCandles"`
	MinSignalCandles   int    `yaml:"min_signal_candles" default:"50" validate:"gte=2"`
	MomentumCandles    int    `yaml:"momentum_candles" default:"50" validate:"gtefield=MinMomentumCandles"`
	MinMomentumCandles int    `yaml:"min_momentum_candles" default:"30" validate:"gte=2"`

	// Indicator periods
	EMAFast    int `yaml:"ema_fast" default:"20" validate:"gte=1,ltfield=EMASlow"`
	EMASlow    int `yaml:"ema_slow" default:"50" validate:"gte=1"`
	RSIPeriod  int `yaml:"rsi_period" default:"14" validate:"gte=1"`
	MACDFast   int `yaml:"macd_fast" default:"12" validate:"gte=1,ltfield=MACDSlow"`
	MACDSlow   int `yaml:"macd_slow" default:"26" validate:"gte=1"`
	MACDSignal int `yaml:"macd_signal" default:"9" validate:"gte=1"`
	ADXPeriod  int `yaml:"adx_period" default:"14" validate:"gte=1"`
	ATRPeriod  int `yaml:"atr_period" default:"14" validate:"gte=1"`

	// Scoring thresholds
	ADXThreshold           float64 `yaml:"adx_threshold" default:"25"`
	RSILongMin             float64 `yaml:"rsi_long_min" default:"50"`
	RSILongMax             float64 `yaml:"rsi_long_max" default:"70"`
	RSIShortMin            float64 `yaml:"rsi_short_min" default:"30"`
	RSIShortMax            float64 `yaml:"rsi_short_max" default:"50"`
	FundingLongMax         float64 `yaml:"funding_long_max" default:"0.0005"`
	FundingShortMin        float64 `yaml:"funding_short_min" default:"0.0005"`
	LSRatioLongMax         float64 `yaml:"ls_ratio_long_max" default:"1.2"`
	LSRatioShortMin        float64 `yaml:"ls_ratio_short_min" default:"0.8"`
	FlowUnavailablePolicy  string  `yaml:"flow_unavailable_policy" default:"neutral" validate:"oneof=veto neutral"`
	ExtremeFundingRate     float64 `yaml:"extreme_funding_rate" default:"0.001" validate:"gt=0"`
	StrongSignalConfidence float64 `yaml:"strong_signal_confidence" default:"0.7"`

	// Exits
	ExitMode           string  `yaml:"exit_mode" default:"fixed" validate:"oneof=fixed atr"`
	StopLossPct        float64 `yaml:"stop_loss_pct" default:"0.02" validate:"gt=0,lt=1"`
	StopLossPctHigh    float64 `yaml:"stop_loss_pct_high" default:"0.03" validate:"gt=0,lt=1"`
	TP1Pct             float64 `yaml:"tp1_pct" default:"0.005" validate:"gt=0"`
	TP2Pct             float64 `yaml:"tp2_pct" default:"0.01" validate:"gtfield=TP1Pct"`
	TP1ClosePct        float64 `yaml:"tp1_close_pct" default:"0.6" validate:"gt=0,lte=1"`
	BreakevenBufferPct float64 `yaml:"breakeven_buffer_pct" default:"0.005" validate:"gte=0"`
	ATRStopMult        float64 `yaml:"atr_stop_mult" default:"1.5" validate:"gt=0"`
	ATRTPMult          float64 `yaml:"atr_tp_mult" default:"2.5" validate:"gt=0"`
	ATRTrailMult       float64 `yaml:"atr_trail_mult" validate:"gte=0"` // 0 disables trailing
	TrailFraction      float64 `yaml:"trail_fraction" default:"0.4" validate:"gte=0,lt=1"`
	PriceTick          float64 `yaml:"price_tick" default:"0.01" validate:"gt=0"`

	// Loop
	DryRun       bool          `yaml:"dry_run"`
	LoopInterval time.Duration `yaml:"loop_interval" default:"12s" validate:"gt=0"`
	ErrorBackoff time.Duration `yaml:"error_backoff" default:"60s" validate:"gt=0"`
	CallTimeout  time.Duration `yaml:"call_timeout" default:"30s" validate:"gt=0"`

	// Persistence and notification
	DataDir        string `yaml:"data_dir" default:"data"`
	RiskStateFile  string `yaml:"risk_state_file" default:"data/risk_state.json"`
	PostgresDSN    string `yaml:"-"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"-"`
	RedisDB        int    `yaml:"redis_db"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	// Logging configuration
	LogFile       string `yaml:"log_file" default:"logs/trading_bot.log"`
	LogMaxSize    int    `yaml:"log_max_size" default:"10"`   // megabytes
	LogMaxBackups int    `yaml:"log_max_backups" default:"5"` // number of files
	LogMaxAge     int    `yaml:"log_max_age" default:"30"`    // days
	LogCompress   bool   `yaml:"log_compress" default:"true"`
	LogLevel      int    `yaml:"log_level" default:"1" validate:"gte=0,lte=3"` // 0=DEBUG, 1=INFO, 2=WARNING, 3=ERROR
	Debug         bool   `yaml:"debug"`

	// Status server configuration
	StatusAddr string `yaml:"status_addr" default:"127.0.0.1:6061"`
	// Daemon configuration
	DaemonMode bool   `yaml:"daemon_mode"`
	PIDFile    string `yaml:"pid_file" default:"smartflow-perp.pid"`
}

// LoadConfig loads defaults, the preset named by PRESET and environment
// overrides. Invalid values fall back to the defaults silently.
func LoadConfig() *Config {
	cfg, err := Load(getEnv("CONFIG_FILE", ""), getEnv("PRESET", ""))
	if err != nil {
		cfg = &Config{}
		_ = defaults.Set(cfg)
		applyEnv(cfg)
	}
	return cfg
}

// Load builds the configuration from struct defaults, a named preset, an
// optional YAML file, .env and the process environment, then validates it.
func Load(path, preset string) (*Config, error) {
	// .env never overrides variables already present in the environment
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	var raw []byte
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var head struct {
			Preset string `yaml:"preset"`
		}
		if err := yaml.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if preset == "" {
			preset = head.Preset
		}
	}

	if preset == "" {
		preset = getEnv("PRESET", cfg.Preset)
	}
	if err := ApplyPreset(cfg, preset); err != nil {
		return nil, err
	}

	if raw != nil {
		// decoding on top of defaults+preset lets only keys present in the file win
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	if c.RSILongMin > c.RSILongMax || c.RSIShortMin > c.RSIShortMax {
		errs = append(errs, errors.New("rsi bands must have min <= max"))
	}
	if c.HighRiskPct < c.BaseRiskPct {
		errs = append(errs, errors.New("high_risk_pct must be >= base_risk_pct"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// SymbolAllocation returns the per-position margin share of equity
func (c *Config) SymbolAllocation() float64 {
	if c.Allocation > 0 {
		return c.Allocation
	}
	if len(c.Symbols) == 0 {
		return 1
	}
	return 1 / float64(len(c.Symbols))
}

// Location returns the trading-day timezone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UseMockFlow reports whether the flow provider should be simulated
func (c *Config) UseMockFlow() bool {
	return c.NansenMock || c.NansenAPIKey == ""
}

// applyEnv overlays environment variables. Percent-valued risk settings are
// given in percent (BASE_RISK_PCT=2 means 2%).
func applyEnv(c *Config) {
	c.APIKey = getEnv("BYBIT_API_KEY", c.APIKey)
	c.APISecret = getEnv("BYBIT_API_SECRET", c.APISecret)
	c.RESTHost = getEnv("BYBIT_REST_HOST", c.RESTHost)
	c.UseTestnet = getEnvAsBool("USE_TESTNET", c.UseTestnet)
	c.NansenAPIKey = getEnv("NANSEN_API_KEY", c.NansenAPIKey)
	c.NansenMock = getEnvAsBool("NANSEN_MOCK", c.NansenMock)
	if pairs := getEnv("TRADING_PAIRS", ""); pairs != "" {
		c.Symbols = splitList(pairs)
	}
	c.DryRun = getEnvAsBool("DRY_RUN", c.DryRun)
	c.StartingCapital = getEnvAsFloat("STARTING_CAPITAL", c.StartingCapital)
	c.BaseRiskPct = getEnvAsPercent("BASE_RISK_PCT", c.BaseRiskPct)
	c.HighRiskPct = getEnvAsPercent("HIGH_CONVICTION_RISK_PCT", c.HighRiskPct)
	c.MaxDrawdownPct = getEnvAsPercent("MAX_DRAWDOWN_PCT", c.MaxDrawdownPct)
	c.DailyLossLimitPct = getEnvAsPercent("DAILY_LOSS_LIMIT_PCT", c.DailyLossLimitPct)
	c.Allocation = getEnvAsPercent("SYMBOL_ALLOCATION_PCT", c.Allocation)
	c.BaseLeverage = getEnvAsInt("BASE_LEVERAGE", c.BaseLeverage)
	c.HighLeverage = getEnvAsInt("HIGH_CONVICTION_LEVERAGE", c.HighLeverage)
	c.ExitMode = getEnv("EXIT_MODE", c.ExitMode)
	c.FlowUnavailablePolicy = getEnv("FLOW_UNAVAILABLE_POLICY", c.FlowUnavailablePolicy)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.TelegramToken = getEnv("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramChatID = int64(getEnvAsInt("TELEGRAM_CHAT_ID", int(c.TelegramChatID)))
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
	c.DaemonMode = getEnvAsBool("DAEMON_MODE", c.DaemonMode)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// getEnvAsBool gets an environment variable as a boolean value
func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsPercent(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed / 100
}

func getEnvAsInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
