package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"okx-core/pkg/crypto"
)

// Config holds the daemon settings. Values come from the optional YAML file first,
// then environment variables (optionally via .env) override them.
type Config struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`

	// bcrypt hash of the operator password accepted by POST /api/auth/login
	APIPasswordHash string `yaml:"api_password_hash"`

	// OKX credentials and endpoints
	OKXAPIKey     string `yaml:"okx_api_key"`
	OKXSecretKey  string `yaml:"okx_secret_key"`
	OKXPassphrase string `yaml:"okx_passphrase"`
	Demo          bool   `yaml:"demo"`
	RESTBaseURL   string `yaml:"rest_base_url"`
	PublicWSURL   string `yaml:"public_ws_url"`
	PrivateWSURL  string `yaml:"private_ws_url"`

	// Instrument / account
	InstID            string  `yaml:"inst_id"`
	TdMode            string  `yaml:"td_mode"` // cross or isolated
	Leverage          int     `yaml:"leverage"`
	MarginBufferRatio float64 `yaml:"margin_buffer_ratio"`
	MaxPositions      int     `yaml:"max_positions"`

	// Strategy
	StrategyName string `yaml:"strategy_name"`
	Bar          string `yaml:"bar"`
	FastEMA      int    `yaml:"fast_ema"`
	SlowEMA      int    `yaml:"slow_ema"`

	// Risk (percentages are fractions, 0.01 = 1%)
	RiskPct           float64 `yaml:"risk_pct"`
	StopLossPct       float64 `yaml:"sl_pct"`
	TakeProfitPct     float64 `yaml:"tp_pct"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	Timezone          string  `yaml:"timezone"`

	// Order lifecycle
	OrderTimeout      time.Duration `yaml:"order_timeout"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	CancelRetries     int           `yaml:"cancel_retries"`
	RejectCooldown    time.Duration `yaml:"reject_cooldown"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	NotFoundGrace     time.Duration `yaml:"not_found_grace"`

	// Database
	DBDriver string `yaml:"db_driver"` // sqlite or postgres
	DBDSN    string `yaml:"db_dsn"`

	// ExecutionEnabled=false keeps the daemon observing without placing orders.
	ExecutionEnabled bool `yaml:"execution_enabled"`
	// Starting equity of the simulated account used while execution is disabled.
	DryRunBalance float64 `yaml:"dry_run_balance"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Port:              "8080",
		JWTSecret:         "dev-secret",
		RESTBaseURL:       "https://www.okx.com",
		InstID:            "BTC-USDT-SWAP",
		TdMode:            "cross",
		Leverage:          5,
		MarginBufferRatio: 0.9,
		MaxPositions:      1,
		StrategyName:      "ema_cross",
		Bar:               "1m",
		FastEMA:           9,
		SlowEMA:           21,
		RiskPct:           0.01,
		StopLossPct:       0.01,
		TakeProfitPct:     0.02,
		DailyLossLimitPct: 0.03,
		Timezone:          "Asia/Singapore",
		OrderTimeout:      30 * time.Second,
		TickInterval:      2 * time.Second,
		CancelRetries:     3,
		RejectCooldown:    60 * time.Second,
		ReconcileInterval: 30 * time.Second,
		NotFoundGrace:     2 * time.Minute,
		DBDriver:          "sqlite",
		DBDSN:             "./data/okx_core.db",
		ExecutionEnabled:  true,
		DryRunBalance:     10000,
	}
}

// Load reads .env, the YAML file at path (skipped when empty or missing) and then env overrides.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("OKX_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.openSealed(os.Getenv); err != nil {
		return nil, err
	}
	cfg.fillEndpoints()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Port = getEnv("PORT", c.Port)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.APIPasswordHash = getEnv("API_PASSWORD_HASH", c.APIPasswordHash)

	c.OKXAPIKey = getEnv("OKX_API_KEY", c.OKXAPIKey)
	c.OKXSecretKey = getEnv("OKX_SECRET_KEY", c.OKXSecretKey)
	c.OKXPassphrase = getEnv("OKX_PASSPHRASE", c.OKXPassphrase)
	c.Demo = getEnvBool("OKX_DEMO", c.Demo)
	c.RESTBaseURL = getEnv("OKX_REST_BASE_URL", c.RESTBaseURL)
	c.PublicWSURL = getEnv("OKX_PUBLIC_WS_URL", c.PublicWSURL)
	c.PrivateWSURL = getEnv("OKX_PRIVATE_WS_URL", c.PrivateWSURL)

	c.InstID = getEnv("INST_ID", c.InstID)
	c.TdMode = strings.ToLower(getEnv("TD_MODE", c.TdMode))
	c.Leverage = getEnvInt("LEVERAGE", c.Leverage)
	c.MarginBufferRatio = getEnvFloat("MARGIN_BUFFER_RATIO", c.MarginBufferRatio)
	c.MaxPositions = getEnvInt("MAX_POSITIONS", c.MaxPositions)

	c.StrategyName = getEnv("STRATEGY_NAME", c.StrategyName)
	c.Bar = getEnv("BAR", c.Bar)
	c.FastEMA = getEnvInt("FAST_EMA", c.FastEMA)
	c.SlowEMA = getEnvInt("SLOW_EMA", c.SlowEMA)

	c.RiskPct = getEnvFloat("RISK_PCT", c.RiskPct)
	c.StopLossPct = getEnvFloat("SL_PCT", c.StopLossPct)
	c.TakeProfitPct = getEnvFloat("TP_PCT", c.TakeProfitPct)
	c.DailyLossLimitPct = getEnvFloat("DAILY_LOSS_LIMIT_PCT", c.DailyLossLimitPct)
	c.Timezone = getEnv("TIMEZONE", c.Timezone)

	c.OrderTimeout = getEnvDuration("ORDER_TIMEOUT", c.OrderTimeout)
	c.TickInterval = getEnvDuration("TICK_INTERVAL", c.TickInterval)
	c.CancelRetries = getEnvInt("CANCEL_RETRIES", c.CancelRetries)
	c.RejectCooldown = getEnvDuration("REJECT_COOLDOWN", c.RejectCooldown)
	c.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", c.ReconcileInterval)
	c.NotFoundGrace = getEnvDuration("NOT_FOUND_GRACE", c.NotFoundGrace)

	c.DBDriver = strings.ToLower(getEnv("DB_DRIVER", c.DBDriver))
	c.DBDSN = getEnv("DB_DSN", c.DBDSN)

	c.ExecutionEnabled = getEnvBool("EXECUTION_ENABLED", c.ExecutionEnabled)
	c.DryRunBalance = getEnvFloat("DRY_RUN_BALANCE", c.DryRunBalance)
}

// openSealed replaces ENC[vN]: credentials with their plain text using the master keys
// found through getenv.
func (c *Config) openSealed(getenv func(string) string) error {
	fields := map[string]*string{
		"okx_api_key":    &c.OKXAPIKey,
		"okx_secret_key": &c.OKXSecretKey,
		"okx_passphrase": &c.OKXPassphrase,
		"jwt_secret":     &c.JWTSecret,
		"db_dsn":         &c.DBDSN,
	}
	var kr *crypto.Keyring
	for name, field := range fields {
		if !crypto.IsSealed(*field) {
			continue
		}
		if kr == nil {
			var err error
			if kr, err = crypto.LoadKeyring(getenv); err != nil {
				return err
			}
		}
		plain, err := kr.Open(*field)
		if err != nil {
			return fmt.Errorf("open sealed %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

func (c *Config) fillEndpoints() {
	if c.PublicWSURL == "" {
		c.PublicWSURL = "wss://ws.okx.com:8443/ws/v5/business"
		if c.Demo {
			c.PublicWSURL = "wss://wspap.okx.com:8443/ws/v5/business"
		}
	}
	if c.PrivateWSURL == "" {
		c.PrivateWSURL = "wss://ws.okx.com:8443/ws/v5/private"
		if c.Demo {
			c.PrivateWSURL = "wss://wspap.okx.com:8443/ws/v5/private"
		}
	}
}

// Location resolves the configured trading-day timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ExecutionEnabled && (c.OKXAPIKey == "" || c.OKXSecretKey == "" || c.OKXPassphrase == "") {
		return errors.New("OKX_API_KEY, OKX_SECRET_KEY and OKX_PASSPHRASE are required when execution is enabled")
	}
	if c.InstID == "" {
		return errors.New("inst_id is empty")
	}
	if c.TdMode != "cross" && c.TdMode != "isolated" {
		return fmt.Errorf("td_mode must be cross or isolated, got %q", c.TdMode)
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %d", c.Leverage)
	}
	for name, v := range map[string]float64{
		"risk_pct":             c.RiskPct,
		"sl_pct":               c.StopLossPct,
		"tp_pct":               c.TakeProfitPct,
		"daily_loss_limit_pct": c.DailyLossLimitPct,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0,1), got %v", name, v)
		}
	}
	if c.FastEMA <= 0 || c.SlowEMA <= c.FastEMA {
		return fmt.Errorf("ema periods must satisfy 0 < fast < slow, got %d/%d", c.FastEMA, c.SlowEMA)
	}
	if c.OrderTimeout <= 0 || c.TickInterval <= 0 {
		return errors.New("order_timeout and tick_interval must be positive")
	}
	if c.CancelRetries <= 0 {
		return fmt.Errorf("cancel_retries must be positive, got %d", c.CancelRetries)
	}
	if !c.ExecutionEnabled && c.DryRunBalance <= 0 {
		return fmt.Errorf("dry_run_balance must be positive, got %v", c.DryRunBalance)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("db_driver must be sqlite or postgres, got %q", c.DBDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
