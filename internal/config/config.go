// Package config provides configuration management for the options desk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig               `mapstructure:"trading"`
	Basket      BasketConfig                `mapstructure:"basket"`
	Chain       ChainConfig                 `mapstructure:"chain"`
	Instruments map[string]InstrumentConfig `mapstructure:"instruments"`
	Log         LogConfig                   `mapstructure:"log"`
	Credentials Credentials                 `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode           string `mapstructure:"mode"`            // "live", "paper"
	Broker         string `mapstructure:"broker"`          // "flattrade", "zerodha", "paper"
	DefaultProduct string `mapstructure:"default_product"` // MIS, NRML
}

// BasketConfig holds order basket configuration.
type BasketConfig struct {
	SubmitDelay time.Duration `mapstructure:"submit_delay"`
	Store       string        `mapstructure:"store"` // "sqlite", "redis", "memory"
	SQLitePath  string        `mapstructure:"sqlite_path"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainConfig holds option chain display configuration.
type ChainConfig struct {
	WindowSize   int           `mapstructure:"window_size"`
	SpotCacheTTL time.Duration `mapstructure:"spot_cache_ttl"`
}

// InstrumentConfig describes the contract grid for one underlying.
type InstrumentConfig struct {
	LotSize        int     `mapstructure:"lot_size"`
	StrikeInterval int     `mapstructure:"strike_interval"`
	TickSize       float64 `mapstructure:"tick_size"`
	Exchange       string  `mapstructure:"exchange"`
	ExpiryWeekday  string  `mapstructure:"expiry_weekday"`
	Commodity      bool    `mapstructure:"commodity"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds broker credentials.
type Credentials struct {
	Flattrade FlattradeCredentials `mapstructure:"flattrade"`
	Zerodha   ZerodhaCredentials   `mapstructure:"zerodha"`
}

// FlattradeCredentials holds the Noren API session for Flattrade.
type FlattradeCredentials struct {
	UserID  string `mapstructure:"user_id"`
	Token   string `mapstructure:"token"` // jKey obtained from the login flow
	BaseURL string `mapstructure:"base_url"`
}

// ZerodhaCredentials holds Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultInstruments returns the built-in contract table.
func DefaultInstruments() map[string]InstrumentConfig {
	return map[string]InstrumentConfig{
		"NIFTY":     {LotSize: 75, StrikeInterval: 50, TickSize: 0.05, Exchange: "NFO", ExpiryWeekday: "thursday"},
		"BANKNIFTY": {LotSize: 35, StrikeInterval: 100, TickSize: 0.05, Exchange: "NFO", ExpiryWeekday: "thursday"},
		"FINNIFTY":  {LotSize: 40, StrikeInterval: 50, TickSize: 0.05, Exchange: "NFO", ExpiryWeekday: "thursday"},
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fno-desk"
	}
	return filepath.Join(home, ".config", "fno-desk")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files are optional
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no files are present.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	cfg.normalize(DefaultConfigDir())
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.broker", "paper")
	v.SetDefault("trading.default_product", "MIS")

	v.SetDefault("basket.submit_delay", "300ms")
	v.SetDefault("basket.store", "sqlite")
	v.SetDefault("basket.sqlite_path", "")
	v.SetDefault("basket.redis.addr", "localhost:6379")
	v.SetDefault("basket.redis.db", 0)

	v.SetDefault("chain.window_size", 15)
	v.SetDefault("chain.spot_cache_ttl", "60s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
	v.SetDefault("log.file", true)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and fall through to defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetDefault("flattrade.base_url", "https://piconnect.flattrade.in/PiConnectTP")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateCredentials(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Flattrade session
	if v := os.Getenv("FNO_FLATTRADE_USER_ID"); v != "" {
		cfg.Credentials.Flattrade.UserID = v
	}
	if v := os.Getenv("FNO_FLATTRADE_TOKEN"); v != "" {
		cfg.Credentials.Flattrade.Token = v
	}

	// Zerodha credentials
	if v := os.Getenv("FNO_ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("FNO_ZERODHA_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}

	if v := os.Getenv("FNO_TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("FNO_BROKER"); v != "" {
		cfg.Trading.Broker = v
	}
	if v := os.Getenv("FNO_BASKET_STORE"); v != "" {
		cfg.Basket.Store = v
	}
	if v := os.Getenv("FNO_REDIS_ADDR"); v != "" {
		cfg.Basket.Redis.Addr = v
	}
}

// normalize upper-cases instrument keys (viper lower-cases them) and fills
// in built-in instruments and paths that the files left out.
func (c *Config) normalize(configDir string) {
	instruments := make(map[string]InstrumentConfig, len(c.Instruments))
	for name, inst := range c.Instruments {
		instruments[strings.ToUpper(name)] = inst
	}
	for name, inst := range DefaultInstruments() {
		if _, ok := instruments[name]; !ok {
			instruments[name] = inst
		}
	}
	for name, inst := range instruments {
		if inst.TickSize == 0 {
			inst.TickSize = 0.05
		}
		if inst.Exchange == "" {
			inst.Exchange = "NFO"
			if inst.Commodity {
				inst.Exchange = "MCX"
			}
		}
		instruments[name] = inst
	}
	c.Instruments = instruments

	if c.Basket.SQLitePath == "" {
		c.Basket.SQLitePath = filepath.Join(configDir, "basket.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}

	switch c.Trading.Broker {
	case "", "paper", "flattrade", "zerodha":
	default:
		return fmt.Errorf("invalid broker: %s (must be 'flattrade', 'zerodha' or 'paper')", c.Trading.Broker)
	}

	switch c.Basket.Store {
	case "", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("invalid basket store: %s (must be 'sqlite', 'redis' or 'memory')", c.Basket.Store)
	}

	if c.Basket.SubmitDelay < 0 {
		return fmt.Errorf("submit_delay must be non-negative")
	}
	if c.Chain.WindowSize < 0 {
		return fmt.Errorf("chain window_size must be non-negative")
	}

	for name, inst := range c.Instruments {
		if inst.LotSize <= 0 {
			return fmt.Errorf("instrument %s: lot_size must be positive", name)
		}
		if inst.StrikeInterval <= 0 {
			return fmt.Errorf("instrument %s: strike_interval must be positive", name)
		}
		if inst.TickSize <= 0 {
			return fmt.Errorf("instrument %s: tick_size must be positive", name)
		}
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper" || c.Trading.Broker == "paper"
}
