package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_WritesTemplatesAndDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s template not written: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	if err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("credentials.toml mode = %v", info.Mode().Perm())
	}

	if !cfg.IsPaperMode() || cfg.Basket.SubmitDelay != 300*time.Millisecond || cfg.Chain.SpotCacheTTL != time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Basket.SQLitePath != filepath.Join(dir, "basket.db") {
		t.Errorf("sqlite path = %q", cfg.Basket.SQLitePath)
	}
	if nifty := cfg.Instruments["NIFTY"]; nifty.LotSize != 75 || nifty.StrikeInterval != 50 || nifty.TickSize != 0.05 {
		t.Errorf("NIFTY = %+v", nifty)
	}
	if cfg.Credentials.Flattrade.BaseURL == "" {
		t.Errorf("flattrade base url not defaulted")
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[trading]
mode = "paper"
broker = "flattrade"

[basket]
submit_delay = "1s"
store = "memory"

[instruments.midcpnifty]
lot_size = 140
strike_interval = 25
expiry_weekday = "monday"

[instruments.banknifty]
lot_size = 30
strike_interval = 100
`)
	writeFile(t, dir, "credentials.toml", `
[flattrade]
user_id = "FT000001"
token = "from-file"
`)
	writeFile(t, dir, ".env", "FNO_FLATTRADE_TOKEN=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("FNO_FLATTRADE_TOKEN") })
	t.Setenv("FNO_TRADING_MODE", "live")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Trading.Mode != "live" || cfg.Trading.Broker != "flattrade" || cfg.IsPaperMode() {
		t.Errorf("trading = %+v", cfg.Trading)
	}
	if cfg.Basket.SubmitDelay != time.Second || cfg.Basket.Store != "memory" {
		t.Errorf("basket = %+v", cfg.Basket)
	}
	if cfg.Credentials.Flattrade.UserID != "FT000001" || cfg.Credentials.Flattrade.Token != "from-dotenv" {
		t.Errorf("flattrade credentials = %+v", cfg.Credentials.Flattrade)
	}

	mid, ok := cfg.Instruments["MIDCPNIFTY"]
	if !ok || mid.LotSize != 140 || mid.Exchange != "NFO" || mid.TickSize != 0.05 {
		t.Errorf("MIDCPNIFTY = %+v (%v)", mid, ok)
	}
	if bn := cfg.Instruments["BANKNIFTY"]; bn.LotSize != 30 {
		t.Errorf("BANKNIFTY override = %+v", bn)
	}
	if _, ok := cfg.Instruments["FINNIFTY"]; !ok {
		t.Errorf("built-in FINNIFTY dropped")
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "[trading]\nbroker = \"upstox\"\n")
	if _, err := Load(dir); err == nil {
		t.Errorf("Load() accepted an unknown broker")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Trading.Mode = "sim" }},
		{"store", func(c *Config) { c.Basket.Store = "postgres" }},
		{"delay", func(c *Config) { c.Basket.SubmitDelay = -time.Millisecond }},
		{"window", func(c *Config) { c.Chain.WindowSize = -1 }},
		{"lot size", func(c *Config) { c.Instruments["NIFTY"] = InstrumentConfig{StrikeInterval: 50, TickSize: 0.05} }},
		{"interval", func(c *Config) { c.Instruments["NIFTY"] = InstrumentConfig{LotSize: 75, TickSize: 0.05} }},
		{"tick", func(c *Config) { c.Instruments["NIFTY"] = InstrumentConfig{LotSize: 75, StrikeInterval: 50} }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted bad %s", tt.name)
			}
		})
	}
}
