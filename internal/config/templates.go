package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# fno-desk configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Broker: "flattrade", "zerodha" or "paper"
broker = "paper"
# Default product type for staged orders: MIS, NRML
default_product = "MIS"

[basket]
# Pause between consecutive order submissions
submit_delay = "300ms"
# Snapshot store: "sqlite", "redis" or "memory"
store = "sqlite"
# Defaults to basket.db in this directory
sqlite_path = ""

[basket.redis]
addr = "localhost:6379"
password = ""
db = 0

[chain]
# Number of strikes shown around the money
window_size = 15
# How long a fetched spot price is reused
spot_cache_ttl = "60s"

[log]
level = "info"
console = false
file = true

# Contract grid per underlying. Built-in entries can be overridden here.
[instruments.NIFTY]
lot_size = 75
strike_interval = 50
tick_size = 0.05
exchange = "NFO"
expiry_weekday = "thursday"

[instruments.BANKNIFTY]
lot_size = 35
strike_interval = 100
tick_size = 0.05
exchange = "NFO"
expiry_weekday = "thursday"

[instruments.FINNIFTY]
lot_size = 40
strike_interval = 50
tick_size = 0.05
exchange = "NFO"
expiry_weekday = "thursday"
`

const credentialsTemplate = `# fno-desk credentials
# WARNING: Keep this file secure! Do not commit to version control.

[flattrade]
user_id = ""
# Session token (jKey) from the Flattrade login flow
token = ""
base_url = "https://piconnect.flattrade.in/PiConnectTP"

[zerodha]
api_key = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	return writeTemplate(configDir, "config.toml", configTemplate, 0644)
}

func createTemplateCredentials(configDir string) error {
	// Use restricted permissions for credentials file
	return writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
}

func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
