// Package cli provides the command-line interface for the options desk.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fno-desk/internal/broker"
	"fno-desk/internal/config"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
	"fno-desk/internal/security"
	"fno-desk/internal/store"
	"fno-desk/internal/trading"
	"fno-desk/pkg/utils"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2025-11-03"
)

// annotationDesk marks commands that need the broker, store and basket.
const annotationDesk = "desk"

// App holds the application dependencies. Fields left nil are built from
// configuration on first use, so tests can inject their own.
type App struct {
	Config      *config.Config
	ConfigDir   string
	Logger      zerolog.Logger
	Instruments *trading.InstrumentTable
	Broker      broker.Broker
	Store       store.KVStore
	Basket      *trading.Basket
	Chain       *trading.ChainService

	// Now is the clock used for default expiries and market status.
	Now func() time.Time
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	if app.Now == nil {
		app.Now = time.Now
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Index options desk - stage, review and submit F&O order baskets",
		Long: `trader stages NIFTY, BANKNIFTY and FINNIFTY option orders into a basket,
shows the option chain around the money and submits the basket to the
configured broker (Flattrade, Zerodha or the built-in paper broker).

The basket survives restarts; it is kept in SQLite by default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadConfig(cmd); err != nil {
				return err
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			if cmd.Annotations[annotationDesk] == "" {
				return nil
			}
			return app.wire()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fno-desk)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addBasketCommands(rootCmd, app)
	addChainCommands(rootCmd, app)
	addSymbolCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)

	return rootCmd
}

// loadConfig resolves the config directory and loads configuration once.
func (a *App) loadConfig(cmd *cobra.Command) error {
	if a.ConfigDir == "" {
		dir, _ := cmd.Flags().GetString("config")
		if dir == "" {
			dir = os.Getenv("FNO_CONFIG_DIR")
		}
		if dir == "" {
			dir = config.DefaultConfigDir()
		}
		a.ConfigDir = dir
	}
	if a.Config != nil {
		return nil
	}

	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		FilePath:   filepath.Join(a.ConfigDir, "logs", "fno-desk.log"),
		MaxSize:    50,
		MaxBackups: 7,
		MaxAge:     30,
	})
	return nil
}

// wire builds the collaborators that were not injected.
func (a *App) wire() error {
	if a.Instruments == nil {
		a.Instruments = trading.NewInstrumentTable(a.Config.Instruments)
	}

	if a.Store == nil {
		kv, err := store.Open(a.Config.Basket)
		if err != nil {
			return fmt.Errorf("opening basket store: %w", err)
		}
		a.Store = kv
		a.Logger.Debug().Str("store", a.Config.Basket.Store).Msg("Basket store opened")
	}

	if a.Broker == nil {
		opts := broker.Options{
			Logger:      a.Logger,
			Instruments: a.Instruments,
			State:       a.Store,
		}
		if rs, ok := a.Store.(*store.RedisStore); ok {
			opts.Redis = rs.Client()
		}
		b, err := broker.New(a.Config, opts)
		if err != nil {
			return err
		}
		a.Broker = b
		a.Logger.Debug().Str("broker", b.Name()).Msg("Broker initialized")
	}

	if a.Basket == nil {
		a.Basket = trading.NewBasket(trading.BasketOptions{
			SubmitDelay:    a.Config.Basket.SubmitDelay,
			DefaultProduct: models.ProductType(a.Config.Trading.DefaultProduct),
		}, a.Instruments, store.NewBasketSnapshots(a.Store), a.Logger)
	}

	if a.Chain == nil {
		a.Chain = trading.NewChainService(a.Broker, a.Instruments, a.Logger)
	}
	return nil
}

// Close releases the basket store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("fno-desk trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Show broker, mode, market session and basket size",
		Annotations: map[string]string{annotationDesk: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := app.Now()
			open := utils.IsMarketOpen(now)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"broker":      app.Broker.Name(),
					"paper":       app.Config.IsPaperMode(),
					"market_open": open,
					"basket":      app.Basket.Len(),
				})
			}

			output.Printf("Broker:  %s %s\n", output.Cyan(app.Broker.Name()), output.ModeTag(app.Config.IsPaperMode()))
			output.Printf("Market:  %s\n", output.MarketStatus(open))
			output.Printf("Basket:  %d staged\n", app.Basket.Len())
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := *app.Config
			cfg.Credentials = security.RedactCredentials(cfg.Credentials)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, &cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:            %s\n", cfg.Trading.Mode)
	output.Printf("  Broker:          %s\n", cfg.Trading.Broker)
	output.Printf("  Default Product: %s\n", cfg.Trading.DefaultProduct)
	output.Println()

	output.Bold("Basket")
	output.Printf("  Store:           %s\n", cfg.Basket.Store)
	switch cfg.Basket.Store {
	case "", "sqlite":
		output.Printf("  SQLite Path:     %s\n", cfg.Basket.SQLitePath)
	case "redis":
		output.Printf("  Redis:           %s/%d\n", cfg.Basket.Redis.Addr, cfg.Basket.Redis.DB)
	}
	output.Printf("  Submit Delay:    %s\n", cfg.Basket.SubmitDelay)
	output.Println()

	output.Bold("Option Chain")
	output.Printf("  Window Size:     %d\n", cfg.Chain.WindowSize)
	output.Printf("  Spot Cache TTL:  %s\n", cfg.Chain.SpotCacheTTL)
	output.Println()

	output.Bold("Credentials")
	output.Printf("  Flattrade User:  %s\n", orDash(cfg.Credentials.Flattrade.UserID))
	output.Printf("  Flattrade Token: %s\n", orDash(cfg.Credentials.Flattrade.Token))
	output.Printf("  Kite API Key:    %s\n", orDash(cfg.Credentials.Zerodha.APIKey))
	output.Printf("  Kite Token:      %s\n", orDash(cfg.Credentials.Zerodha.AccessToken))
	output.Println()

	output.Bold("Instruments")
	table := NewTable(output, "UNDERLYING", "LOT", "INTERVAL", "TICK", "EXCHANGE", "EXPIRY DAY")
	for _, u := range trading.NewInstrumentTable(cfg.Instruments).Underlyings() {
		c := cfg.Instruments[string(u)]
		table.AddRow(string(u),
			fmt.Sprintf("%d", c.LotSize),
			fmt.Sprintf("%d", c.StrikeInterval),
			fmt.Sprintf("%.2f", c.TickSize),
			c.Exchange,
			c.ExpiryWeekday,
		)
	}
	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
