package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/symbol"
	"fno-desk/internal/trading"
)

// addSymbolCommands adds the trading symbol codec commands.
func addSymbolCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "symbol",
		Short: "Encode and decode option trading symbols",
	}
	cmd.AddCommand(newSymbolEncodeCmd(app))
	cmd.AddCommand(newSymbolDecodeCmd(app))
	rootCmd.AddCommand(cmd)
}

// codec returns the configured codec, or the built-in one before the desk is
// wired.
func (a *App) codec() *symbol.Codec {
	if a.Instruments != nil {
		return a.Instruments.Codec()
	}
	if a.Config != nil {
		a.Instruments = trading.NewInstrumentTable(a.Config.Instruments)
		return a.Instruments.Codec()
	}
	return symbol.Default()
}

func newSymbolEncodeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "encode <underlying> <expiry> <CE|PE> <strike>",
		Short:   "Build the trading symbol for a contract",
		Example: `  trader symbol encode NIFTY 2025-11-04 CE 24500`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			expiry, err := trading.ParseExpiry(args[1])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			optionType, ok := models.ParseOptionType(args[2])
			if !ok {
				err := errors.NewInvalidInput("option_type", args[2], "expected CE or PE")
				output.Error("%v", err)
				return err
			}
			strike, err := strconv.Atoi(args[3])
			if err != nil {
				err := errors.NewInvalidInput("strike", args[3], "strike must be a whole number")
				output.Error("%v", err)
				return err
			}

			tsym, err := app.codec().Encode(models.ParseUnderlying(args[0]), expiry, optionType, strike)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"trading_symbol": tsym})
			}
			output.Println(tsym)
			return nil
		},
	}
}

type decodedJSON struct {
	Symbol     string `json:"symbol"`
	Underlying string `json:"underlying,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
	Strike     int    `json:"strike,omitempty"`
	OptionType string `json:"option_type,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newSymbolDecodeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <symbol>...",
		Short: "Split trading symbols into their contract fields",
		Long: `Split trading symbols into underlying, expiry, strike and option type.
Symbols that do not match the format are reported and skipped.`,
		Example: `  trader symbol decode NIFTY04NOV25C24500 BANKNIFTY25NOV25P52000`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			codec := app.codec()

			results := make([]decodedJSON, 0, len(args))
			failed := 0
			for _, raw := range args {
				d, err := codec.Decode(raw)
				if err != nil {
					failed++
					results = append(results, decodedJSON{Symbol: raw, Error: err.Error()})
					continue
				}
				results = append(results, decodedJSON{
					Symbol:     raw,
					Underlying: string(d.Underlying),
					Namespace:  string(d.Namespace),
					Expiry:     d.ExpiryDisplay,
					Strike:     d.Strike,
					OptionType: d.OptionType.Short(),
				})
			}

			if output.IsJSON() {
				if err := output.JSON(results); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "SYMBOL", "UNDERLYING", "EXPIRY", "STRIKE", "TYPE")
				for _, r := range results {
					if r.Error != "" {
						table.AddRow(r.Symbol, output.Red("unrecognized"), "", "", "")
						continue
					}
					table.AddRow(r.Symbol, r.Underlying, r.Expiry, strconv.Itoa(r.Strike), r.OptionType)
				}
				table.Render()
			}

			if failed == len(args) {
				return errors.Wrapf(errors.ErrInvalidInput, "no symbol could be decoded")
			}
			return nil
		},
	}
}
