package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/symbol"
	"fno-desk/internal/trading"
)

// addChainCommands adds the option chain command.
func addChainCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newChainCmd(app))
}

type chainLegJSON struct {
	TradingSymbol string  `json:"trading_symbol"`
	LTP           float64 `json:"ltp"`
	OI            int64   `json:"oi"`
	Volume        int64   `json:"volume"`
}

type chainRowJSON struct {
	Strike    int           `json:"strike"`
	ATM       bool          `json:"atm"`
	NearMoney bool          `json:"near_money"`
	Call      *chainLegJSON `json:"call,omitempty"`
	Put       *chainLegJSON `json:"put,omitempty"`
}

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <underlying>",
		Short: "Show the option chain around the money",
		Long: `Show the option chain for an underlying, trimmed to the strikes around
the at-the-money strike. The ATM strike is marked and strikes within one
interval of spot are highlighted.`,
		Example: `  trader chain NIFTY
  trader chain BANKNIFTY --size 21
  trader chain FINNIFTY --expiry 25NOV25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			underlying := models.ParseUnderlying(args[0])
			contract, ok := app.Instruments.Lookup(underlying)
			if !ok {
				err := errors.NewInvalidInput("underlying", args[0],
					fmt.Sprintf("unknown underlying (known: %s)", joinUnderlyings(app.Instruments.Underlyings())))
				output.Error("%v", err)
				return err
			}

			expiry, err := app.resolveExpiry(cmd, contract)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			size, _ := cmd.Flags().GetInt("size")
			if size <= 0 {
				size = app.Config.Chain.WindowSize
			}

			view, err := app.Chain.Window(cmd.Context(), underlying, expiry, size)
			if err != nil {
				output.Error("Failed to load option chain: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(chainJSON(view))
			}

			renderChain(output, view)
			return nil
		},
	}

	cmd.Flags().StringP("expiry", "e", "", "Expiry date (default: next weekly expiry)")
	cmd.Flags().Bool("monthly", false, "Use the monthly expiry")
	cmd.Flags().IntP("size", "n", 0, "Number of strikes to show (default from config)")

	return deskCommand(cmd)
}

func renderChain(output *Output, view *trading.ChainView) {
	atm := "-"
	if view.Window.HasATM {
		atm = strconv.Itoa(view.Window.ATMStrike)
	}
	output.Bold("%s  %s", view.Underlying, symbol.FormatExpiry(view.Expiry))
	output.Printf("Spot %s   ATM %s\n\n", FormatIndianCurrency(view.Spot), atm)

	if len(view.Rows) == 0 {
		output.Dim("No strikes listed for this expiry yet")
		return
	}

	table := NewTable(output, "CALL OI", "CALL VOL", "CALL LTP", "STRIKE", "PUT LTP", "PUT VOL", "PUT OI")
	for _, row := range view.Rows {
		strike := strconv.Itoa(row.Strike)
		switch {
		case row.IsATM:
			strike = output.BoldText("▶ " + strike)
		case row.NearMoney:
			strike = output.Yellow(strike)
		}
		table.AddRow(
			legOI(row.Call), legVolume(row.Call), FormatPremium(row.Call),
			strike,
			FormatPremium(row.Put), legVolume(row.Put), legOI(row.Put),
		)
	}
	table.Render()
}

func legOI(leg *models.OptionData) string {
	if leg == nil {
		return "-"
	}
	return FormatOI(leg.OI)
}

func legVolume(leg *models.OptionData) string {
	if leg == nil {
		return "-"
	}
	return FormatVolume(leg.Volume)
}

func chainJSON(view *trading.ChainView) map[string]interface{} {
	rows := make([]chainRowJSON, 0, len(view.Rows))
	for _, r := range view.Rows {
		rows = append(rows, chainRowJSON{
			Strike:    r.Strike,
			ATM:       r.IsATM,
			NearMoney: r.NearMoney,
			Call:      legJSON(r.Call),
			Put:       legJSON(r.Put),
		})
	}
	out := map[string]interface{}{
		"underlying": view.Underlying,
		"expiry":     symbol.FormatExpiry(view.Expiry),
		"spot":       view.Spot,
		"rows":       rows,
	}
	if view.Window.HasATM {
		out["atm_strike"] = view.Window.ATMStrike
	}
	return out
}

func legJSON(leg *models.OptionData) *chainLegJSON {
	if leg == nil {
		return nil
	}
	return &chainLegJSON{
		TradingSymbol: leg.TradingSymbol,
		LTP:           leg.LTP,
		OI:            leg.OI,
		Volume:        leg.Volume,
	}
}
