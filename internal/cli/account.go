package cli

import (
	"math"
	"strconv"

	"github.com/spf13/cobra"
)

// addAccountCommands adds the order book, position and margin commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newMarginsCmd(app))
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List today's orders from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			orders, err := app.Broker.GetOrders(cmd.Context())
			if err != nil {
				output.Error("Failed to get orders: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}

			if len(orders) == 0 {
				output.Dim("No orders today")
				return nil
			}

			codec := app.codec()
			table := NewTable(output, "TIME", "ORDER ID", "CONTRACT", "SIDE", "QTY", "FILLED", "AVG", "STATUS")
			for _, o := range orders {
				status := o.Status
				switch status {
				case "COMPLETE":
					status = output.Green(status)
				case "REJECTED", "CANCELLED":
					status = output.Red(status)
				}
				table.AddRow(
					FormatTime(o.PlacedAt),
					o.ID,
					codec.Display(o.Symbol),
					output.Side(string(o.Side)),
					FormatQuantity(o.Quantity),
					FormatQuantity(o.FilledQty),
					strconv.FormatFloat(o.AveragePrice, 'f', 2, 64),
					status,
				)
			}
			table.Render()

			for _, o := range orders {
				if o.RejectReason != "" {
					output.Println()
					output.Warning("%s %s: %s", o.ID, o.Symbol, o.RejectReason)
				}
			}
			return nil
		},
	}
	return deskCommand(cmd)
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions with P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			positions, err := app.Broker.GetPositions(cmd.Context())
			if err != nil {
				output.Error("Failed to get positions: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			codec := app.codec()
			table := NewTable(output, "CONTRACT", "PRODUCT", "QTY", "AVG", "LTP", "P&L", "%")
			var total float64
			for _, p := range positions {
				pnl := p.PnL()
				total += pnl

				pct := 0.0
				if cost := p.AveragePrice * math.Abs(float64(p.Quantity)); cost > 0 {
					pct = p.UnrealizedPnL / cost * 100
				}

				table.AddRow(
					codec.Display(p.Symbol),
					string(p.Product),
					FormatQuantity(p.Quantity),
					strconv.FormatFloat(p.AveragePrice, 'f', 2, 64),
					strconv.FormatFloat(p.LTP, 'f', 2, 64),
					output.FormatPnL(pnl),
					output.FormatPercent(pct),
				)
			}
			table.Render()
			output.Println()
			output.Printf("Total P&L: %s\n", output.FormatPnL(total))
			return nil
		},
	}
	return deskCommand(cmd)
}

func newMarginsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "margins",
		Aliases: []string{"funds"},
		Short:   "Show available and used margin",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			margins, err := app.Broker.GetMargins(cmd.Context())
			if err != nil {
				output.Error("Failed to get margins: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(margins)
			}

			output.Box("Margins "+output.ModeTag(app.Config.IsPaperMode()), []string{
				"Available  " + FormatIndianCurrency(margins.Available),
				"Used       " + FormatIndianCurrency(margins.Used),
				"Total      " + FormatIndianCurrency(margins.Total) + "  (" + FormatCompact(margins.Total) + ")",
			})
			return nil
		},
	}
	return deskCommand(cmd)
}
