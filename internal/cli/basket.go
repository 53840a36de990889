package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/trading"
)

// addBasketCommands adds the order basket commands.
func addBasketCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "basket",
		Short: "Stage option orders and submit them as one batch",
		Long: `The basket collects option orders before they are sent. Orders are
validated and given their trading symbol when staged; submit places them
one after another with a short pause and then empties the basket.`,
	}

	cmd.AddCommand(newBasketAddCmd(app))
	cmd.AddCommand(newBasketListCmd(app))
	cmd.AddCommand(newBasketRemoveCmd(app))
	cmd.AddCommand(newBasketClearCmd(app))
	cmd.AddCommand(newBasketSubmitCmd(app))

	rootCmd.AddCommand(cmd)
}

func deskCommand(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationDesk] = "true"
	return cmd
}

func newBasketAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <underlying> <strike> <CE|PE>",
		Short: "Stage an option order",
		Long: `Stage an option order in the basket.

Quantity is given in units (--qty) or lots (--lots). Giving --price makes
the order a LIMIT order. Without --expiry the next weekly expiry is used.`,
		Example: `  trader basket add NIFTY 24500 CE --lots 1
  trader basket add BANKNIFTY 52000 PE --side SELL --qty 70 --price 245.50
  trader basket add FINNIFTY 23500 CE --lots 2 --expiry 2025-11-25 --product NRML`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			spec, err := app.orderSpec(cmd, args)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			order, err := app.Basket.Stage(cmd.Context(), spec)
			if err != nil {
				output.Error("Could not stage order: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			output.Success("✓ Staged %s", order.TradingSymbol)
			output.Printf("  %s %s x %s  %s  %s\n",
				output.Side(string(order.Side)),
				app.Instruments.Codec().Display(order.TradingSymbol),
				FormatQuantity(order.Quantity),
				orderPrice(order),
				order.Product,
			)
			output.Dim("  id %s  (%d in basket)", order.ID, app.Basket.Len())
			return nil
		},
	}

	cmd.Flags().String("side", "BUY", "Order side (BUY, SELL)")
	cmd.Flags().Int("qty", 0, "Quantity in units")
	cmd.Flags().Int("lots", 0, "Quantity in lots")
	cmd.Flags().String("type", "", "Order type (MARKET, LIMIT); LIMIT when --price is given")
	cmd.Flags().Float64P("price", "p", 0, "Limit price")
	cmd.Flags().String("product", "", "Product type (MIS, NRML); default from config")
	cmd.Flags().StringP("expiry", "e", "", "Expiry date (YYYY-MM-DD, DD-MM-YYYY or DDMMMYY)")
	cmd.Flags().Bool("monthly", false, "Use the monthly expiry instead of the next weekly one")

	return deskCommand(cmd)
}

// orderSpec turns the add command's arguments and flags into a staging
// request. Business validation is left to the basket.
func (a *App) orderSpec(cmd *cobra.Command, args []string) (models.OrderSpec, error) {
	underlying := models.ParseUnderlying(args[0])
	contract, ok := a.Instruments.Lookup(underlying)
	if !ok {
		return models.OrderSpec{}, errors.NewInvalidInput("underlying", args[0],
			fmt.Sprintf("unknown underlying (known: %s)", joinUnderlyings(a.Instruments.Underlyings())))
	}

	strike, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		return models.OrderSpec{}, errors.NewInvalidInput("strike", args[1], "strike must be a whole number")
	}

	optionType, ok := models.ParseOptionType(args[2])
	if !ok {
		return models.OrderSpec{}, errors.NewInvalidInput("option_type", args[2], "expected CE or PE")
	}

	sideFlag, _ := cmd.Flags().GetString("side")
	side, ok := models.ParseOrderSide(sideFlag)
	if !ok {
		return models.OrderSpec{}, errors.NewInvalidInput("side", sideFlag, "expected BUY or SELL")
	}

	qty, _ := cmd.Flags().GetInt("qty")
	lots, _ := cmd.Flags().GetInt("lots")
	switch {
	case qty != 0 && lots != 0:
		return models.OrderSpec{}, errors.NewInvalidInput("quantity", nil, "use either --qty or --lots")
	case lots != 0:
		qty = lots * contract.LotSize
	case qty == 0:
		qty = contract.LotSize
	}

	spec := models.OrderSpec{
		Underlying: underlying,
		Strike:     strike,
		OptionType: optionType,
		Side:       side,
		Quantity:   qty,
		OrderClass: models.OrderTypeMarket,
	}

	if cmd.Flags().Changed("price") {
		price, _ := cmd.Flags().GetFloat64("price")
		spec.LimitPrice = &price
		spec.OrderClass = models.OrderTypeLimit
	}
	if typeFlag, _ := cmd.Flags().GetString("type"); typeFlag != "" {
		orderType, ok := models.ParseOrderType(typeFlag)
		if !ok {
			return models.OrderSpec{}, errors.NewInvalidInput("type", typeFlag, "expected MARKET or LIMIT")
		}
		spec.OrderClass = orderType
	}

	if productFlag, _ := cmd.Flags().GetString("product"); productFlag != "" {
		spec.Product = models.ProductType(strings.ToUpper(productFlag))
	}

	spec.Expiry, err = a.resolveExpiry(cmd, contract)
	if err != nil {
		return models.OrderSpec{}, err
	}
	return spec, nil
}

// resolveExpiry reads --expiry, falling back to the next weekly or monthly
// expiry of the contract.
func (a *App) resolveExpiry(cmd *cobra.Command, contract trading.Contract) (time.Time, error) {
	if s, _ := cmd.Flags().GetString("expiry"); s != "" {
		return trading.ParseExpiry(s)
	}
	if monthly, _ := cmd.Flags().GetBool("monthly"); monthly || contract.Commodity {
		return trading.MonthlyExpiry(a.Now(), contract.ExpiryWeekday), nil
	}
	return trading.NextWeeklyExpiry(a.Now(), contract.ExpiryWeekday), nil
}

func newBasketListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List staged orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			orders := app.Basket.Orders()

			if output.IsJSON() {
				return output.JSON(orders)
			}

			if len(orders) == 0 {
				output.Dim("Basket is empty")
				return nil
			}

			table := NewTable(output, "#", "ID", "CONTRACT", "SIDE", "QTY", "PRICE", "PRODUCT", "SYMBOL")
			for i, o := range orders {
				table.AddRow(
					strconv.Itoa(i+1),
					shortID(o.ID),
					app.Instruments.Codec().Display(o.TradingSymbol),
					output.Side(string(o.Side)),
					FormatQuantity(o.Quantity),
					orderPrice(o),
					string(o.Product),
					o.TradingSymbol,
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d order(s) staged", len(orders))
			return nil
		},
	}
	return deskCommand(cmd)
}

func newBasketRemoveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a staged order by id or id prefix",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			id, err := matchID(app.Basket.Orders(), args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if err := app.Basket.Remove(cmd.Context(), id); err != nil {
				output.Error("Could not remove order: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"removed": id, "remaining": app.Basket.Len()})
			}
			output.Success("✓ Removed %s", shortID(id))
			return nil
		},
	}
	return deskCommand(cmd)
}

func newBasketClearCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every staged order",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			n := app.Basket.Len()
			if err := app.Basket.Clear(cmd.Context()); err != nil {
				output.Error("Could not clear basket: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"cleared": n})
			}
			output.Success("✓ Cleared %d order(s)", n)
			return nil
		},
	}
	return deskCommand(cmd)
}

type submittedJSON struct {
	ID            string `json:"id"`
	TradingSymbol string `json:"trading_symbol"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
}

type failedJSON struct {
	ID            string `json:"id"`
	TradingSymbol string `json:"trading_symbol"`
	Reason        string `json:"reason"`
}

func newBasketSubmitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Place every staged order with the broker",
		Long: `Place every staged order in the order it was staged. A failed order
does not stop the rest. The basket is emptied afterwards whatever the
outcome; the summary lists every failure with its reason.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Basket.Len() == 0 {
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"placed": []submittedJSON{}, "failed": []failedJSON{}})
				}
				output.Dim("Basket is empty, nothing to submit")
				return nil
			}

			if !output.IsJSON() {
				output.Printf("Submitting %d order(s) to %s %s\n", app.Basket.Len(), app.Broker.Name(), output.ModeTag(app.Config.IsPaperMode()))
			}

			result := app.Basket.SubmitAll(cmd.Context(), app.Broker.PlaceOrder)

			if output.IsJSON() {
				placed := make([]submittedJSON, 0, len(result.Succeeded))
				for _, s := range result.Succeeded {
					placed = append(placed, submittedJSON{
						ID:            s.Order.ID,
						TradingSymbol: s.Ack.TradingSymbol,
						OrderID:       s.Ack.OrderID,
						Status:        s.Ack.Status,
					})
				}
				failed := make([]failedJSON, 0, len(result.Failed))
				for _, f := range result.Failed {
					failed = append(failed, failedJSON{
						ID:            f.Order.ID,
						TradingSymbol: f.Order.TradingSymbol,
						Reason:        f.Err.Reason,
					})
				}
				if err := output.JSON(map[string]interface{}{"placed": placed, "failed": failed}); err != nil {
					return err
				}
			} else {
				if len(result.Succeeded) > 0 {
					table := NewTable(output, "SYMBOL", "SIDE", "QTY", "ORDER ID", "STATUS")
					for _, s := range result.Succeeded {
						table.AddRow(
							s.Ack.TradingSymbol,
							output.Side(string(s.Order.Side)),
							FormatQuantity(s.Order.Quantity),
							s.Ack.OrderID,
							s.Ack.Status,
						)
					}
					table.Render()
					output.Println()
				}

				if len(result.Failed) == 0 {
					output.Success("✓ %s", result.Summary())
				} else {
					output.Warning("%s", result.Summary())
				}
			}

			if len(result.Failed) > 0 {
				return fmt.Errorf("%w: %d of %d orders failed", errors.ErrOrderRejected, len(result.Failed), result.Total())
			}
			return nil
		},
	}
	return deskCommand(cmd)
}

// matchID resolves a full id or a unique prefix of one.
func matchID(orders []models.StagedOrder, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	var found []string
	for _, o := range orders {
		if o.ID == prefix {
			return o.ID, nil
		}
		if prefix != "" && strings.HasPrefix(o.ID, prefix) {
			found = append(found, o.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", errors.Wrapf(errors.ErrDataNotFound, "no staged order with id %q", prefix)
	case 1:
		return found[0], nil
	default:
		return "", errors.NewInvalidInput("id", prefix, fmt.Sprintf("prefix matches %d orders", len(found)))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orderPrice(o models.StagedOrder) string {
	if o.OrderClass == models.OrderTypeMarket {
		return "MKT"
	}
	return FormatIndianCurrency(o.Price())
}

func joinUnderlyings(us []models.Underlying) string {
	names := make([]string, len(us))
	for i, u := range us {
		names[i] = string(u)
	}
	return strings.Join(names, ", ")
}
