package broker

import (
	"context"
	"io"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/store"
)

var nov4 = time.Date(2025, time.November, 4, 0, 0, 0, 0, time.UTC)

func newTestPaper(state store.KVStore) *PaperBroker {
	p := NewPaperBroker(PaperBrokerConfig{
		Spots:  map[models.Underlying]float64{models.Nifty: 24480},
		State:  state,
		Logger: zerolog.New(io.Discard),
	})
	p.now = func() time.Time { return time.Date(2025, time.November, 3, 10, 0, 0, 0, time.UTC) }
	return p
}

func paperOrder(strike int, t models.OptionType, side models.OrderSide, qty int, limit *float64) models.StagedOrder {
	sym := "NIFTY04NOV25C"
	if t == models.Put {
		sym = "NIFTY04NOV25P"
	}
	class := models.OrderTypeMarket
	if limit != nil {
		class = models.OrderTypeLimit
	}
	return models.StagedOrder{
		Underlying:    models.Nifty,
		Expiry:        nov4,
		Strike:        strike,
		OptionType:    t,
		Side:          side,
		Quantity:      qty,
		OrderClass:    class,
		LimitPrice:    limit,
		Product:       models.ProductNRML,
		Exchange:      models.NFO,
		TradingSymbol: sym + strconv.Itoa(strike),
	}
}

func TestPaper_SyntheticChain(t *testing.T) {
	p := newTestPaper(nil)

	chain, err := p.GetOptionChain(context.Background(), models.Nifty, nov4)
	if err != nil {
		t.Fatalf("GetOptionChain() error = %v", err)
	}
	if chain.SpotPrice != 24480 || len(chain.Strikes) != 41 {
		t.Fatalf("chain spot=%v strikes=%d", chain.SpotPrice, len(chain.Strikes))
	}

	atm, ok := chain.Find(24500)
	if !ok || atm.Call == nil || atm.Put == nil {
		t.Fatalf("ATM row = %+v", atm)
	}
	if atm.Call.TradingSymbol != "NIFTY04NOV25C24500" || atm.Call.LotSize != 75 {
		t.Errorf("ATM call = %+v", atm.Call)
	}
	// Put is 20 points in the money
	if atm.Put.LTP <= 20 || atm.Call.LTP <= 0 {
		t.Errorf("ATM premiums call=%v put=%v", atm.Call.LTP, atm.Put.LTP)
	}

	deep, _ := chain.Find(23500)
	if deep.Call.LTP < 980 {
		t.Errorf("deep ITM call premium = %v", deep.Call.LTP)
	}
	for _, row := range chain.Strikes {
		for _, leg := range []*models.OptionData{row.Call, row.Put} {
			if !onTick(leg.LTP) {
				t.Errorf("%s premium %v is off tick", leg.TradingSymbol, leg.LTP)
			}
		}
	}
}

func onTick(v float64) bool {
	ticks := v / 0.05
	return math.Abs(ticks-math.Round(ticks)) < 1e-6
}

func TestPaper_MarketOrderFillsAtChainPrice(t *testing.T) {
	p := newTestPaper(nil)
	ctx := context.Background()

	chain, _ := p.GetOptionChain(ctx, models.Nifty, nov4)
	row, _ := chain.Find(24500)

	ack, err := p.PlaceOrder(ctx, paperOrder(24500, models.Call, models.OrderSideBuy, 75, nil))
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if ack.Status != "COMPLETE" || ack.TradingSymbol != "NIFTY04NOV25C24500" {
		t.Errorf("ack = %+v", ack)
	}

	orders, _ := p.GetOrders(ctx)
	if len(orders) != 1 || orders[0].AveragePrice != row.Call.LTP || orders[0].FilledQty != 75 {
		t.Errorf("orders = %+v", orders)
	}

	margins, _ := p.GetMargins(ctx)
	wantCash := 1000000 - row.Call.LTP*75
	if margins.Available != wantCash {
		t.Errorf("available = %v, want %v", margins.Available, wantCash)
	}
}

func TestPaper_MarketOrderWithoutPriorChain(t *testing.T) {
	p := newTestPaper(nil)
	ack, err := p.PlaceOrder(context.Background(), paperOrder(24000, models.Put, models.OrderSideSell, 75, nil))
	if err != nil || ack.Status != "COMPLETE" {
		t.Fatalf("PlaceOrder() = %+v, %v", ack, err)
	}
}

func TestPaper_LimitOrders(t *testing.T) {
	p := newTestPaper(nil)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.Nifty, nov4)
	row, _ := chain.Find(24500)
	ltp := row.Call.LTP

	below := ltp - 10
	ack, err := p.PlaceOrder(ctx, paperOrder(24500, models.Call, models.OrderSideBuy, 75, &below))
	if err != nil || ack.Status != "OPEN" {
		t.Errorf("buy below market = %+v, %v", ack, err)
	}

	above := ltp + 10
	ack, err = p.PlaceOrder(ctx, paperOrder(24500, models.Call, models.OrderSideBuy, 75, &above))
	if err != nil || ack.Status != "COMPLETE" {
		t.Errorf("buy above market = %+v, %v", ack, err)
	}
	orders, _ := p.GetOrders(ctx)
	if orders[1].AveragePrice != above {
		t.Errorf("limit fill price = %v, want %v", orders[1].AveragePrice, above)
	}

	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Quantity != 75 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestPaper_InsufficientFunds(t *testing.T) {
	p := newTestPaper(nil)
	_, err := p.PlaceOrder(context.Background(), paperOrder(23000, models.Call, models.OrderSideBuy, 75*100, nil))
	if !errors.Is(err, errors.ErrOrderRejected) {
		t.Errorf("PlaceOrder() error = %v, want ErrOrderRejected", err)
	}
	orders, _ := p.GetOrders(context.Background())
	if len(orders) != 0 {
		t.Errorf("rejected order was recorded: %+v", orders)
	}
}

func TestPaper_RealizedPnL(t *testing.T) {
	p := newTestPaper(nil)
	p.updatePosition("X", models.NFO, models.ProductNRML, models.OrderSideSell, 150, 100)
	p.updatePosition("X", models.NFO, models.ProductNRML, models.OrderSideBuy, 75, 80)

	pos := p.positions[positionKey(models.NFO, "X", models.ProductNRML)]
	if pos.Quantity != -75 || pos.AveragePrice != 100 || pos.RealizedPnL != 1500 {
		t.Errorf("after partial cover = %+v", pos)
	}

	// Flip to long through zero
	p.updatePosition("X", models.NFO, models.ProductNRML, models.OrderSideBuy, 150, 90)
	if pos.Quantity != 75 || pos.AveragePrice != 90 || pos.RealizedPnL != 2250 {
		t.Errorf("after flip = %+v", pos)
	}
}

func TestPaper_MarginsMarkToLastPrice(t *testing.T) {
	p := newTestPaper(nil)
	p.updatePosition("X", models.NFO, models.ProductNRML, models.OrderSideBuy, 75, 100)
	p.priceCache["X"] = 120

	margins, err := p.GetMargins(context.Background())
	if err != nil {
		t.Fatalf("GetMargins() error = %v", err)
	}
	if want := p.cash + 120*75; margins.Total != want {
		t.Errorf("Total = %v, want %v", margins.Total, want)
	}
}

func TestPaper_StatePersists(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestPaper(kv)
	if _, err := first.PlaceOrder(ctx, paperOrder(24500, models.Call, models.OrderSideSell, 75, nil)); err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	second := newTestPaper(kv)
	orders, _ := second.GetOrders(ctx)
	positions, _ := second.GetPositions(ctx)
	if len(orders) != 1 || len(positions) != 1 || positions[0].Quantity != -75 {
		t.Errorf("restored orders=%+v positions=%+v", orders, positions)
	}
	if second.orderCounter != 1 {
		t.Errorf("restored counter = %d", second.orderCounter)
	}
}

func TestPaper_UnknownUnderlying(t *testing.T) {
	p := newTestPaper(nil)
	if _, err := p.GetSpotPrice(context.Background(), "SENSEX"); !errors.Is(err, errors.ErrDataNotFound) {
		t.Errorf("GetSpotPrice() error = %v", err)
	}
	if _, err := p.GetOptionChain(context.Background(), "SENSEX", nov4); !errors.Is(err, errors.ErrInputValidation) {
		t.Errorf("GetOptionChain() error = %v", err)
	}
}

func TestPaper_DelegatesMarketData(t *testing.T) {
	data := &countingBroker{spot: 24211}
	p := NewPaperBroker(PaperBrokerConfig{DataBroker: data})

	spot, err := p.GetSpotPrice(context.Background(), models.Nifty)
	if err != nil || spot != 24211 || data.spotCalls != 1 {
		t.Errorf("GetSpotPrice() = %v, %v (calls %d)", spot, err, data.spotCalls)
	}
}
