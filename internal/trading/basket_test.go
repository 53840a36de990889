package trading

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/store"
)

type fakeSnapshots struct {
	saved   [][]models.StagedOrder
	initial []models.StagedOrder
	loadErr error
}

func (f *fakeSnapshots) Save(_ context.Context, orders []models.StagedOrder) error {
	cp := make([]models.StagedOrder, len(orders))
	copy(cp, orders)
	f.saved = append(f.saved, cp)
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context) ([]models.StagedOrder, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]models.StagedOrder{}, f.initial...), nil
}

func (f *fakeSnapshots) last() []models.StagedOrder {
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

type testBasket struct {
	*Basket
	snaps  *fakeSnapshots
	sleeps []time.Duration
}

func newTestBasket(t *testing.T) *testBasket {
	t.Helper()
	tb := &testBasket{snaps: &fakeSnapshots{}}
	tb.Basket = NewBasket(BasketOptions{SubmitDelay: DefaultSubmitDelay}, DefaultInstrumentTable(), tb.snaps, zerolog.New(io.Discard))

	seq := 0
	tb.newID = func() string {
		seq++
		return fmt.Sprintf("ord-%d", seq)
	}
	tb.now = func() time.Time { return time.Date(2025, time.November, 3, 4, 0, 0, 0, time.UTC) }
	tb.sleep = func(_ context.Context, d time.Duration) error {
		tb.sleeps = append(tb.sleeps, d)
		return nil
	}
	return tb
}

func expiryNov4() time.Time {
	return time.Date(2025, time.November, 4, 0, 0, 0, 0, time.UTC)
}

func price(p float64) *float64 { return &p }

func niftySpec(strike int, optType models.OptionType, side models.OrderSide) models.OrderSpec {
	return models.OrderSpec{
		Underlying: models.Nifty,
		Expiry:     expiryNov4(),
		Strike:     strike,
		OptionType: optType,
		Side:       side,
		Quantity:   75,
		OrderClass: models.OrderTypeMarket,
	}
}

func TestBasket_StageBuildsTradingSymbol(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()

	call, err := b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	put := niftySpec(24600, models.Put, models.OrderSideSell)
	put.OrderClass = models.OrderTypeLimit
	put.LimitPrice = price(120.5)
	putOrder, err := b.Stage(ctx, put)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if call.TradingSymbol != "NIFTY04NOV25C24500" {
		t.Errorf("call TradingSymbol = %q", call.TradingSymbol)
	}
	if putOrder.TradingSymbol != "NIFTY04NOV25P24600" {
		t.Errorf("put TradingSymbol = %q", putOrder.TradingSymbol)
	}
	if call.ID == "" || call.ID == putOrder.ID {
		t.Errorf("ids not unique: %q %q", call.ID, putOrder.ID)
	}
	if call.Exchange != models.NFO || call.Product != models.ProductMIS {
		t.Errorf("unexpected defaults: exchange=%s product=%s", call.Exchange, call.Product)
	}
	if putOrder.Price() != 120.5 {
		t.Errorf("limit price = %v", putOrder.Price())
	}

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if got := b.snaps.last(); len(got) != 2 || got[1].ID != putOrder.ID {
		t.Errorf("persisted snapshot = %+v", got)
	}
}

func TestBasket_StageCopiesLimitPrice(t *testing.T) {
	b := newTestBasket(t)
	spec := niftySpec(24500, models.Call, models.OrderSideBuy)
	spec.OrderClass = models.OrderTypeLimit
	spec.LimitPrice = price(100)

	order, err := b.Stage(context.Background(), spec)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	*spec.LimitPrice = 999
	if order.Price() != 100 || b.Orders()[0].Price() != 100 {
		t.Error("staged order must not share the caller's price pointer")
	}
}

func TestBasket_StageValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.OrderSpec)
		field  string
	}{
		{"quantity not a lot multiple", func(s *models.OrderSpec) { s.Quantity = 40 }, "quantity"},
		{"zero quantity", func(s *models.OrderSpec) { s.Quantity = 0 }, "quantity"},
		{"negative quantity", func(s *models.OrderSpec) { s.Quantity = -75 }, "quantity"},
		{"strike off grid", func(s *models.OrderSpec) { s.Strike = 24525 }, "strike"},
		{"zero strike", func(s *models.OrderSpec) { s.Strike = 0 }, "strike"},
		{"limit without price", func(s *models.OrderSpec) { s.OrderClass = models.OrderTypeLimit }, "limit_price"},
		{"limit with zero price", func(s *models.OrderSpec) {
			s.OrderClass = models.OrderTypeLimit
			s.LimitPrice = price(0)
		}, "limit_price"},
		{"limit off tick", func(s *models.OrderSpec) {
			s.OrderClass = models.OrderTypeLimit
			s.LimitPrice = price(120.03)
		}, "limit_price"},
		{"market with price", func(s *models.OrderSpec) { s.LimitPrice = price(10) }, "limit_price"},
		{"unknown order class", func(s *models.OrderSpec) { s.OrderClass = "SL" }, "order_class"},
		{"unknown underlying", func(s *models.OrderSpec) { s.Underlying = "SENSEX" }, "underlying"},
		{"bad side", func(s *models.OrderSpec) { s.Side = "HOLD" }, "side"},
		{"bad option type", func(s *models.OrderSpec) { s.OptionType = "FUT" }, "option_type"},
		{"bad product", func(s *models.OrderSpec) { s.Product = "CNC" }, "product"},
		{"missing expiry", func(s *models.OrderSpec) { s.Expiry = time.Time{} }, "expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBasket(t)
			spec := niftySpec(24500, models.Call, models.OrderSideBuy)
			tt.mutate(&spec)

			_, err := b.Stage(context.Background(), spec)
			if !errors.Is(err, errors.ErrInputValidation) {
				t.Fatalf("Stage() error = %v, want ErrInputValidation", err)
			}
			var ve *errors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
			if b.Len() != 0 {
				t.Errorf("basket changed on validation error: Len() = %d", b.Len())
			}
			if len(b.snaps.saved) != 0 {
				t.Errorf("basket persisted on validation error")
			}
		})
	}
}

func TestBasket_LotSizePerUnderlying(t *testing.T) {
	b := newTestBasket(t)
	spec := models.OrderSpec{
		Underlying: models.BankNifty,
		Expiry:     expiryNov4(),
		Strike:     52000,
		OptionType: models.Put,
		Side:       models.OrderSideBuy,
		Quantity:   70,
		OrderClass: models.OrderTypeMarket,
	}
	order, err := b.Stage(context.Background(), spec)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if order.TradingSymbol != "BANKNIFTY04NOV25P52000" {
		t.Errorf("TradingSymbol = %q", order.TradingSymbol)
	}

	spec.Strike = 52050
	if _, err := b.Stage(context.Background(), spec); !errors.Is(err, errors.ErrInputValidation) {
		t.Errorf("BANKNIFTY strike off the 100 grid should fail, got %v", err)
	}
}

func TestBasket_RemoveAndClear(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()

	first, _ := b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))
	second, _ := b.Stage(ctx, niftySpec(24600, models.Put, models.OrderSideBuy))

	if err := b.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("Remove of unknown id changed the basket")
	}

	if err := b.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	orders := b.Orders()
	if len(orders) != 1 || orders[0].ID != second.ID {
		t.Fatalf("Orders() after Remove = %+v", orders)
	}
	if got := b.snaps.last(); len(got) != 1 {
		t.Errorf("persisted after Remove = %+v", got)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if b.Len() != 0 || len(b.snaps.last()) != 0 {
		t.Errorf("Clear() left %d orders", b.Len())
	}
}

func TestBasket_OrdersReturnsCopy(t *testing.T) {
	b := newTestBasket(t)
	_, _ = b.Stage(context.Background(), niftySpec(24500, models.Call, models.OrderSideBuy))

	orders := b.Orders()
	orders[0].TradingSymbol = "MUTATED"
	if b.Orders()[0].TradingSymbol != "NIFTY04NOV25C24500" {
		t.Error("Orders() must return a copy")
	}
}

func TestBasket_SubmitAll_EndToEnd(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()

	_, _ = b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))
	put := niftySpec(24600, models.Put, models.OrderSideSell)
	put.OrderClass = models.OrderTypeLimit
	put.LimitPrice = price(120.5)
	_, _ = b.Stage(ctx, put)

	var sent []string
	result := b.SubmitAll(ctx, func(_ context.Context, o models.StagedOrder) (*models.OrderAck, error) {
		sent = append(sent, o.TradingSymbol)
		return &models.OrderAck{OrderID: fmt.Sprintf("X%d", len(sent)), Status: "OPEN"}, nil
	})

	want := []string{"NIFTY04NOV25C24500", "NIFTY04NOV25P24600"}
	if !reflect.DeepEqual(sent, want) {
		t.Errorf("submitted %v, want %v", sent, want)
	}
	if len(result.Succeeded) != 2 || len(result.Failed) != 0 {
		t.Fatalf("result = %s", result.Summary())
	}
	if result.Succeeded[1].Ack.TradingSymbol != "NIFTY04NOV25P24600" {
		t.Errorf("ack symbol not filled from the order: %+v", result.Succeeded[1].Ack)
	}
	if b.Len() != 0 || len(b.snaps.last()) != 0 {
		t.Errorf("basket not cleared after submit")
	}
}

func TestBasket_SubmitAll_PartialFailure(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()

	for _, strike := range []int{24400, 24500, 24600} {
		if _, err := b.Stage(ctx, niftySpec(strike, models.Call, models.OrderSideBuy)); err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
	}

	var calls []int
	result := b.SubmitAll(ctx, func(_ context.Context, o models.StagedOrder) (*models.OrderAck, error) {
		calls = append(calls, o.Strike)
		if o.Strike == 24500 {
			return nil, errors.NewBrokerError("Not_Ok", "RED:Margin Shortfall", errors.ErrOrderRejected)
		}
		return &models.OrderAck{OrderID: "OK"}, nil
	})

	if !reflect.DeepEqual(calls, []int{24400, 24500, 24600}) {
		t.Errorf("submission order = %v", calls)
	}
	if len(result.Succeeded) != 2 || len(result.Failed) != 1 {
		t.Fatalf("result = %s", result.Summary())
	}
	failed := result.Failed[0]
	if failed.Order.Strike != 24500 || failed.Err.Reason != "RED:Margin Shortfall" {
		t.Errorf("failed = %+v", failed)
	}
	if !errors.Is(failed.Err, errors.ErrOrderRejected) {
		t.Errorf("failure does not unwrap to ErrOrderRejected: %v", failed.Err)
	}
	if b.Len() != 0 || len(b.snaps.last()) != 0 {
		t.Error("basket must be cleared even when some orders fail")
	}
	if !reflect.DeepEqual(b.sleeps, []time.Duration{DefaultSubmitDelay, DefaultSubmitDelay}) {
		t.Errorf("sleeps = %v, want two pauses of %v", b.sleeps, DefaultSubmitDelay)
	}
	if got := result.Summary(); got != "2 placed, 1 failed\n  NIFTY04NOV25C24500: RED:Margin Shortfall" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestBasket_SubmitAll_LogsFailedOrder(t *testing.T) {
	b := newTestBasket(t)
	var buf bytes.Buffer
	b.logger = zerolog.New(&buf)
	ctx := context.Background()

	staged, err := b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	b.SubmitAll(ctx, func(context.Context, models.StagedOrder) (*models.OrderAck, error) {
		return nil, errors.NewBrokerError("Not_Ok", "RED:Margin Shortfall", errors.ErrOrderRejected)
	})

	logged := buf.String()
	for _, want := range []string{`"order_id":"` + staged.ID + `"`, `"reason":"RED:Margin Shortfall"`, "Order failed"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %s:\n%s", want, logged)
		}
	}
}

func TestBasket_SubmitAll_Empty(t *testing.T) {
	b := newTestBasket(t)
	called := false
	result := b.SubmitAll(context.Background(), func(context.Context, models.StagedOrder) (*models.OrderAck, error) {
		called = true
		return nil, nil
	})
	if called || result.Total() != 0 {
		t.Errorf("empty basket submitted something: %+v", result)
	}
}

func TestBasket_SubmitAll_Cancelled(t *testing.T) {
	b := newTestBasket(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, strike := range []int{24400, 24500, 24600} {
		_, _ = b.Stage(ctx, niftySpec(strike, models.Put, models.OrderSideSell))
	}

	result := b.SubmitAll(ctx, func(_ context.Context, o models.StagedOrder) (*models.OrderAck, error) {
		cancel()
		return &models.OrderAck{OrderID: "1"}, nil
	})

	if len(result.Succeeded) != 1 || len(result.Failed) != 2 {
		t.Fatalf("result = %s", result.Summary())
	}
	for _, f := range result.Failed {
		if f.Err.Reason != "batch cancelled" || !errors.Is(f.Err, errors.ErrBatchCancelled) {
			t.Errorf("cancelled item = %+v", f.Err)
		}
	}
	if b.Len() != 0 || len(b.snaps.last()) != 0 {
		t.Error("basket must be cleared after a cancelled batch")
	}
}

func TestBasket_SubmitAll_RecoversPanics(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()
	_, _ = b.Stage(ctx, niftySpec(24400, models.Call, models.OrderSideBuy))
	_, _ = b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))

	result := b.SubmitAll(ctx, func(_ context.Context, o models.StagedOrder) (*models.OrderAck, error) {
		if o.Strike == 24400 {
			panic("adapter bug")
		}
		return &models.OrderAck{OrderID: "2"}, nil
	})

	if len(result.Succeeded) != 1 || len(result.Failed) != 1 {
		t.Fatalf("result = %s", result.Summary())
	}
}

func TestBasket_SubmitAll_NilAckIsFailure(t *testing.T) {
	b := newTestBasket(t)
	_, _ = b.Stage(context.Background(), niftySpec(24400, models.Call, models.OrderSideBuy))

	result := b.SubmitAll(context.Background(), func(context.Context, models.StagedOrder) (*models.OrderAck, error) {
		return nil, nil
	})
	if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, errors.ErrOrderRejected) {
		t.Fatalf("result = %+v", result)
	}
}

func TestBasket_MutationsRejectedDuringSubmit(t *testing.T) {
	b := newTestBasket(t)
	ctx := context.Background()
	_, _ = b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))

	var stageErr, removeErr, clearErr error
	var nested models.BatchResult
	b.SubmitAll(ctx, func(_ context.Context, o models.StagedOrder) (*models.OrderAck, error) {
		_, stageErr = b.Stage(ctx, niftySpec(24600, models.Call, models.OrderSideBuy))
		removeErr = b.Remove(ctx, o.ID)
		clearErr = b.Clear(ctx)
		nested = b.SubmitAll(ctx, nil)
		return &models.OrderAck{OrderID: "1"}, nil
	})

	for name, err := range map[string]error{"Stage": stageErr, "Remove": removeErr, "Clear": clearErr} {
		if !errors.Is(err, errors.ErrBatchInProgress) {
			t.Errorf("%s during submit error = %v, want ErrBatchInProgress", name, err)
		}
	}
	if nested.Total() != 0 {
		t.Errorf("nested SubmitAll should be a no-op, got %+v", nested)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after submit", b.Len())
	}
}

func TestBasket_LoadRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	snaps := store.NewBasketSnapshots(kv)
	logger := zerolog.New(io.Discard)

	first := NewBasket(BasketOptions{}, nil, snaps, logger)
	staged, err := first.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	second := NewBasket(BasketOptions{}, nil, snaps, logger)
	orders := second.Orders()
	if len(orders) != 1 || orders[0].ID != staged.ID || !orders[0].Expiry.Equal(staged.Expiry) {
		t.Errorf("restored %+v, want %+v", orders, staged)
	}
}

func TestBasket_LoadCorruptSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	_ = kv.Set(ctx, store.BasketKey, []byte("not json"))

	b := NewBasket(BasketOptions{}, nil, store.NewBasketSnapshots(kv), zerolog.New(io.Discard))
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}

	if _, err := b.Stage(ctx, niftySpec(24500, models.Call, models.OrderSideBuy)); err != nil {
		t.Fatalf("Stage() after corrupt load error = %v", err)
	}
}

func TestBasket_LoadErrorStartsEmpty(t *testing.T) {
	snaps := &fakeSnapshots{loadErr: errors.NewPersistenceError("read", store.BasketKey, errors.ErrDatabaseError)}
	b := NewBasket(BasketOptions{}, nil, snaps, zerolog.New(io.Discard))
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestOnTick(t *testing.T) {
	tests := []struct {
		price float64
		want  bool
	}{
		{120.5, true},
		{120.55, true},
		{0.05, true},
		{120.03, false},
		{99.99, false},
		{101, true},
	}
	for _, tt := range tests {
		if got := OnTick(tt.price, 0.05); got != tt.want {
			t.Errorf("OnTick(%v) = %v, want %v", tt.price, got, tt.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(120.5); got != "120.50" {
		t.Errorf("FormatPrice() = %q", got)
	}
}
