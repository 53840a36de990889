package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fno-desk/internal/errors"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
)

// DefaultSubmitDelay is the pause between consecutive order submissions.
const DefaultSubmitDelay = 300 * time.Millisecond

// SnapshotStore persists the whole basket.
type SnapshotStore interface {
	Save(ctx context.Context, orders []models.StagedOrder) error
	Load(ctx context.Context) ([]models.StagedOrder, error)
}

// SubmitFunc places one staged order with the broker.
type SubmitFunc func(ctx context.Context, order models.StagedOrder) (*models.OrderAck, error)

// BasketOptions configures a Basket.
type BasketOptions struct {
	SubmitDelay    time.Duration
	DefaultProduct models.ProductType
}

// Basket holds option orders staged for submission as one batch.
type Basket struct {
	opts        BasketOptions
	instruments *InstrumentTable
	snapshots   SnapshotStore
	logger      zerolog.Logger

	mu         sync.Mutex
	orders     []models.StagedOrder
	submitting bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewBasket creates a basket and restores the last saved snapshot. A missing
// or unreadable snapshot leaves the basket empty.
func NewBasket(opts BasketOptions, instruments *InstrumentTable, snapshots SnapshotStore, logger zerolog.Logger) *Basket {
	if opts.SubmitDelay < 0 {
		opts.SubmitDelay = 0
	}
	if opts.DefaultProduct == "" {
		opts.DefaultProduct = models.ProductMIS
	}
	if instruments == nil {
		instruments = DefaultInstrumentTable()
	}

	b := &Basket{
		opts:        opts,
		instruments: instruments,
		snapshots:   snapshots,
		logger:      logging.WithOperation(logger, "basket"),
		orders:      []models.StagedOrder{},
		now:         time.Now,
		sleep:       sleepContext,
		newID:       uuid.NewString,
	}
	b.Load(context.Background())
	return b
}

// Load replaces the in-memory basket with the persisted snapshot.
func (b *Basket) Load(ctx context.Context) {
	if b.snapshots == nil {
		return
	}

	orders, err := b.snapshots.Load(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Could not restore basket, starting empty")
		orders = []models.StagedOrder{}
	}

	b.mu.Lock()
	b.orders = orders
	b.mu.Unlock()

	b.logger.Debug().Int("orders", len(orders)).Msg("Basket restored")
}

// Stage validates spec and appends it to the basket. On a validation error
// the basket is left unchanged.
func (b *Basket) Stage(ctx context.Context, spec models.OrderSpec) (models.StagedOrder, error) {
	contract, err := b.validate(spec)
	if err != nil {
		return models.StagedOrder{}, err
	}

	product := spec.Product
	if product == "" {
		product = b.opts.DefaultProduct
	}

	expiry := NormalizeExpiry(spec.Expiry)
	tsym, err := b.instruments.Codec().Encode(spec.Underlying, expiry, spec.OptionType, spec.Strike)
	if err != nil {
		return models.StagedOrder{}, err
	}

	var price *float64
	if spec.LimitPrice != nil {
		p := *spec.LimitPrice
		price = &p
	}

	order := models.StagedOrder{
		ID:            b.newID(),
		Underlying:    spec.Underlying,
		Expiry:        expiry,
		Strike:        spec.Strike,
		OptionType:    spec.OptionType,
		Side:          spec.Side,
		Quantity:      spec.Quantity,
		OrderClass:    spec.OrderClass,
		LimitPrice:    price,
		Product:       product,
		Exchange:      contract.Exchange,
		TradingSymbol: tsym,
		StagedAt:      b.now().UTC().Round(0),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitting {
		return models.StagedOrder{}, errors.ErrBatchInProgress
	}
	b.orders = append(b.orders, order)
	b.persistLocked(ctx)

	b.logger.Info().
		Str("order_id", order.ID).
		Str("symbol", order.TradingSymbol).
		Str("side", string(order.Side)).
		Int("quantity", order.Quantity).
		Msg("Order staged")

	return order, nil
}

// Remove deletes the entry with the given id. Unknown ids are ignored.
func (b *Basket) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitting {
		return errors.ErrBatchInProgress
	}

	kept := make([]models.StagedOrder, 0, len(b.orders))
	for _, o := range b.orders {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	b.orders = kept
	b.persistLocked(ctx)
	return nil
}

// Clear empties the basket.
func (b *Basket) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitting {
		return errors.ErrBatchInProgress
	}
	b.orders = []models.StagedOrder{}
	b.persistLocked(ctx)
	return nil
}

// Orders returns a copy of the staged entries in insertion order.
func (b *Basket) Orders() []models.StagedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.StagedOrder, len(b.orders))
	copy(out, b.orders)
	return out
}

// Len returns the number of staged entries.
func (b *Basket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// SubmitAll places every staged entry in insertion order, pausing between
// submissions. Every entry ends up in exactly one of Succeeded or Failed and
// the basket is cleared afterwards whatever the outcomes. If ctx is cancelled
// the entries not yet sent fail with "batch cancelled".
//
// A SubmitAll issued while another is running returns an empty result.
func (b *Basket) SubmitAll(ctx context.Context, submit SubmitFunc) models.BatchResult {
	b.mu.Lock()
	if b.submitting {
		b.mu.Unlock()
		b.logger.Warn().Msg("Basket submission already in progress")
		return models.BatchResult{}
	}
	b.submitting = true
	batch := make([]models.StagedOrder, len(b.orders))
	copy(batch, b.orders)
	b.mu.Unlock()

	start := time.Now()
	result := models.BatchResult{
		Succeeded: []models.SubmittedOrder{},
		Failed:    []models.FailedOrder{},
	}

	for i, order := range batch {
		if i > 0 && ctx.Err() == nil && b.opts.SubmitDelay > 0 {
			_ = b.sleep(ctx, b.opts.SubmitDelay)
		}
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, models.FailedOrder{
				Order: order,
				Err:   errors.NewOrderError(order.ID, order.TradingSymbol, "batch cancelled", errors.ErrBatchCancelled),
			})
			continue
		}

		ack, err := b.submitOne(ctx, submit, order)
		if err != nil {
			result.Failed = append(result.Failed, models.FailedOrder{Order: order, Err: err})
			log := logging.WithOrderID(b.logger, order.ID)
			log.Warn().
				Str("symbol", order.TradingSymbol).
				Str("reason", err.Reason).
				Msg("Order failed")
			continue
		}
		result.Succeeded = append(result.Succeeded, models.SubmittedOrder{Order: order, Ack: *ack})
		logging.LogOrder(b.logger, ack.OrderID, order.TradingSymbol, string(order.Side), "PLACED")
	}

	b.mu.Lock()
	b.orders = []models.StagedOrder{}
	b.submitting = false
	// The caller's context may be cancelled; the cleared basket is saved regardless
	b.persistLocked(context.WithoutCancel(ctx))
	b.mu.Unlock()

	logging.LogBatch(b.logger, len(result.Succeeded), len(result.Failed), time.Since(start))
	return result
}

// submitOne calls submit and converts any failure, including a panic in the
// broker adapter, into an OrderError.
func (b *Basket) submitOne(ctx context.Context, submit SubmitFunc, order models.StagedOrder) (ack *models.OrderAck, oerr *errors.OrderError) {
	defer func() {
		if r := recover(); r != nil {
			ack = nil
			oerr = errors.NewOrderError(order.ID, order.TradingSymbol, fmt.Sprintf("submission panicked: %v", r), nil)
		}
	}()

	ack, err := submit(ctx, order)
	if err != nil {
		return nil, errors.NewOrderError(order.ID, order.TradingSymbol, failureReason(err), err)
	}
	if ack == nil {
		return nil, errors.NewOrderError(order.ID, order.TradingSymbol, "broker returned no acknowledgement", errors.ErrOrderRejected)
	}
	if ack.TradingSymbol == "" {
		ack.TradingSymbol = order.TradingSymbol
	}
	return ack, nil
}

func failureReason(err error) string {
	var oe *errors.OrderError
	if errors.As(err, &oe) && oe.Reason != "" {
		return oe.Reason
	}
	var be *errors.BrokerError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}

func (b *Basket) persistLocked(ctx context.Context) {
	if b.snapshots == nil {
		return
	}
	if err := b.snapshots.Save(ctx, b.orders); err != nil {
		b.logger.Error().Err(err).Int("orders", len(b.orders)).Msg("Failed to persist basket")
	}
}

func (b *Basket) validate(spec models.OrderSpec) (Contract, error) {
	contract, ok := b.instruments.Lookup(spec.Underlying)
	if !ok {
		return Contract{}, errors.NewValidationError("underlying", spec.Underlying, "unknown underlying")
	}

	switch spec.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return Contract{}, errors.NewValidationError("side", spec.Side, "side must be BUY or SELL")
	}

	switch spec.OptionType {
	case models.Call, models.Put:
	default:
		return Contract{}, errors.NewValidationError("option_type", spec.OptionType, "option type must be CALL or PUT")
	}

	if spec.Expiry.IsZero() {
		return Contract{}, errors.NewValidationError("expiry", spec.Expiry, "expiry is required")
	}

	if spec.Quantity <= 0 {
		return Contract{}, errors.NewValidationError("quantity", spec.Quantity, "quantity must be positive")
	}
	if spec.Quantity%contract.LotSize != 0 {
		return Contract{}, errors.NewValidationError("quantity", spec.Quantity,
			fmt.Sprintf("quantity must be a multiple of the lot size %d", contract.LotSize))
	}

	if spec.Strike <= 0 {
		return Contract{}, errors.NewValidationError("strike", spec.Strike, "strike must be positive")
	}
	if contract.StrikeInterval > 0 && spec.Strike%contract.StrikeInterval != 0 {
		return Contract{}, errors.NewValidationError("strike", spec.Strike,
			fmt.Sprintf("strike must be a multiple of %d", contract.StrikeInterval))
	}

	switch spec.OrderClass {
	case models.OrderTypeLimit:
		if spec.LimitPrice == nil {
			return Contract{}, errors.NewValidationError("limit_price", nil, "limit orders need a price")
		}
		if *spec.LimitPrice <= 0 {
			return Contract{}, errors.NewValidationError("limit_price", *spec.LimitPrice, "limit price must be positive")
		}
		if !OnTick(*spec.LimitPrice, contract.TickSize) {
			return Contract{}, errors.NewValidationError("limit_price", *spec.LimitPrice,
				fmt.Sprintf("limit price must be a multiple of the tick size %s", decimal.NewFromFloat(contract.TickSize).String()))
		}
	case models.OrderTypeMarket:
		if spec.LimitPrice != nil {
			return Contract{}, errors.NewValidationError("limit_price", *spec.LimitPrice, "market orders take no price")
		}
	default:
		return Contract{}, errors.NewValidationError("order_class", spec.OrderClass, "order class must be MARKET or LIMIT")
	}

	switch spec.Product {
	case "", models.ProductMIS, models.ProductNRML:
	default:
		return Contract{}, errors.NewValidationError("product", spec.Product, "product must be MIS or NRML")
	}

	return contract, nil
}

// OnTick reports whether price is an exact multiple of tick.
func OnTick(price, tick float64) bool {
	if tick <= 0 {
		return true
	}
	return decimal.NewFromFloat(price).Mod(decimal.NewFromFloat(tick)).IsZero()
}

// FormatPrice renders a price with two decimals.
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(2)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
