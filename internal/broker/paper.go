package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fno-desk/internal/errors"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
	"fno-desk/internal/store"
	"fno-desk/internal/strikes"
	"fno-desk/internal/trading"
)

// PaperStateKey is where the paper book is kept in the KV store.
const PaperStateKey = "paper:v1"

// Index levels used when no data broker is configured.
var defaultPaperSpots = map[models.Underlying]float64{
	models.Nifty:     24500,
	models.BankNifty: 52000,
	models.FinNifty:  23500,
	"MIDCPNIFTY":     12800,
}

// PaperBroker implements the Broker interface for paper trading simulation.
type PaperBroker struct {
	// Real broker for market data, optional
	dataBroker  Broker
	instruments *trading.InstrumentTable
	state       store.KVStore
	logger      zerolog.Logger

	// Simulated state
	cash         float64
	initialCash  float64
	orders       []models.Order
	positions    map[string]*models.Position
	orderCounter int

	// Price cache for simulation
	priceCache map[string]float64
	spots      map[models.Underlying]float64
	chainDepth int

	now func() time.Time
	mu  sync.Mutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	DataBroker     Broker
	Instruments    *trading.InstrumentTable
	InitialBalance float64
	// Spots overrides the synthetic index levels.
	Spots map[models.Underlying]float64
	// State, when set, keeps the paper book across runs.
	State  store.KVStore
	Logger zerolog.Logger
}

type paperState struct {
	Cash      float64           `json:"cash"`
	Counter   int               `json:"counter"`
	Orders    []models.Order    `json:"orders"`
	Positions []models.Position `json:"positions"`
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initialBalance := cfg.InitialBalance
	if initialBalance == 0 {
		initialBalance = 1000000 // 10 lakhs default
	}

	p := &PaperBroker{
		dataBroker:  cfg.DataBroker,
		instruments: cfg.Instruments,
		state:       cfg.State,
		logger:      cfg.Logger.With().Str("broker", "paper").Logger(),
		cash:        initialBalance,
		initialCash: initialBalance,
		positions:   make(map[string]*models.Position),
		priceCache:  make(map[string]float64),
		spots:       make(map[models.Underlying]float64, len(defaultPaperSpots)),
		chainDepth:  20,
		now:         time.Now,
	}
	if p.instruments == nil {
		p.instruments = trading.DefaultInstrumentTable()
	}
	for u, v := range defaultPaperSpots {
		p.spots[u] = v
	}
	for u, v := range cfg.Spots {
		p.spots[u] = v
	}
	p.restore()
	return p
}

// Name returns the broker name.
func (p *PaperBroker) Name() string {
	return "paper"
}

func (p *PaperBroker) restore() {
	if p.state == nil {
		return
	}
	data, err := p.state.Get(context.Background(), PaperStateKey)
	if err != nil {
		if !errors.Is(err, errors.ErrDataNotFound) {
			p.logger.Error().Err(err).Msg("Failed to read paper state")
		}
		return
	}
	var st paperState
	if err := json.Unmarshal(data, &st); err != nil {
		p.logger.Error().Err(err).Msg("Discarding unreadable paper state")
		return
	}

	p.cash = st.Cash
	p.orderCounter = st.Counter
	p.orders = st.Orders
	for i := range st.Positions {
		pos := st.Positions[i]
		p.positions[positionKey(pos.Exchange, pos.Symbol, pos.Product)] = &pos
	}
}

// persistLocked writes the paper book; failures only cost continuity.
func (p *PaperBroker) persistLocked(ctx context.Context) {
	if p.state == nil {
		return
	}
	st := paperState{Cash: p.cash, Counter: p.orderCounter, Orders: p.orders}
	for _, pos := range p.sortedPositionsLocked() {
		st.Positions = append(st.Positions, *pos)
	}
	data, err := json.Marshal(st)
	if err == nil {
		err = p.state.Set(context.WithoutCancel(ctx), PaperStateKey, data)
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to save paper state")
	}
}

// GetSpotPrice returns the data broker's spot, or the synthetic level.
func (p *PaperBroker) GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error) {
	if p.dataBroker != nil {
		return p.dataBroker.GetSpotPrice(ctx, underlying)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	spot, ok := p.spots[underlying]
	if !ok {
		return 0, errors.NewBrokerError("quote", "no simulated spot for "+string(underlying), errors.ErrDataNotFound)
	}
	return spot, nil
}

// GetOptionChain returns the data broker's chain or a synthetic one, and
// remembers every leg's price for later fills.
func (p *PaperBroker) GetOptionChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error) {
	var (
		chain *models.OptionChain
		err   error
	)
	if p.dataBroker != nil {
		chain, err = p.dataBroker.GetOptionChain(ctx, underlying, expiry)
	} else {
		chain, err = p.syntheticChain(underlying, expiry)
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, row := range chain.Strikes {
		for _, leg := range []*models.OptionData{row.Call, row.Put} {
			if leg != nil && leg.LTP > 0 {
				p.priceCache[leg.TradingSymbol] = leg.LTP
			}
		}
	}
	p.mu.Unlock()
	return chain, nil
}

func (p *PaperBroker) syntheticChain(underlying models.Underlying, expiry time.Time) (*models.OptionChain, error) {
	contract, ok := p.instruments.Lookup(underlying)
	if !ok {
		return nil, errors.NewValidationError("underlying", underlying, "unknown underlying")
	}

	p.mu.Lock()
	spot, ok := p.spots[underlying]
	now := p.now()
	p.mu.Unlock()
	if !ok {
		return nil, errors.NewBrokerError("quote", "no simulated spot for "+string(underlying), errors.ErrDataNotFound)
	}

	expiry = trading.NormalizeExpiry(expiry)
	chain := &models.OptionChain{Underlying: underlying, SpotPrice: spot, Expiry: expiry}
	atm := strikes.SnapStrike(spot, contract.StrikeInterval)
	for i := -p.chainDepth; i <= p.chainDepth; i++ {
		strike := atm + i*contract.StrikeInterval
		if strike <= 0 {
			continue
		}
		row := models.OptionStrike{Strike: float64(strike)}
		for _, t := range []models.OptionType{models.Call, models.Put} {
			sym, err := p.instruments.Codec().Encode(underlying, expiry, t, strike)
			if err != nil {
				return nil, err
			}
			leg := &models.OptionData{
				TradingSymbol: sym,
				LTP:           syntheticPremium(spot, strike, t, expiry, now, contract.TickSize),
				LotSize:       contract.LotSize,
			}
			if t == models.Call {
				row.Call = leg
			} else {
				row.Put = leg
			}
		}
		chain.Strikes = append(chain.Strikes, row)
	}
	return chain, nil
}

// syntheticPremium prices an option as intrinsic value plus a time value
// that decays with distance from spot and with time to expiry.
func syntheticPremium(spot float64, strike int, t models.OptionType, expiry, now time.Time, tick float64) float64 {
	intrinsic := spot - float64(strike)
	if t == models.Put {
		intrinsic = -intrinsic
	}
	if intrinsic < 0 {
		intrinsic = 0
	}

	days := expiry.Sub(trading.NormalizeExpiry(now)).Hours() / 24
	if days < 0.5 {
		days = 0.5
	}
	distance := math.Abs(spot - float64(strike))
	timeValue := spot * 0.004 * math.Sqrt(days/7) * math.Exp(-distance/(spot*0.02))

	if tick <= 0 {
		tick = 0.05
	}
	step := decimal.NewFromFloat(tick)
	price := decimal.NewFromFloat(intrinsic + timeValue).Div(step).Round(0).Mul(step)
	if price.LessThan(step) {
		price = step
	}
	return price.InexactFloat64()
}

// priceFor returns the last known premium for a staged order's contract.
func (p *PaperBroker) priceFor(ctx context.Context, order models.StagedOrder) float64 {
	p.mu.Lock()
	price := p.priceCache[order.TradingSymbol]
	p.mu.Unlock()
	if price > 0 {
		return price
	}

	// One chain fetch fills the cache for every leg of this expiry
	if _, err := p.GetOptionChain(ctx, order.Underlying, order.Expiry); err != nil {
		p.logger.Debug().Err(err).Str("symbol", order.TradingSymbol).Msg("No price for paper fill")
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priceCache[order.TradingSymbol]
}

// PlaceOrder simulates order placement.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order models.StagedOrder) (*models.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	price := p.priceFor(ctx, order)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Determine execution price
	execPrice := price
	canFill := true
	if order.OrderClass == models.OrderTypeLimit {
		execPrice = order.Price()
		if price > 0 {
			if order.Side == models.OrderSideBuy && price > order.Price() {
				canFill = false
			}
			if order.Side == models.OrderSideSell && price < order.Price() {
				canFill = false
			}
		}
	}
	if execPrice <= 0 {
		return nil, errors.NewBrokerError("rejected", "no market price for "+order.TradingSymbol, errors.ErrOrderRejected)
	}

	// Calculate order value
	orderValue := execPrice * float64(order.Quantity)

	// Check balance for buy orders
	if order.Side == models.OrderSideBuy && canFill && p.cash < orderValue {
		msg := fmt.Sprintf("insufficient funds: need %.2f, have %.2f", orderValue, p.cash)
		return nil, errors.NewBrokerError("rejected", msg, errors.ErrOrderRejected)
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.now().Unix(), p.orderCounter)

	newOrder := models.Order{
		ID:       orderID,
		Symbol:   order.TradingSymbol,
		Exchange: order.Exchange,
		Side:     order.Side,
		Type:     order.OrderClass,
		Product:  order.Product,
		Quantity: order.Quantity,
		Price:    order.Price(),
		PlacedAt: p.now(),
	}

	if canFill {
		newOrder.Status = "COMPLETE"
		newOrder.FilledQty = order.Quantity
		newOrder.AveragePrice = execPrice

		p.updatePosition(order.TradingSymbol, order.Exchange, order.Product, order.Side, order.Quantity, execPrice)

		if order.Side == models.OrderSideBuy {
			p.cash -= orderValue
		} else {
			p.cash += orderValue
		}
	} else {
		newOrder.Status = "OPEN"
	}

	p.orders = append(p.orders, newOrder)
	p.persistLocked(ctx)

	logging.LogOrder(p.logger, orderID, order.TradingSymbol, string(order.Side), newOrder.Status)
	return &models.OrderAck{
		OrderID:       orderID,
		TradingSymbol: order.TradingSymbol,
		Status:        newOrder.Status,
		Message:       "Paper order placed",
	}, nil
}

// GetOrders returns paper orders in placement order.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]models.Order, len(p.orders))
	copy(orders, p.orders)
	return orders, nil
}

// GetPositions returns simulated positions marked to the last known price.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.sortedPositionsLocked() {
		if price := p.priceCache[pos.Symbol]; price > 0 {
			pos.LTP = price
			pos.UnrealizedPnL = (price - pos.AveragePrice) * float64(pos.Quantity)
		}
		positions = append(positions, *pos)
	}
	return positions, nil
}

// GetMargins returns simulated margins. Open premium counts toward the total.
func (p *PaperBroker) GetMargins(ctx context.Context) (*models.Margins, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cash
	for _, pos := range p.positions {
		if price := p.priceCache[pos.Symbol]; price > 0 {
			pos.LTP = price
			pos.UnrealizedPnL = (price - pos.AveragePrice) * float64(pos.Quantity)
		}
		total += pos.LTP * float64(pos.Quantity)
	}
	used := p.initialCash - p.cash
	if used < 0 {
		used = 0
	}

	return &models.Margins{
		Available: p.cash,
		Used:      used,
		Total:     total,
	}, nil
}

func positionKey(exchange models.Exchange, symbol string, product models.ProductType) string {
	return fmt.Sprintf("%s:%s:%s", exchange, symbol, product)
}

func (p *PaperBroker) sortedPositionsLocked() []*models.Position {
	keys := make([]string, 0, len(p.positions))
	for k := range p.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*models.Position, len(keys))
	for i, k := range keys {
		out[i] = p.positions[k]
	}
	return out
}

// updatePosition applies a fill. Reducing trades book realized P&L against
// the average price; a flip through zero starts a new average at the fill.
func (p *PaperBroker) updatePosition(symbol string, exchange models.Exchange, product models.ProductType, side models.OrderSide, qty int, price float64) {
	key := positionKey(exchange, symbol, product)

	pos, exists := p.positions[key]
	if !exists {
		pos = &models.Position{
			Symbol:   symbol,
			Exchange: exchange,
			Product:  product,
		}
		p.positions[key] = pos
	}

	signed := qty
	if side == models.OrderSideSell {
		signed = -qty
	}

	if pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0) {
		// Opening or adding: weighted average
		totalValue := pos.AveragePrice*math.Abs(float64(pos.Quantity)) + price*float64(qty)
		pos.Quantity += signed
		pos.AveragePrice = totalValue / math.Abs(float64(pos.Quantity))
	} else {
		closing := qty
		if held := int(math.Abs(float64(pos.Quantity))); closing > held {
			closing = held
		}
		direction := 1.0
		if pos.Quantity < 0 {
			direction = -1.0
		}
		pos.RealizedPnL += (price - pos.AveragePrice) * float64(closing) * direction

		before := pos.Quantity
		pos.Quantity += signed
		switch {
		case pos.Quantity == 0:
			pos.AveragePrice = 0
		case (before > 0) != (pos.Quantity > 0):
			pos.AveragePrice = price
		}
	}

	pos.LTP = price
	pos.UnrealizedPnL = (price - pos.AveragePrice) * float64(pos.Quantity)
}

// Ensure PaperBroker implements Broker interface
var _ Broker = (*PaperBroker)(nil)
