package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/sync/singleflight"

	"fno-desk/internal/errors"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
	"fno-desk/internal/trading"
)

// Kite quotes indices under their display names.
var zerodhaSpotSymbols = map[models.Underlying]string{
	models.Nifty:     "NSE:NIFTY 50",
	models.BankNifty: "NSE:NIFTY BANK",
	models.FinNifty:  "NSE:NIFTY FIN SERVICE",
	"MIDCPNIFTY":     "NSE:NIFTY MID SELECT",
}

// Kite accepts at most this many instruments per quote call.
const zerodhaQuoteBatch = 500

// ZerodhaBroker implements the Broker interface for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	authenticated bool
	instruments   *trading.InstrumentTable
	logger        zerolog.Logger

	// Option instrument dump, refreshed after dumpTTL
	mu      sync.RWMutex
	dump    []kiteconnect.Instrument
	dumpAt  time.Time
	dumpTTL time.Duration
	loads   singleflight.Group
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	Instruments *trading.InstrumentTable
	Logger      zerolog.Logger
	// InstrumentTTL bounds how long the instrument dump is reused.
	InstrumentTTL time.Duration
}

// NewZerodhaBroker creates a new Zerodha broker instance. The access token
// comes from the Kite login flow run outside this tool.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}

	zb := &ZerodhaBroker{
		client:        client,
		authenticated: cfg.APIKey != "" && cfg.AccessToken != "",
		instruments:   cfg.Instruments,
		logger:        cfg.Logger.With().Str("broker", "zerodha").Logger(),
		dumpTTL:       cfg.InstrumentTTL,
	}
	if zb.instruments == nil {
		zb.instruments = trading.DefaultInstrumentTable()
	}
	if zb.dumpTTL <= 0 {
		zb.dumpTTL = 6 * time.Hour
	}
	return zb
}

// Name returns the broker name.
func (z *ZerodhaBroker) Name() string {
	return "zerodha"
}

// IsAuthenticated returns whether an access token is configured.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	return z.authenticated
}

// kiteError maps a Kite client error onto the desk's error kinds.
func kiteError(err error, fallback error) error {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		return errors.NewBrokerError("kite", err.Error(), fallback)
	}
	switch kerr.ErrorType {
	case kiteconnect.TokenError, kiteconnect.PermissionError:
		return errors.NewBrokerError(kerr.ErrorType, kerr.Message, errors.ErrNotAuthenticated)
	case kiteconnect.NetworkError:
		return errors.NewBrokerError(kerr.ErrorType, kerr.Message, errors.ErrConnectionFailed)
	default:
		return errors.NewBrokerError(kerr.ErrorType, kerr.Message, fallback)
	}
}

func (z *ZerodhaBroker) logCall(endpoint string, start time.Time, err error) {
	logging.LogAPICall(z.logger, "GET", endpoint, time.Since(start), err)
}

// GetSpotPrice fetches the index value.
func (z *ZerodhaBroker) GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error) {
	if !z.IsAuthenticated() {
		return 0, errors.ErrNotAuthenticated
	}
	sym, ok := zerodhaSpotSymbols[underlying]
	if !ok {
		return 0, errors.NewValidationError("underlying", underlying, "no spot feed for underlying")
	}

	start := time.Now()
	quotes, err := z.client.GetQuote(sym)
	z.logCall("/quote", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get spot price: %w", kiteError(err, nil))
	}

	q, ok := quotes[sym]
	if !ok || q.LastPrice <= 0 {
		return 0, errors.NewBrokerError("quote", "quote not found for symbol: "+sym, errors.ErrDataNotFound)
	}
	return q.LastPrice, nil
}

// optionInstruments returns the cached option dump, loading it at most once
// at a time.
func (z *ZerodhaBroker) optionInstruments() ([]kiteconnect.Instrument, error) {
	z.mu.RLock()
	dump, fresh := z.dump, time.Since(z.dumpAt) < z.dumpTTL
	z.mu.RUnlock()
	if dump != nil && fresh {
		return dump, nil
	}

	v, err, _ := z.loads.Do("instruments", func() (interface{}, error) {
		start := time.Now()
		all, err := z.client.GetInstruments()
		z.logCall("/instruments", start, err)
		if err != nil {
			return nil, kiteError(err, nil)
		}

		options := make([]kiteconnect.Instrument, 0, len(all)/4)
		for _, inst := range all {
			if inst.InstrumentType == "CE" || inst.InstrumentType == "PE" {
				options = append(options, inst)
			}
		}

		z.mu.Lock()
		z.dump, z.dumpAt = options, time.Now()
		z.mu.Unlock()
		return options, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", err)
	}
	return v.([]kiteconnect.Instrument), nil
}

// contractsFor filters the dump to one underlying and expiry, sorted by
// strike.
func contractsFor(dump []kiteconnect.Instrument, contract trading.Contract, expiry time.Time) []kiteconnect.Instrument {
	var out []kiteconnect.Instrument
	for _, inst := range dump {
		if models.Underlying(inst.Name) != contract.Underlying || inst.Exchange != string(contract.Exchange) {
			continue
		}
		if !trading.NormalizeExpiry(inst.Expiry.Time).Equal(expiry) {
			continue
		}
		out = append(out, inst)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StrikePrice < out[j].StrikePrice })
	return out
}

// resolveContract finds Kite's own trading symbol for a staged order.
func resolveContract(dump []kiteconnect.Instrument, contract trading.Contract, order models.StagedOrder) (kiteconnect.Instrument, bool) {
	for _, inst := range contractsFor(dump, contract, trading.NormalizeExpiry(order.Expiry)) {
		if int(inst.StrikePrice+0.5) == order.Strike && inst.InstrumentType == order.OptionType.Short() {
			return inst, true
		}
	}
	return kiteconnect.Instrument{}, false
}

// GetOptionChain builds the chain for one expiry from the instrument dump
// and live quotes.
func (z *ZerodhaBroker) GetOptionChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	contract, ok := z.instruments.Lookup(underlying)
	if !ok {
		return nil, errors.NewValidationError("underlying", underlying, "unknown underlying")
	}
	expiry = trading.NormalizeExpiry(expiry)

	dump, err := z.optionInstruments()
	if err != nil {
		return nil, err
	}
	listed := contractsFor(dump, contract, expiry)

	keys := make([]string, len(listed))
	for i, inst := range listed {
		keys[i] = inst.Exchange + ":" + inst.Tradingsymbol
	}
	quotes := make(kiteconnect.Quote, len(keys))
	for lo := 0; lo < len(keys); lo += zerodhaQuoteBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := lo + zerodhaQuoteBatch
		if hi > len(keys) {
			hi = len(keys)
		}
		start := time.Now()
		batch, err := z.client.GetQuote(keys[lo:hi]...)
		z.logCall("/quote", start, err)
		if err != nil {
			return nil, fmt.Errorf("failed to get option quotes: %w", kiteError(err, nil))
		}
		for k, q := range batch {
			quotes[k] = q
		}
	}

	chain := &models.OptionChain{Underlying: underlying, Expiry: expiry}
	rows := make(map[float64]int)
	for i, inst := range listed {
		idx, ok := rows[inst.StrikePrice]
		if !ok {
			idx = len(chain.Strikes)
			rows[inst.StrikePrice] = idx
			chain.Strikes = append(chain.Strikes, models.OptionStrike{Strike: inst.StrikePrice})
		}

		optType, _ := models.ParseOptionType(inst.InstrumentType)
		sym, err := z.instruments.Codec().Encode(underlying, expiry, optType, int(inst.StrikePrice+0.5))
		if err != nil {
			sym = inst.Tradingsymbol
		}
		data := &models.OptionData{TradingSymbol: sym, LotSize: int(inst.LotSize)}
		if q, ok := quotes[keys[i]]; ok {
			data.LTP = q.LastPrice
			data.Volume = int64(q.Volume)
			data.OI = int64(q.OI)
		}

		if optType == models.Call {
			chain.Strikes[idx].Call = data
		} else {
			chain.Strikes[idx].Put = data
		}
	}

	return chain, nil
}

// PlaceOrder places a regular order for the staged contract.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, order models.StagedOrder) (*models.OrderAck, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	contract, ok := z.instruments.Lookup(order.Underlying)
	if !ok {
		return nil, errors.NewBrokerError("symbol", "unknown underlying "+string(order.Underlying), errors.ErrOrderRejected)
	}

	dump, err := z.optionInstruments()
	if err != nil {
		return nil, err
	}
	inst, ok := resolveContract(dump, contract, order)
	if !ok {
		return nil, errors.NewBrokerError("symbol", "contract not listed: "+order.TradingSymbol, errors.ErrSymbolNotFound)
	}

	params := kiteconnect.OrderParams{
		Exchange:        inst.Exchange,
		Tradingsymbol:   inst.Tradingsymbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.OrderClass),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price(),
		Validity:        kiteconnect.ValidityDay,
	}

	start := time.Now()
	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	logging.LogAPICall(z.logger, "POST", "/orders/regular", time.Since(start), err)
	if err != nil {
		return nil, kiteError(err, errors.ErrOrderRejected)
	}

	logging.LogOrder(z.logger, resp.OrderID, order.TradingSymbol, string(order.Side), "PLACED")
	return &models.OrderAck{
		OrderID:       resp.OrderID,
		TradingSymbol: order.TradingSymbol,
		Status:        "PLACED",
		Message:       "Order placed successfully",
	}, nil
}

// GetOrders fetches all orders for the day.
func (z *ZerodhaBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	orders, err := z.client.GetOrders()
	z.logCall("/orders", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", kiteError(err, nil))
	}

	result := make([]models.Order, len(orders))
	for i, o := range orders {
		result[i] = models.Order{
			ID:           o.OrderID,
			Symbol:       o.TradingSymbol,
			Exchange:     models.Exchange(o.Exchange),
			Side:         models.OrderSide(o.TransactionType),
			Type:         models.OrderType(o.OrderType),
			Product:      models.ProductType(o.Product),
			Quantity:     int(o.Quantity),
			Price:        o.Price,
			Status:       o.Status,
			FilledQty:    int(o.FilledQuantity),
			AveragePrice: o.AveragePrice,
			RejectReason: o.StatusMessage,
			PlacedAt:     o.OrderTimestamp.Time,
		}
	}

	return result, nil
}

// GetPositions fetches net positions, keeping closed ones that booked P&L.
func (z *ZerodhaBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	positions, err := z.client.GetPositions()
	z.logCall("/portfolio/positions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", kiteError(err, nil))
	}

	result := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		if p.Quantity == 0 && p.Realised == 0 {
			continue
		}
		result = append(result, models.Position{
			Symbol:        p.Tradingsymbol,
			Exchange:      models.Exchange(p.Exchange),
			Product:       models.ProductType(p.Product),
			Quantity:      int(p.Quantity),
			AveragePrice:  p.AveragePrice,
			LTP:           p.LastPrice,
			RealizedPnL:   p.Realised,
			UnrealizedPnL: p.Unrealised,
		})
	}

	return result, nil
}

// GetMargins fetches equity segment margins, which cover F&O.
func (z *ZerodhaBroker) GetMargins(ctx context.Context) (*models.Margins, error) {
	if !z.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	margins, err := z.client.GetUserMargins()
	z.logCall("/user/margins", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get margins: %w", kiteError(err, nil))
	}

	return &models.Margins{
		Available: margins.Equity.Available.Cash + margins.Equity.Available.Collateral,
		Used:      margins.Equity.Used.Debits,
		Total:     margins.Equity.Net,
	}, nil
}
