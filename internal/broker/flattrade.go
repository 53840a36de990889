package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fno-desk/internal/errors"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
	"fno-desk/internal/security"
	"fno-desk/internal/strikes"
	"fno-desk/internal/trading"
	"fno-desk/pkg/utils"
)

// DefaultFlattradeURL is the Noren trading API root used by Flattrade.
const DefaultFlattradeURL = "https://piconnect.flattrade.in/PiConnectTP"

// Noren addresses indices by exchange token rather than symbol.
var flattradeIndexTokens = map[models.Underlying]string{
	models.Nifty:     "26000",
	models.BankNifty: "26009",
	models.FinNifty:  "26037",
	"MIDCPNIFTY":     "26074",
}

// FlattradeConfig holds configuration for the Flattrade broker.
type FlattradeConfig struct {
	BaseURL     string
	UserID      string
	Token       string
	HTTPClient  *http.Client
	Instruments *trading.InstrumentTable
	Logger      zerolog.Logger
	// ChainDepth is the number of strikes requested on each side of spot.
	ChainDepth int
	Retry      utils.RetryConfig
}

// FlattradeBroker implements the Broker interface on the Noren REST API.
type FlattradeBroker struct {
	baseURL     string
	userID      string
	token       string
	client      *http.Client
	instruments *trading.InstrumentTable
	logger      zerolog.Logger
	chainDepth  int
	retry       utils.RetryConfig
}

// NewFlattradeBroker creates a new Flattrade broker instance.
func NewFlattradeBroker(cfg FlattradeConfig) *FlattradeBroker {
	f := &FlattradeBroker{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		userID:      cfg.UserID,
		token:       cfg.Token,
		client:      cfg.HTTPClient,
		instruments: cfg.Instruments,
		logger:      cfg.Logger.With().Str("broker", "flattrade").Logger(),
		chainDepth:  cfg.ChainDepth,
		retry:       cfg.Retry,
	}
	if f.baseURL == "" {
		f.baseURL = DefaultFlattradeURL
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 15 * time.Second}
	}
	if f.instruments == nil {
		f.instruments = trading.DefaultInstrumentTable()
	}
	if f.chainDepth <= 0 {
		f.chainDepth = 20
	}
	if f.retry.MaxAttempts == 0 {
		f.retry = utils.DefaultRetryConfig()
	}
	if f.retry.Retryable == nil {
		f.retry.Retryable = isTransient
	}
	return f
}

// Name returns the broker name.
func (f *FlattradeBroker) Name() string {
	return "flattrade"
}

// errNoData is how Noren reports an empty book.
var errNoData = errors.New("no data")

type norenStatus struct {
	Stat string `json:"stat"`
	Emsg string `json:"emsg"`
}

// call posts one request and decodes the reply into out. Noren wraps every
// request as jData=<json>&jKey=<session token>.
func (f *FlattradeBroker) call(ctx context.Context, endpoint string, payload, out interface{}) error {
	if f.userID == "" || f.token == "" {
		return errors.ErrNotAuthenticated
	}

	start := time.Now()
	err := f.post(ctx, endpoint, payload, out)
	logging.LogAPICall(f.logger, http.MethodPost, endpoint, time.Since(start), err)
	return err
}

func (f *FlattradeBroker) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", endpoint)
	}
	form := url.Values{}
	form.Set("jData", string(data))
	form.Set("jKey", f.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/"+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.NewBrokerError("network", err.Error(), errors.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewBrokerError("network", err.Error(), errors.ErrConnectionFailed)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewBrokerError(strconv.Itoa(resp.StatusCode), "too many requests", errors.ErrRateLimited)
	case resp.StatusCode >= 500:
		return errors.NewBrokerError(strconv.Itoa(resp.StatusCode), http.StatusText(resp.StatusCode), errors.ErrConnectionFailed)
	}

	// Failures arrive as an object even on endpoints that answer with arrays
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var status norenStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return errors.NewBrokerError("decode", err.Error(), nil)
		}
		if status.Stat != "" && !strings.EqualFold(status.Stat, "Ok") {
			return classifyNorenError(status.Emsg)
		}
	}
	if resp.StatusCode >= 400 {
		return errors.NewBrokerError(strconv.Itoa(resp.StatusCode), security.MaskSensitive(trimmed), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewBrokerError("decode", err.Error(), nil)
	}
	return nil
}

func classifyNorenError(emsg string) error {
	msg := strings.ToLower(emsg)
	switch {
	case strings.Contains(msg, "no data"):
		return errNoData
	case strings.Contains(msg, "session"), strings.Contains(msg, "jkey"):
		return errors.NewBrokerError("session", emsg, errors.ErrNotAuthenticated)
	default:
		return errors.NewBrokerError("rejected", emsg, nil)
	}
}

// isTransient reports whether a read request is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, errors.ErrConnectionFailed) || errors.Is(err, errors.ErrRateLimited)
}

// read runs an idempotent request with retry. Order placement never goes
// through here.
func (f *FlattradeBroker) read(ctx context.Context, endpoint string, payload, out interface{}) error {
	return utils.Retry(ctx, f.retry, func() error {
		return f.call(ctx, endpoint, payload, out)
	})
}

type norenQuote struct {
	LastPrice string `json:"lp"`
	Volume    string `json:"v"`
	OI        string `json:"oi"`
}

// GetSpotPrice fetches the index value from the NSE quote feed.
func (f *FlattradeBroker) GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error) {
	token, ok := flattradeIndexTokens[underlying]
	if !ok {
		return 0, errors.NewValidationError("underlying", underlying, "no spot feed for underlying")
	}

	var q norenQuote
	err := f.read(ctx, "GetQuotes", map[string]string{
		"uid":   f.userID,
		"exch":  string(models.NSE),
		"token": token,
	}, &q)
	if err != nil {
		return 0, fmt.Errorf("failed to get spot price: %w", err)
	}

	ltp := parseNum(q.LastPrice)
	if ltp <= 0 {
		return 0, errors.NewBrokerError("quote", "no last price for "+string(underlying), errors.ErrDataNotFound)
	}
	return ltp, nil
}

type norenChain struct {
	Values []norenChainEntry `json:"values"`
}

type norenChainEntry struct {
	Exchange   string `json:"exch"`
	Token      string `json:"token"`
	Symbol     string `json:"tsym"`
	OptionType string `json:"optt"`
	Strike     string `json:"strprc"`
	LotSize    string `json:"ls"`
}

// GetOptionChain fetches the strikes around spot for one expiry, then quotes
// each contract.
func (f *FlattradeBroker) GetOptionChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error) {
	contract, ok := f.instruments.Lookup(underlying)
	if !ok {
		return nil, errors.NewValidationError("underlying", underlying, "unknown underlying")
	}
	expiry = trading.NormalizeExpiry(expiry)

	spot, err := f.GetSpotPrice(ctx, underlying)
	if err != nil {
		return nil, err
	}

	// The chain endpoint is anchored on a contract of the wanted expiry
	anchor, err := f.instruments.Codec().Encode(underlying, expiry, models.Call, strikes.SnapStrike(spot, contract.StrikeInterval))
	if err != nil {
		return nil, err
	}

	var raw norenChain
	err = f.read(ctx, "GetOptionChain", map[string]string{
		"uid":    f.userID,
		"exch":   string(contract.Exchange),
		"tsym":   anchor,
		"strprc": trading.FormatPrice(spot),
		"cnt":    strconv.Itoa(f.chainDepth),
	}, &raw)
	if err != nil && !errors.Is(err, errNoData) {
		return nil, fmt.Errorf("failed to get option chain: %w", err)
	}

	chain, tokens := adaptOptionChain(raw, f.instruments, underlying, expiry)
	chain.SpotPrice = spot

	f.fillQuotes(ctx, contract.Exchange, tokens)
	return chain, nil
}

// adaptOptionChain groups the Noren entries of one underlying and expiry by
// strike. It also returns the quote token of every leg it kept.
func adaptOptionChain(raw norenChain, instruments *trading.InstrumentTable, underlying models.Underlying, expiry time.Time) (*models.OptionChain, map[string]*models.OptionData) {
	chain := &models.OptionChain{Underlying: underlying, Expiry: expiry}
	tokens := make(map[string]*models.OptionData)
	byStrike := make(map[float64]int)

	for _, v := range raw.Values {
		// All expiries may come back; the symbol carries the date
		decoded, err := instruments.Codec().Decode(v.Symbol)
		if err != nil || decoded.Underlying != underlying || !decoded.Expiry.Equal(expiry) {
			continue
		}
		optType, ok := models.ParseOptionType(v.OptionType)
		if !ok {
			optType = decoded.OptionType
		}

		strike := parseNum(v.Strike)
		if strike == 0 {
			strike = float64(decoded.Strike)
		}
		idx, ok := byStrike[strike]
		if !ok {
			idx = len(chain.Strikes)
			byStrike[strike] = idx
			chain.Strikes = append(chain.Strikes, models.OptionStrike{Strike: strike})
		}

		data := &models.OptionData{
			TradingSymbol: v.Symbol,
			LotSize:       int(parseNum(v.LotSize)),
		}
		if optType == models.Call {
			chain.Strikes[idx].Call = data
		} else {
			chain.Strikes[idx].Put = data
		}
		if v.Token != "" {
			tokens[v.Token] = data
		}
	}
	return chain, tokens
}

// fillQuotes is best effort: a leg whose quote fails keeps a zero LTP.
func (f *FlattradeBroker) fillQuotes(ctx context.Context, exchange models.Exchange, tokens map[string]*models.OptionData) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for token, data := range tokens {
		token, data := token, data
		g.Go(func() error {
			var q norenQuote
			err := f.call(gctx, "GetQuotes", map[string]string{
				"uid":   f.userID,
				"exch":  string(exchange),
				"token": token,
			}, &q)
			if err != nil {
				f.logger.Debug().Err(err).Str("symbol", data.TradingSymbol).Msg("Quote unavailable")
				return nil
			}
			// Each goroutine owns its leg
			data.LTP = parseNum(q.LastPrice)
			data.Volume = int64(parseNum(q.Volume))
			data.OI = int64(parseNum(q.OI))
			return nil
		})
	}
	_ = g.Wait()
}

type norenPlaceOrderReply struct {
	OrderID string `json:"norenordno"`
}

// PlaceOrder submits one staged order. It is never retried.
func (f *FlattradeBroker) PlaceOrder(ctx context.Context, order models.StagedOrder) (*models.OrderAck, error) {
	payload := adaptPlaceOrder(f.userID, order)

	var reply norenPlaceOrderReply
	if err := f.call(ctx, "PlaceOrder", payload, &reply); err != nil {
		var brokerErr *errors.BrokerError
		if errors.As(err, &brokerErr) && brokerErr.Err == nil {
			brokerErr.Err = errors.ErrOrderRejected
		}
		return nil, err
	}
	if reply.OrderID == "" {
		return nil, errors.NewBrokerError("rejected", "no order number in reply", errors.ErrOrderRejected)
	}

	logging.LogOrder(f.logger, reply.OrderID, order.TradingSymbol, string(order.Side), "PLACED")
	return &models.OrderAck{
		OrderID:       reply.OrderID,
		TradingSymbol: order.TradingSymbol,
		Status:        "PLACED",
		Message:       "Order placed",
	}, nil
}

// adaptPlaceOrder maps a staged order onto Noren's field codes.
func adaptPlaceOrder(userID string, order models.StagedOrder) map[string]string {
	product := "I"
	if order.Product == models.ProductNRML {
		product = "M"
	}
	side := "B"
	if order.Side == models.OrderSideSell {
		side = "S"
	}
	priceType, price := "MKT", "0"
	if order.OrderClass == models.OrderTypeLimit {
		priceType, price = "LMT", trading.FormatPrice(order.Price())
	}
	exchange := order.Exchange
	if exchange == "" {
		exchange = models.NFO
	}

	return map[string]string{
		"uid":      userID,
		"actid":    userID,
		"exch":     string(exchange),
		"tsym":     order.TradingSymbol,
		"qty":      strconv.Itoa(order.Quantity),
		"prc":      price,
		"prd":      product,
		"trantype": side,
		"prctyp":   priceType,
		"ret":      "DAY",
		"dscqty":   "0",
	}
}

type norenOrder struct {
	OrderID      string `json:"norenordno"`
	Symbol       string `json:"tsym"`
	Exchange     string `json:"exch"`
	Side         string `json:"trantype"`
	PriceType    string `json:"prctyp"`
	Product      string `json:"prd"`
	Quantity     string `json:"qty"`
	Price        string `json:"prc"`
	Status       string `json:"status"`
	FilledQty    string `json:"fillshares"`
	AveragePrice string `json:"avgprc"`
	RejectReason string `json:"rejreason"`
	Time         string `json:"norentm"`
}

// GetOrders fetches the day's order book.
func (f *FlattradeBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	var raw []norenOrder
	err := f.read(ctx, "OrderBook", map[string]string{"uid": f.userID}, &raw)
	if errors.Is(err, errNoData) {
		return []models.Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return adaptOrderBook(raw), nil
}

func adaptOrderBook(raw []norenOrder) []models.Order {
	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		side, _ := models.ParseOrderSide(o.Side)
		orderType, _ := models.ParseOrderType(o.PriceType)
		placedAt, _ := time.ParseInLocation("15:04:05 02-01-2006", o.Time, utils.IndiaLocation)

		orders = append(orders, models.Order{
			ID:           o.OrderID,
			Symbol:       o.Symbol,
			Exchange:     models.Exchange(o.Exchange),
			Side:         side,
			Type:         orderType,
			Product:      adaptProduct(o.Product),
			Quantity:     int(parseNum(o.Quantity)),
			Price:        parseNum(o.Price),
			Status:       strings.ToUpper(o.Status),
			FilledQty:    int(parseNum(o.FilledQty)),
			AveragePrice: parseNum(o.AveragePrice),
			RejectReason: o.RejectReason,
			PlacedAt:     placedAt,
		})
	}
	return orders
}

type norenPosition struct {
	Symbol        string `json:"tsym"`
	Exchange      string `json:"exch"`
	Product       string `json:"prd"`
	NetQty        string `json:"netqty"`
	NetAvgPrice   string `json:"netavgprc"`
	LastPrice     string `json:"lp"`
	RealizedPnL   string `json:"rpnl"`
	UnrealizedPnL string `json:"urmtom"`
}

// GetPositions fetches the position book, dropping flat positions.
func (f *FlattradeBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	var raw []norenPosition
	err := f.read(ctx, "PositionBook", map[string]string{"uid": f.userID, "actid": f.userID}, &raw)
	if errors.Is(err, errNoData) {
		return []models.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return adaptPositions(raw), nil
}

func adaptPositions(raw []norenPosition) []models.Position {
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		qty := int(parseNum(p.NetQty))
		realized := parseNum(p.RealizedPnL)
		if qty == 0 && realized == 0 {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:        p.Symbol,
			Exchange:      models.Exchange(p.Exchange),
			Product:       adaptProduct(p.Product),
			Quantity:      qty,
			AveragePrice:  parseNum(p.NetAvgPrice),
			LTP:           parseNum(p.LastPrice),
			RealizedPnL:   realized,
			UnrealizedPnL: parseNum(p.UnrealizedPnL),
		})
	}
	return positions
}

type norenLimits struct {
	Cash       string `json:"cash"`
	PayIn      string `json:"payin"`
	Collateral string `json:"brkcollamt"`
	MarginUsed string `json:"marginused"`
}

// GetMargins fetches account limits.
func (f *FlattradeBroker) GetMargins(ctx context.Context) (*models.Margins, error) {
	var raw norenLimits
	if err := f.read(ctx, "Limits", map[string]string{"uid": f.userID, "actid": f.userID}, &raw); err != nil {
		return nil, fmt.Errorf("failed to get margins: %w", err)
	}
	return adaptLimits(raw), nil
}

func adaptLimits(raw norenLimits) *models.Margins {
	total := parseNum(raw.Cash) + parseNum(raw.PayIn) + parseNum(raw.Collateral)
	used := parseNum(raw.MarginUsed)
	return &models.Margins{
		Available: total - used,
		Used:      used,
		Total:     total,
	}
}

func adaptProduct(code string) models.ProductType {
	switch strings.ToUpper(code) {
	case "M", "NRML":
		return models.ProductNRML
	case "I", "MIS":
		return models.ProductMIS
	default:
		return models.ProductType(code)
	}
}

// parseNum reads Noren's string-encoded numbers; blanks are zero.
func parseNum(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
