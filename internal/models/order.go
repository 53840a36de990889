package models

import "time"

// OrderSpec is a request to stage an option order in the basket.
type OrderSpec struct {
	Underlying Underlying
	Expiry     time.Time
	Strike     int
	OptionType OptionType
	Side       OrderSide
	Quantity   int
	OrderClass OrderType
	LimitPrice *float64 // required for LIMIT, must be nil for MARKET
	Product    ProductType
}

// StagedOrder is an option order waiting in the basket. It is never mutated
// after staging; TradingSymbol is computed once at staging time.
type StagedOrder struct {
	ID            string      `json:"id"`
	Underlying    Underlying  `json:"underlying"`
	Expiry        time.Time   `json:"expiry"`
	Strike        int         `json:"strike"`
	OptionType    OptionType  `json:"option_type"`
	Side          OrderSide   `json:"side"`
	Quantity      int         `json:"quantity"`
	OrderClass    OrderType   `json:"order_class"`
	LimitPrice    *float64    `json:"limit_price,omitempty"`
	Product       ProductType `json:"product"`
	Exchange      Exchange    `json:"exchange"`
	TradingSymbol string      `json:"trading_symbol"`
	StagedAt      time.Time   `json:"staged_at"`
}

// Price returns the limit price, or zero for market orders.
func (o StagedOrder) Price() float64 {
	if o.LimitPrice == nil {
		return 0
	}
	return *o.LimitPrice
}

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	OrderID       string
	TradingSymbol string
	Status        string
	Message       string
}

// Order represents an order from the broker's order book.
type Order struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	Status       string
	FilledQty    int
	AveragePrice float64
	RejectReason string
	PlacedAt     time.Time
}

// Position represents an open trading position.
type Position struct {
	Symbol        string
	Exchange      Exchange
	Product       ProductType
	Quantity      int
	AveragePrice  float64
	LTP           float64
	RealizedPnL   float64
	UnrealizedPnL float64
}

// PnL returns realized plus unrealized profit.
func (p Position) PnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL
}

// Margins represents margin details.
type Margins struct {
	Available float64
	Used      float64
	Total     float64
}
