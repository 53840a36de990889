// Package models provides domain models for the options desk.
package models

import "strings"

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	MCX Exchange = "MCX" // Commodity
)

// Underlying is the name of an index or commodity an option is written on.
type Underlying string

const (
	Nifty     Underlying = "NIFTY"
	BankNifty Underlying = "BANKNIFTY"
	FinNifty  Underlying = "FINNIFTY"
)

// ParseUnderlying normalizes user input to an Underlying.
func ParseUnderlying(s string) Underlying {
	return Underlying(strings.ToUpper(strings.TrimSpace(s)))
}

// OptionType represents a call or put.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// ParseOptionType accepts CALL/PUT as well as the broker's CE/PE and C/P notation.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "CE", "C":
		return Call, true
	case "PUT", "PE", "P":
		return Put, true
	default:
		return "", false
	}
}

// Letter returns the single-letter code used inside trading symbols.
func (t OptionType) Letter() string {
	switch t {
	case Call:
		return "C"
	case Put:
		return "P"
	default:
		return ""
	}
}

// Short returns the CE/PE notation.
func (t OptionType) Short() string {
	switch t {
	case Call:
		return "CE"
	case Put:
		return "PE"
	default:
		return ""
	}
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide accepts BUY/SELL and the broker's B/S codes.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return OrderSideBuy, true
	case "SELL", "S":
		return OrderSideSell, true
	default:
		return "", false
	}
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ParseOrderType accepts MARKET/LIMIT and the MKT/LMT codes.
func ParseOrderType(s string) (OrderType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET", "MKT":
		return OrderTypeMarket, true
	case "LIMIT", "LMT":
		return OrderTypeLimit, true
	default:
		return "", false
	}
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)
