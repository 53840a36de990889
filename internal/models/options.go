package models

import "time"

// OptionChain represents an option chain for one underlying and expiry.
type OptionChain struct {
	Underlying Underlying
	SpotPrice  float64
	Expiry     time.Time
	Strikes    []OptionStrike
}

// OptionStrike represents a single strike in the option chain.
type OptionStrike struct {
	Strike float64
	Call   *OptionData
	Put    *OptionData
}

// OptionData represents market data for a single contract.
type OptionData struct {
	TradingSymbol string
	LTP           float64
	OI            int64
	Volume        int64
	LotSize       int
}

// StrikePrices returns the raw strike prices of the chain in chain order.
func (c *OptionChain) StrikePrices() []float64 {
	out := make([]float64, len(c.Strikes))
	for i, s := range c.Strikes {
		out[i] = s.Strike
	}
	return out
}

// Find returns the row for a strike, if present.
func (c *OptionChain) Find(strike int) (OptionStrike, bool) {
	for _, s := range c.Strikes {
		if int(s.Strike+0.5) == strike {
			return s, true
		}
	}
	return OptionStrike{}, false
}
