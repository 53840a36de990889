// Package trading provides the order basket and option chain services.
package trading

import (
	"sort"
	"strings"
	"time"

	"fno-desk/internal/config"
	"fno-desk/internal/models"
	"fno-desk/internal/symbol"
)

// Contract describes how options on one underlying are listed.
type Contract struct {
	Underlying     models.Underlying
	LotSize        int
	StrikeInterval int
	TickSize       float64
	Exchange       models.Exchange
	ExpiryWeekday  time.Weekday
	Commodity      bool
}

// InstrumentTable holds the tradable contracts and the symbol codec that
// knows their names.
type InstrumentTable struct {
	contracts map[models.Underlying]Contract
	codec     *symbol.Codec
}

// NewInstrumentTable builds a table from configured instruments.
func NewInstrumentTable(instruments map[string]config.InstrumentConfig) *InstrumentTable {
	t := &InstrumentTable{contracts: make(map[models.Underlying]Contract, len(instruments))}

	indices := append([]models.Underlying{}, symbol.DefaultIndices...)
	commodities := append([]models.Underlying{}, symbol.DefaultCommodities...)

	for name, ic := range instruments {
		u := models.ParseUnderlying(name)
		weekday, ok := ParseWeekday(ic.ExpiryWeekday)
		if !ok {
			weekday = time.Thursday
		}
		exchange := models.Exchange(strings.ToUpper(ic.Exchange))
		if exchange == "" {
			exchange = models.NFO
		}
		t.contracts[u] = Contract{
			Underlying:     u,
			LotSize:        ic.LotSize,
			StrikeInterval: ic.StrikeInterval,
			TickSize:       ic.TickSize,
			Exchange:       exchange,
			ExpiryWeekday:  weekday,
			Commodity:      ic.Commodity,
		}
		if ic.Commodity {
			commodities = append(commodities, u)
		} else {
			indices = append(indices, u)
		}
	}

	t.codec = symbol.NewCodec(indices, commodities)
	return t
}

// DefaultInstrumentTable returns the table for the built-in instruments.
func DefaultInstrumentTable() *InstrumentTable {
	return NewInstrumentTable(config.DefaultInstruments())
}

// Lookup returns the contract for an underlying.
func (t *InstrumentTable) Lookup(u models.Underlying) (Contract, bool) {
	c, ok := t.contracts[u]
	return c, ok
}

// Underlyings returns the configured underlyings in name order.
func (t *InstrumentTable) Underlyings() []models.Underlying {
	out := make([]models.Underlying, 0, len(t.contracts))
	for u := range t.contracts {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Codec returns the symbol codec for this table.
func (t *InstrumentTable) Codec() *symbol.Codec {
	return t.codec
}
