// Package symbol encodes and decodes the broker's option trading symbols.
//
// The broker writes an option contract as
//
//	{UNDERLYING}{DD}{MMM}{YY}{C|P}{STRIKE}
//
// for example NIFTY04NOV25C24500. Index names may be textual prefixes of one
// another, so decoding always tries the longest name first.
package symbol

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
)

// Namespace tells which family of underlyings a decoded symbol belongs to.
type Namespace string

const (
	NamespaceIndex     Namespace = "INDEX"
	NamespaceCommodity Namespace = "COMMODITY"
)

// DefaultIndices are the index underlyings known to the default codec.
var DefaultIndices = []models.Underlying{
	models.Nifty,
	models.BankNifty,
	models.FinNifty,
	"MIDCPNIFTY",
}

// DefaultCommodities are the MCX underlyings tried when no index matches.
var DefaultCommodities = []models.Underlying{
	"CRUDEOIL",
	"CRUDEOILM",
	"NATURALGAS",
	"GOLD",
	"GOLDM",
	"SILVER",
	"SILVERM",
	"COPPER",
}

var months = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// tailPattern matches everything after the underlying name.
var tailPattern = regexp.MustCompile(`^(\d{2})(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)(\d{2})([CP])([1-9]\d*)$`)

// Decoded is the parsed form of a trading symbol.
type Decoded struct {
	Underlying    models.Underlying
	Namespace     Namespace
	Expiry        time.Time // calendar date at midnight UTC
	ExpiryDisplay string    // DD-MMM-YYYY
	Strike        int
	OptionType    models.OptionType
}

// ParseFailure is returned when a symbol does not match any known pattern.
// It is not fatal: callers show the raw symbol instead.
type ParseFailure struct {
	Symbol string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("unrecognized trading symbol %q", e.Symbol)
}

// Codec encodes and decodes trading symbols for a fixed set of underlyings.
type Codec struct {
	indices     []models.Underlying // longest first
	commodities []models.Underlying // longest first
	known       map[models.Underlying]Namespace
}

// NewCodec creates a codec for the given index and commodity underlyings.
func NewCodec(indices, commodities []models.Underlying) *Codec {
	c := &Codec{
		indices:     longestFirst(indices),
		commodities: longestFirst(commodities),
		known:       make(map[models.Underlying]Namespace, len(indices)+len(commodities)),
	}
	for _, u := range c.commodities {
		c.known[u] = NamespaceCommodity
	}
	for _, u := range c.indices {
		c.known[u] = NamespaceIndex
	}
	return c
}

func longestFirst(names []models.Underlying) []models.Underlying {
	out := make([]models.Underlying, 0, len(names))
	seen := make(map[models.Underlying]bool, len(names))
	for _, n := range names {
		n = models.ParseUnderlying(string(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Supports reports whether the codec can encode the underlying.
func (c *Codec) Supports(u models.Underlying) bool {
	_, ok := c.known[u]
	return ok
}

// Encode builds the trading symbol for an option contract. The symbol carries
// a two-digit year, so expiries must fall in 2000 to 2099.
func (c *Codec) Encode(u models.Underlying, expiry time.Time, t models.OptionType, strike int) (string, error) {
	if !c.Supports(u) {
		return "", errors.NewInvalidInput("underlying", u, "unsupported underlying")
	}
	if strike <= 0 {
		return "", errors.NewInvalidInput("strike", strike, "strike must be positive")
	}
	letter := t.Letter()
	if letter == "" {
		return "", errors.NewInvalidInput("option_type", t, "option type must be CALL or PUT")
	}

	y, m, d := expiry.Date()
	if y < 2000 || y > 2099 {
		return "", errors.NewInvalidInput("expiry", expiry.Format("2006-01-02"), "expiry year must be between 2000 and 2099")
	}
	return fmt.Sprintf("%s%02d%s%02d%s%d", u, d, months[m-1], y%100, letter, strike), nil
}

// Decode parses a trading symbol. Index names are tried first, longest name
// first, then the commodity namespace. A *ParseFailure is returned when
// nothing matches.
func (c *Codec) Decode(sym string) (Decoded, error) {
	s := strings.ToUpper(strings.TrimSpace(sym))

	if d, ok := decodeWith(s, c.indices, NamespaceIndex); ok {
		return d, nil
	}
	if d, ok := decodeWith(s, c.commodities, NamespaceCommodity); ok {
		return d, nil
	}
	return Decoded{}, &ParseFailure{Symbol: sym}
}

func decodeWith(s string, names []models.Underlying, ns Namespace) (Decoded, bool) {
	for _, name := range names {
		if !strings.HasPrefix(s, string(name)) {
			continue
		}
		m := tailPattern.FindStringSubmatch(s[len(name):])
		if m == nil {
			continue
		}

		day, _ := strconv.Atoi(m[1])
		month := monthIndex(m[2])
		year, _ := strconv.Atoi(m[3])
		expiry := time.Date(2000+year, month, day, 0, 0, 0, 0, time.UTC)
		if expiry.Day() != day || expiry.Month() != month {
			// 31FEB and friends
			continue
		}

		strike, err := strconv.Atoi(m[5])
		if err != nil {
			continue
		}

		optType := models.Call
		if m[4] == "P" {
			optType = models.Put
		}

		return Decoded{
			Underlying:    name,
			Namespace:     ns,
			Expiry:        expiry,
			ExpiryDisplay: FormatExpiry(expiry),
			Strike:        strike,
			OptionType:    optType,
		}, true
	}
	return Decoded{}, false
}

func monthIndex(mmm string) time.Month {
	for i, m := range months {
		if m == mmm {
			return time.Month(i + 1)
		}
	}
	return 0
}

// FormatExpiry renders an expiry as DD-MMM-YYYY.
func FormatExpiry(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%02d-%s-%04d", d, months[m-1], y)
}

// Display returns a human label for a symbol, or the raw symbol when it
// cannot be decoded.
func (c *Codec) Display(sym string) string {
	d, err := c.Decode(sym)
	if err != nil {
		return sym
	}
	return fmt.Sprintf("%s %s %d %s", d.Underlying, d.ExpiryDisplay, d.Strike, d.OptionType.Short())
}

var defaultCodec = NewCodec(DefaultIndices, DefaultCommodities)

// Default returns the codec for the built-in underlyings.
func Default() *Codec {
	return defaultCodec
}

// Encode builds a trading symbol with the default codec.
func Encode(u models.Underlying, expiry time.Time, t models.OptionType, strike int) (string, error) {
	return defaultCodec.Encode(u, expiry, t, strike)
}

// Decode parses a trading symbol with the default codec.
func Decode(sym string) (Decoded, error) {
	return defaultCodec.Decode(sym)
}

// Display labels a trading symbol with the default codec.
func Display(sym string) string {
	return defaultCodec.Display(sym)
}
