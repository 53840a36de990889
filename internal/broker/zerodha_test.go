package broker

import (
	"context"
	"testing"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/trading"
)

func kiteOption(name, tsym, typ string, strike float64, expiry time.Time) kiteconnect.Instrument {
	return kiteconnect.Instrument{
		Tradingsymbol:  tsym,
		Name:           name,
		Expiry:         kitemodels.Time{Time: expiry},
		StrikePrice:    strike,
		LotSize:        75,
		InstrumentType: typ,
		Exchange:       "NFO",
	}
}

func sampleDump() []kiteconnect.Instrument {
	nov4 := time.Date(2025, time.November, 4, 0, 0, 0, 0, time.UTC)
	nov11 := time.Date(2025, time.November, 11, 0, 0, 0, 0, time.UTC)
	return []kiteconnect.Instrument{
		kiteOption("NIFTY", "NIFTY25N0424550CE", "CE", 24550, nov4),
		kiteOption("NIFTY", "NIFTY25N0424500CE", "CE", 24500, nov4),
		kiteOption("NIFTY", "NIFTY25N0424500PE", "PE", 24500, nov4),
		kiteOption("NIFTY", "NIFTY25N1124500CE", "CE", 24500, nov11),
		kiteOption("BANKNIFTY", "BANKNIFTY25N0424500CE", "CE", 24500, nov4),
	}
}

func TestContractsFor(t *testing.T) {
	table := trading.DefaultInstrumentTable()
	nifty, _ := table.Lookup(models.Nifty)

	got := contractsFor(sampleDump(), nifty, time.Date(2025, time.November, 4, 0, 0, 0, 0, time.UTC))
	if len(got) != 3 {
		t.Fatalf("got %d contracts, want 3", len(got))
	}
	if got[0].StrikePrice != 24500 || got[2].StrikePrice != 24550 {
		t.Errorf("contracts not sorted by strike: %v, %v", got[0].StrikePrice, got[2].StrikePrice)
	}
}

func TestResolveContract(t *testing.T) {
	table := trading.DefaultInstrumentTable()
	nifty, _ := table.Lookup(models.Nifty)

	order := models.StagedOrder{
		Underlying: models.Nifty,
		Expiry:     time.Date(2025, time.November, 4, 0, 0, 0, 0, time.UTC),
		Strike:     24500,
		OptionType: models.Put,
	}
	inst, ok := resolveContract(sampleDump(), nifty, order)
	if !ok || inst.Tradingsymbol != "NIFTY25N0424500PE" {
		t.Errorf("resolveContract() = %q, %v", inst.Tradingsymbol, ok)
	}

	order.Strike = 24600
	if _, ok := resolveContract(sampleDump(), nifty, order); ok {
		t.Error("resolveContract() found an unlisted strike")
	}
}

func TestZerodha_RequiresAccessToken(t *testing.T) {
	z := NewZerodhaBroker(ZerodhaConfig{APIKey: "key"})
	ctx := context.Background()

	if _, err := z.GetSpotPrice(ctx, models.Nifty); !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Errorf("GetSpotPrice() error = %v", err)
	}
	if _, err := z.PlaceOrder(ctx, models.StagedOrder{}); !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Errorf("PlaceOrder() error = %v", err)
	}
	if _, err := z.GetMargins(ctx); !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Errorf("GetMargins() error = %v", err)
	}
}

func TestKiteError(t *testing.T) {
	token := kiteError(kiteconnect.Error{ErrorType: kiteconnect.TokenError, Message: "Incorrect api_key or access_token."}, nil)
	if !errors.Is(token, errors.ErrNotAuthenticated) {
		t.Errorf("token error = %v", token)
	}

	rejected := kiteError(kiteconnect.Error{ErrorType: kiteconnect.InputError, Message: "Markets are closed right now."}, errors.ErrOrderRejected)
	var brokerErr *errors.BrokerError
	if !errors.Is(rejected, errors.ErrOrderRejected) || !errors.As(rejected, &brokerErr) || brokerErr.Message != "Markets are closed right now." {
		t.Errorf("input error = %v", rejected)
	}
}
