package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fno-desk/internal/errors"
	"fno-desk/internal/logging"
	"fno-desk/internal/models"
	"fno-desk/internal/strikes"
)

// ChainSource supplies the market data the chain view is built from.
type ChainSource interface {
	GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error)
	GetOptionChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error)
}

// ChainRow is one displayed strike with both legs.
type ChainRow struct {
	Strike    int
	Call      *models.OptionData
	Put       *models.OptionData
	IsATM     bool
	NearMoney bool
}

// ChainView is the option chain trimmed to the strikes around the money.
type ChainView struct {
	Underlying models.Underlying
	Expiry     time.Time
	Spot       float64
	Window     strikes.Window
	Rows       []ChainRow
}

// ChainService combines the option chain and spot price into a strike window.
type ChainService struct {
	source      ChainSource
	instruments *InstrumentTable
	logger      zerolog.Logger
}

// NewChainService creates a chain service.
func NewChainService(source ChainSource, instruments *InstrumentTable, logger zerolog.Logger) *ChainService {
	if instruments == nil {
		instruments = DefaultInstrumentTable()
	}
	return &ChainService{
		source:      source,
		instruments: instruments,
		logger:      logger.With().Str("operation", "chain").Logger(),
	}
}

// Window fetches the chain and spot price concurrently and returns up to size
// strikes centered on the at-the-money strike. If the spot request fails the
// spot carried by the chain response is used instead.
func (s *ChainService) Window(ctx context.Context, underlying models.Underlying, expiry time.Time, size int) (*ChainView, error) {
	contract, ok := s.instruments.Lookup(underlying)
	if !ok {
		return nil, errors.NewValidationError("underlying", underlying, "unknown underlying")
	}
	expiry = NormalizeExpiry(expiry)

	var (
		chain   *models.OptionChain
		spot    float64
		spotErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.source.GetOptionChain(gctx, underlying, expiry)
		if err != nil {
			return fmt.Errorf("fetching option chain for %s: %w", underlying, err)
		}
		chain = c
		return nil
	})
	g.Go(func() error {
		spot, spotErr = s.source.GetSpotPrice(gctx, underlying)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if chain == nil {
		chain = &models.OptionChain{Underlying: underlying, Expiry: expiry}
	}

	if spotErr != nil || spot <= 0 {
		if chain.SpotPrice <= 0 {
			if spotErr == nil {
				spotErr = errors.ErrDataNotFound
			}
			return nil, fmt.Errorf("fetching spot price for %s: %w", underlying, spotErr)
		}
		log := logging.WithSymbol(s.logger, string(underlying))
		log.Warn().Err(spotErr).Msg("Using spot price from option chain")
		spot = chain.SpotPrice
	}

	byStrike := make(map[int]models.OptionStrike, len(chain.Strikes))
	for _, row := range chain.Strikes {
		k := strikes.SnapStrike(row.Strike, contract.StrikeInterval)
		existing, ok := byStrike[k]
		if !ok {
			byStrike[k] = row
			continue
		}
		// Legs for one strike may arrive as separate rows
		if existing.Call == nil {
			existing.Call = row.Call
		}
		if existing.Put == nil {
			existing.Put = row.Put
		}
		byStrike[k] = existing
	}

	available := strikes.NormalizeStrikes(chain.StrikePrices(), contract.StrikeInterval)
	window := strikes.SelectWindow(available, spot, size, contract.StrikeInterval)

	rows := make([]ChainRow, 0, len(window.Displayed))
	for _, k := range window.Displayed {
		row := byStrike[k]
		rows = append(rows, ChainRow{
			Strike:    k,
			Call:      row.Call,
			Put:       row.Put,
			IsATM:     window.HasATM && k == window.ATMStrike,
			NearMoney: window.IsNearMoney(k),
		})
	}

	return &ChainView{
		Underlying: underlying,
		Expiry:     expiry,
		Spot:       spot,
		Window:     window,
		Rows:       rows,
	}, nil
}
