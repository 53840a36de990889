// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fno-desk/internal/config"
	"fno-desk/internal/errors"
	"fno-desk/internal/models"
	"fno-desk/internal/store"
	"fno-desk/internal/trading"
)

// Broker defines the interface for broker operations.
type Broker interface {
	// Name identifies the broker in logs and output.
	Name() string

	// Market Data
	GetSpotPrice(ctx context.Context, underlying models.Underlying) (float64, error)
	GetOptionChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error)

	// Orders
	PlaceOrder(ctx context.Context, order models.StagedOrder) (*models.OrderAck, error)
	GetOrders(ctx context.Context) ([]models.Order, error)

	// Account
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetMargins(ctx context.Context) (*models.Margins, error)
}

// Options carries the optional collaborators used when building a broker.
type Options struct {
	Logger      zerolog.Logger
	Instruments *trading.InstrumentTable
	// State keeps the paper book across runs.
	State store.KVStore
	// Redis, when set, shares spot prices between processes.
	Redis *redis.Client
}

// New builds the broker selected in configuration, wrapped in a spot-price
// cache.
func New(cfg *config.Config, opts Options) (Broker, error) {
	instruments := opts.Instruments
	if instruments == nil {
		instruments = trading.NewInstrumentTable(cfg.Instruments)
	}
	paper := func(data Broker) Broker {
		return NewPaperBroker(PaperBrokerConfig{
			DataBroker:  data,
			Instruments: instruments,
			State:       opts.State,
			Logger:      opts.Logger,
		})
	}

	var b Broker
	switch cfg.Trading.Broker {
	case "", "paper":
		b = paper(nil)
	case "flattrade":
		creds := cfg.Credentials.Flattrade
		b = NewFlattradeBroker(FlattradeConfig{
			BaseURL:     creds.BaseURL,
			UserID:      creds.UserID,
			Token:       creds.Token,
			Instruments: instruments,
			Logger:      opts.Logger,
		})
	case "zerodha":
		creds := cfg.Credentials.Zerodha
		b = NewZerodhaBroker(ZerodhaConfig{
			APIKey:      creds.APIKey,
			AccessToken: creds.AccessToken,
			Instruments: instruments,
			Logger:      opts.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: unknown broker %q", errors.ErrConfigInvalid, cfg.Trading.Broker)
	}

	// Paper mode on a live data broker simulates fills against real prices
	if cfg.Trading.Mode == "paper" && b.Name() != "paper" {
		b = paper(b)
	}

	var shared SpotCache
	if opts.Redis != nil {
		shared = NewRedisSpotCache(opts.Redis, "fno-desk:spot:")
	}
	return NewCachedSpot(b, cfg.Chain.SpotCacheTTL, shared), nil
}
