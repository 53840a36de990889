// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fno-desk/internal/config"
	"fno-desk/internal/errors"
	"fno-desk/internal/models"
)

// BasketKey is the key the staged basket is stored under.
const BasketKey = "basket:v1"

const snapshotVersion = 1

// KVStore is a minimal key/value store. Get returns errors.ErrDataNotFound
// when the key has never been written.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open creates the snapshot store selected in configuration.
func Open(cfg config.BasketConfig) (KVStore, error) {
	switch cfg.Store {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown basket store %q", errors.ErrConfigInvalid, cfg.Store)
	}
}

type basketSnapshot struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"saved_at"`
	Orders  []models.StagedOrder `json:"orders"`
}

// BasketSnapshots persists the whole basket as a single JSON document so a
// save is one overwrite and never leaves a partial basket behind.
type BasketSnapshots struct {
	kv  KVStore
	key string
}

// NewBasketSnapshots creates a snapshot store on top of kv.
func NewBasketSnapshots(kv KVStore) *BasketSnapshots {
	return &BasketSnapshots{kv: kv, key: BasketKey}
}

// Save writes the basket, replacing any previous snapshot.
func (s *BasketSnapshots) Save(ctx context.Context, orders []models.StagedOrder) error {
	if orders == nil {
		orders = []models.StagedOrder{}
	}
	data, err := json.Marshal(basketSnapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Orders:  orders,
	})
	if err != nil {
		return errors.NewPersistenceError("encode", s.key, err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return errors.NewPersistenceError("write", s.key, err)
	}
	return nil
}

// Load reads the basket. A basket that was never saved loads as empty; a
// snapshot that cannot be decoded is reported as a PersistenceError.
func (s *BasketSnapshots) Load(ctx context.Context) ([]models.StagedOrder, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, errors.ErrDataNotFound) {
			return []models.StagedOrder{}, nil
		}
		return nil, errors.NewPersistenceError("read", s.key, err)
	}

	var snap basketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewPersistenceError("decode", s.key, err)
	}
	if snap.Version != snapshotVersion {
		return nil, errors.NewPersistenceError("decode", s.key,
			fmt.Errorf("unsupported snapshot version %d", snap.Version))
	}
	if snap.Orders == nil {
		snap.Orders = []models.StagedOrder{}
	}
	return snap.Orders, nil
}
