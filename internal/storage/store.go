package storage

import (
	"context"
	"errors"

	"spot_trader/internal/models"
)

// ErrPersistence wraps every failed durable write or unreadable store.
var ErrPersistence = errors.New("persistence failure")

// Store is the durable position table, keyed by symbol. Save is atomic per
// key: after a crash the store holds either the old or the new Position.
type Store interface {
	Load(ctx context.Context) (map[string]models.Position, error)
	Save(ctx context.Context, p models.Position) error
	Delete(ctx context.Context, symbol string) error
	Close() error
}

// Journal receives one record per closed trade.
type Journal interface {
	Record(ctx context.Context, rec models.TradeRecord) error
}

// History reads back the most recent closed trades, newest first.
type History interface {
	Recent(ctx context.Context, n int) ([]models.TradeRecord, error)
}

// LiveCount returns the number of positions in PENDING_ENTRY, OPEN or TRAILING.
func LiveCount(positions map[string]models.Position) int {
	n := 0
	for _, p := range positions {
		if p.State.IsLive() {
			n++
		}
	}
	return n
}
