package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a Store backed by an embedded Pebble database. Order,
// trade and cancel rows are keyed <table>/<symbol>/<timestamp>/<id> and
// ticker rows tickers/<symbol>/<timestamp>, so per-symbol scans come back
// in time order; market rows are keyed markets/<symbol>.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// WriteBatch writes all rows of the batch atomically and synced.
func (s *PebbleStore) WriteBatch(ctx context.Context, batch *Batch) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, row := range batch.Orders {
		key := fmt.Sprintf("orders/%s/%020d/%020d", row.Symbol, row.UpdatedTs.UnixNano(), row.OrderID)
		if err := set(b, key, row); err != nil {
			return err
		}
	}

	for _, row := range batch.Trades {
		key := fmt.Sprintf("trades/%s/%020d/%020d", row.Symbol, row.Ts.UnixNano(), row.TradeID)
		if err := set(b, key, row); err != nil {
			return err
		}
	}

	for _, row := range batch.Cancels {
		key := fmt.Sprintf("cancel_orders/%s/%020d/%020d", row.Symbol, row.Ts.UnixNano(), row.OrderID)
		if err := set(b, key, row); err != nil {
			return err
		}
	}

	for _, row := range batch.Tickers {
		key := fmt.Sprintf("tickers/%s/%020d", row.Symbol, row.Ts.UnixNano())
		if err := set(b, key, row); err != nil {
			return err
		}
	}

	for _, row := range batch.Markets {
		key := fmt.Sprintf("markets/%s", row.Symbol)
		if err := set(b, key, row); err != nil {
			return err
		}
	}

	return s.db.Apply(b, pebble.Sync)
}

func set(b *pebble.Batch, key string, row any) error {
	value, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return b.Set([]byte(key), value, nil)
}
