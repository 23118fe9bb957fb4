package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrKeyRequired = errors.New("idempotency key is required")

// JournalEntry is one audit row of an order's life.
type JournalEntry struct {
	ID            string
	Key           string
	ClientOrderID string
	InstID        string
	Side          string
	Qty           float64
	Event         string
	Detail        string
	CreatedAt     time.Time
}

// AppendJournal records e. An empty ID is filled with a ULID, which sorts in write order
// within the process.
func (d *Database) AppendJournal(ctx context.Context, e JournalEntry) error {
	if e.Key == "" {
		return ErrKeyRequired
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	_, err := d.DB.ExecContext(ctx, d.Rebind(`
		INSERT INTO order_journal (id, idem_key, client_order_id, inst_id, side, qty, event, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.Key, e.ClientOrderID, e.InstID, e.Side, e.Qty, e.Event, e.Detail)
	if err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}
	return nil
}

// JournalByKey returns the entries for one idempotency key, oldest first.
func (d *Database) JournalByKey(ctx context.Context, key string) ([]JournalEntry, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	return d.queryJournal(ctx, d.Rebind(`
		SELECT id, idem_key, client_order_id, inst_id, side, qty, event, detail, created_at
		FROM order_journal
		WHERE idem_key = ?
		ORDER BY created_at ASC, id ASC
	`), key)
}

// RecentJournal returns the latest limit entries, newest first.
func (d *Database) RecentJournal(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.queryJournal(ctx, d.Rebind(`
		SELECT id, idem_key, client_order_id, inst_id, side, qty, event, detail, created_at
		FROM order_journal
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), limit)
}

func (d *Database) queryJournal(ctx context.Context, query string, args ...any) ([]JournalEntry, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.ClientOrderID, &e.InstID, &e.Side, &e.Qty, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
