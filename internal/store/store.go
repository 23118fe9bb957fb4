// Package store is the crash-recoverable key-value state behind the order engine and risk breaker.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"okx-core/internal/order"
	"okx-core/pkg/db"
)

const (
	prefixPending     = "pending:"
	prefixPendingCl   = "pending_cl:"
	prefixPendingMeta = "pending_meta:"
	prefixDone        = "done:"
	prefixDoneMeta    = "done_meta:"

	KeyHalted          = "halted"
	KeyDailyBaseEquity = "daily_base_equity"
	KeyTradingDay      = "trading_day"
	KeyInstanceOwner   = "instance_owner"
)

var (
	ErrAlreadyFinalized = order.ErrAlreadyFinalized
	ErrOwnedByOther     = errors.New("state store owned by another instance")
)

// Store persists state in the kv table. Every multi-key write is one transaction.
type Store struct {
	db *db.Database
}

func New(database *db.Database) *Store {
	return &Store{db: database}
}

// Database exposes the handle for journal access.
func (s *Store) Database() *db.Database {
	return s.db
}

// Get returns the value for k.
func (s *Store) Get(ctx context.Context, k string) (string, bool, error) {
	var v string
	err := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`SELECT v FROM kv WHERE k = ?`), k).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", k, err)
	}
	return v, true, nil
}

// Set upserts k.
func (s *Store) Set(ctx context.Context, k, v string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.put(ctx, tx, k, v)
	})
}

// SetMany upserts all pairs atomically.
func (s *Store) SetMany(ctx context.Context, kv map[string]string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for k, v := range kv {
			if err := s.put(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes k. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, k string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.del(ctx, tx, k)
	})
}

// SavePending writes the pending triple for p.
func (s *Store) SavePending(ctx context.Context, p order.PendingOrder) error {
	meta, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending: %w", err)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := s.put(ctx, tx, prefixPending+p.Key, p.ClientOrderID); err != nil {
			return err
		}
		if err := s.put(ctx, tx, prefixPendingCl+p.ClientOrderID, p.Key); err != nil {
			return err
		}
		return s.put(ctx, tx, prefixPendingMeta+p.Key, string(meta))
	})
}

// Pending returns the pending order for key.
func (s *Store) Pending(ctx context.Context, key string) (order.PendingOrder, bool, error) {
	raw, ok, err := s.Get(ctx, prefixPendingMeta+key)
	if err != nil || !ok {
		return order.PendingOrder{}, false, err
	}
	var p order.PendingOrder
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return order.PendingOrder{}, false, fmt.Errorf("decode pending %s: %w", key, err)
	}
	return p, true, nil
}

// KeyForClientOrderID maps an exchange client id back to its idempotency key.
func (s *Store) KeyForClientOrderID(ctx context.Context, clientOrderID string) (string, bool, error) {
	return s.Get(ctx, prefixPendingCl+clientOrderID)
}

// ListPending returns every pending order.
func (s *Store) ListPending(ctx context.Context) ([]order.PendingOrder, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.db.Rebind(`SELECT v FROM kv WHERE k LIKE ? ESCAPE '\' ORDER BY k`), likePrefix(prefixPendingMeta))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []order.PendingOrder
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		var p order.PendingOrder
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePending removes the pending triple for key.
func (s *Store) DeletePending(ctx context.Context, key string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.deletePending(ctx, tx, key)
	})
}

// Finalize writes the completion record and clears the pending triple in one transaction.
// A second finalization of the same key returns ErrAlreadyFinalized and changes nothing.
func (s *Store) Finalize(ctx context.Context, rec order.CompletionRecord) error {
	meta, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO kv (k, v, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(k) DO NOTHING
		`), prefixDone+rec.Key, string(rec.Outcome))
		if err != nil {
			return fmt.Errorf("insert done %s: %w", rec.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrAlreadyFinalized
		}
		if err := s.put(ctx, tx, prefixDoneMeta+rec.Key, string(meta)); err != nil {
			return err
		}
		return s.deletePending(ctx, tx, rec.Key)
	})
}

// Completion returns the completion record for key.
func (s *Store) Completion(ctx context.Context, key string) (order.CompletionRecord, bool, error) {
	outcome, ok, err := s.Get(ctx, prefixDone+key)
	if err != nil || !ok {
		return order.CompletionRecord{}, false, err
	}
	rec := order.CompletionRecord{Key: key, Outcome: order.Outcome(outcome)}
	raw, ok, err := s.Get(ctx, prefixDoneMeta+key)
	if err != nil {
		return order.CompletionRecord{}, false, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return order.CompletionRecord{}, false, fmt.Errorf("decode completion %s: %w", key, err)
		}
	}
	return rec, true, nil
}

// ClaimOwner records owner as the single writer of this store. A store already owned by a
// different id is refused unless force is set.
func (s *Store) ClaimOwner(ctx context.Context, owner string, force bool) error {
	current, ok, err := s.Get(ctx, KeyInstanceOwner)
	if err != nil {
		return err
	}
	if ok && current != owner && !force {
		return fmt.Errorf("%w: %s", ErrOwnedByOther, current)
	}
	return s.Set(ctx, KeyInstanceOwner, owner)
}

// AppendJournal records an audit row.
func (s *Store) AppendJournal(ctx context.Context, e db.JournalEntry) error {
	return s.db.AppendJournal(ctx, e)
}

func (s *Store) deletePending(ctx context.Context, tx *sql.Tx, key string) error {
	var cl string
	err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT v FROM kv WHERE k = ?`), prefixPending+key).Scan(&cl)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get pending %s: %w", key, err)
	}
	if cl != "" {
		if err := s.del(ctx, tx, prefixPendingCl+cl); err != nil {
			return err
		}
	}
	if err := s.del(ctx, tx, prefixPending+key); err != nil {
		return err
	}
	return s.del(ctx, tx, prefixPendingMeta+key)
}

// likePrefix builds a LIKE pattern matching keys that start with prefix literally.
func likePrefix(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
}

func (s *Store) put(ctx context.Context, tx *sql.Tx, k, v string) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO kv (k, v, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP
	`), k, v)
	if err != nil {
		return fmt.Errorf("set %s: %w", k, err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, tx *sql.Tx, k string) error {
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM kv WHERE k = ?`), k); err != nil {
		return fmt.Errorf("delete %s: %w", k, err)
	}
	return nil
}

func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
