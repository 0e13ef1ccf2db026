package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solwatch/solwatch/service/ledger"
)

// Store provides Postgres-backed persistence for transfer records.
// Postgres serializes the writes; the store itself holds no mutable state
// beyond the connection pool, so it is safe for concurrent use by the
// poller and the query API.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// schema is the persistent structure for transfer records. The signature is
// the natural key: the poller re-observes recent signatures on every cycle
// within its lookback window, and the primary key is what makes those
// re-observations idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	signature      TEXT PRIMARY KEY,
	sender         TEXT NOT NULL,
	receiver       TEXT NOT NULL,
	sol_amount     BIGINT NOT NULL,
	fee            BIGINT NOT NULL,
	timestamp      BIGINT NOT NULL,
	prev_blockhash TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the persistent structure if it is absent. It is
// idempotent and called on every process start; failure here is fatal for
// the process, unlike every other storage error.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertTransfer appends a validated record. Inserting a record whose
// signature is already stored is a no-op, reported via the returned bool so
// callers can distinguish new rows from re-observations.
func (s *Store) InsertTransfer(ctx context.Context, rec ledger.TransferRecord) (bool, error) {
	// BIGINT is signed; amounts and fees are lamport values, and the total
	// lamport supply is around 2^59, so the conversion cannot wrap.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (signature, sender, receiver, sol_amount, fee, timestamp, prev_blockhash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (signature) DO NOTHING`,
		rec.Signature,
		rec.Sender,
		rec.Receiver,
		int64(rec.Amount),
		int64(rec.Fee),
		rec.Timestamp,
		rec.PrevBlockHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transfer %s: %w", rec.Signature, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListTransfers returns every stored record. Ordering is by signature,
// which is stable within one call; persisted order carries no meaning
// beyond that.
func (s *Store) ListTransfers(ctx context.Context) ([]ledger.TransferRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT signature, sender, receiver, sol_amount, fee, timestamp, prev_blockhash
		 FROM transactions
		 ORDER BY signature`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var records []ledger.TransferRecord
	for rows.Next() {
		var rec ledger.TransferRecord
		var amount, fee int64
		if err := rows.Scan(
			&rec.Signature,
			&rec.Sender,
			&rec.Receiver,
			&amount,
			&fee,
			&rec.Timestamp,
			&rec.PrevBlockHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer row: %w", err)
		}
		rec.Amount = uint64(amount)
		rec.Fee = uint64(fee)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transfer rows: %w", err)
	}
	return records, nil
}

// CountTransfers returns the number of stored records.
func (s *Store) CountTransfers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

// DeleteTransfersBefore removes records whose block time is older than the
// given Unix timestamp. Used by the retention pass to keep the store
// aligned with the bounded recent window the service monitors.
func (s *Store) DeleteTransfersBefore(ctx context.Context, unixSeconds int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE timestamp < $1`, unixSeconds)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transfers: %w", err)
	}
	return tag.RowsAffected(), nil
}
