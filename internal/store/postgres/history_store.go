package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// HistoryStore archives emitted order completions. The pending set
// lives in the key-value settings store; this table is the long-term
// record of everything that left it.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// SaveCompletion inserts one completion record.
func (s *HistoryStore) SaveCompletion(ctx context.Context, c domain.OrderCompletion) error {
	const query = `
		INSERT INTO order_history (
			exchange, client_order_id, pair, amount, price,
			status, fee, fee_currency, fee_estimated, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		c.Exchange, c.ClientOrderID, c.Pair, c.Amount, c.Price,
		string(c.Status), c.Fee, c.FeeCurrency, c.FeeEstimated, c.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: save completion %d: %w", c.ClientOrderID, err)
	}
	return nil
}

// HistoryEntry is one archived completion with its archival time.
type HistoryEntry struct {
	domain.OrderCompletion
	CompletedAt time.Time
}

// Recent returns the newest completions for an exchange, newest first.
func (s *HistoryStore) Recent(ctx context.Context, exchange string, limit int) ([]HistoryEntry, error) {
	const query = `
		SELECT exchange, client_order_id, pair, amount, price,
		       status, fee, fee_currency, fee_estimated, reason, completed_at
		FROM order_history
		WHERE exchange = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, exchange, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent completions: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var status string
		if err := rows.Scan(
			&e.Exchange, &e.ClientOrderID, &e.Pair, &e.Amount, &e.Price,
			&status, &e.Fee, &e.FeeCurrency, &e.FeeEstimated, &e.Reason, &e.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan completion: %w", err)
		}
		e.Status = domain.OrderStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent completions: %w", err)
	}
	return out, nil
}
