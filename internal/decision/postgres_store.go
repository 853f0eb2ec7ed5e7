package decision

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// reasonsSeparator matches spec.md §6.4's pipe-delimited reasons_csv
// column; reason tags never contain '|' themselves.
const reasonsSeparator = "|"

// PostgresStore is a durable Store backed by the fraud_decisions table
// (migrations/0001_create_fraud_decisions.sql). Idempotency is enforced
// by the table's primary key: a duplicate insert is caught and turned
// into a no-op rather than an error.
type PostgresStore struct {
	db *sql.DB
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, reasonsSeparator)
}

func splitReasons(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, reasonsSeparator)
}

// NewPostgresStore wraps an existing DB handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Exists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM fraud_decisions WHERE transaction_id = $1)`,
		transactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("decision: exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Save(ctx context.Context, d transaction.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_decisions
			(transaction_id, user_id, decision, score, reasons_csv, latency_ms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`, d.TransactionID, d.UserID, string(d.Decision), d.Score, joinReasons(d.Reasons), d.LatencyMs, d.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("decision: save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]transaction.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, decision, score, reasons_csv, latency_ms, evaluated_at
		FROM fraud_decisions
		ORDER BY evaluated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("decision: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []transaction.Decision
	for rows.Next() {
		var d transaction.Decision
		var category string
		var reasonsCSV string
		if err := rows.Scan(&d.TransactionID, &d.UserID, &category, &d.Score, &reasonsCSV, &d.LatencyMs, &d.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("decision: scan: %w", err)
		}
		d.Decision = transaction.Category(category)
		d.Reasons = splitReasons(reasonsCSV)
		out = append(out, d)
	}
	return out, rows.Err()
}
