package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"registrar/internal/verifier"
)

// PostgresLog is the durable event log. Events are append-only JSONB rows; the
// sequence column fixes replay order.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identity_verifications (
			seq          BIGSERIAL PRIMARY KEY,
			event_id     UUID NOT NULL UNIQUE,
			data         JSONB NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure identity_verifications schema: %w", err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, events ...verifier.IdentityVerification) error {
	batch := &pgx.Batch{}
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", event.ID, err)
		}
		batch.Queue(
			`INSERT INTO identity_verifications (event_id, data) VALUES ($1, $2)`,
			event.ID, data)
	}
	if err := l.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

func (l *PostgresLog) All(ctx context.Context) ([]verifier.IdentityVerification, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT data FROM identity_verifications ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []verifier.IdentityVerification
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event verifier.IdentityVerification
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
