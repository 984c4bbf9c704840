package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"registrar/internal/identity"
)

// PostgresPendingIdentities persists pending identities as JSONB rows keyed by
// pub key, so the projection survives restarts losslessly.
type PostgresPendingIdentities struct {
	pool *pgxpool.Pool
}

func NewPostgresPendingIdentities(pool *pgxpool.Pool) *PostgresPendingIdentities {
	return &PostgresPendingIdentities{pool: pool}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresPendingIdentities) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pending_identities (
			pub_key    TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure pending_identities schema: %w", err)
	}
	return nil
}

func (s *PostgresPendingIdentities) Save(ctx context.Context, ident identity.OnChainIdentity) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode pending identity: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pending_identities (pub_key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pub_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		string(ident.PubKey), data)
	if err != nil {
		return fmt.Errorf("save pending identity: %w", err)
	}
	return nil
}

func (s *PostgresPendingIdentities) All(ctx context.Context) ([]identity.OnChainIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM pending_identities ORDER BY updated_at, pub_key`)
	if err != nil {
		return nil, fmt.Errorf("list pending identities: %w", err)
	}
	defer rows.Close()

	var out []identity.OnChainIdentity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan pending identity: %w", err)
		}
		var ident identity.OnChainIdentity
		if err := json.Unmarshal(data, &ident); err != nil {
			return nil, fmt.Errorf("decode pending identity: %w", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending identities: %w", err)
	}
	return out, nil
}

func (s *PostgresPendingIdentities) Remove(ctx context.Context, pk identity.PubKey) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM pending_identities WHERE pub_key = $1`, string(pk)); err != nil {
		return fmt.Errorf("remove pending identity: %w", err)
	}
	return nil
}
