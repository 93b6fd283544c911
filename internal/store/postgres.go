package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saffronlab/loom/internal/domain"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	updated_at BIGINT NOT NULL DEFAULT 0
)`

// PostgresBackend keeps project records in a single table with a JSONB
// payload column.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Get(ctx context.Context, id domain.RoomID) (*Record, error) {
	var rec Record
	err := b.pool.QueryRow(ctx,
		`SELECT payload, updated_at FROM projects WHERE id = $1`, string(id),
	).Scan(&rec.Raw, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &rec, nil
}

func (b *PostgresBackend) Put(ctx context.Context, id domain.RoomID, rec Record) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO projects (id, payload, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		string(id), rec.Raw, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put project %s: %w", id, err)
	}
	return nil
}

func (b *PostgresBackend) List(ctx context.Context) ([]Summary, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, updated_at, length(payload::text) FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var id string
		if err := rows.Scan(&id, &s.UpdatedAt, &s.Bytes); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		s.ID = domain.RoomID(id)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Delete(ctx context.Context, id domain.RoomID) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
