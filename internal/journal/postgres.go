package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the journal in a PostgreSQL table, so several API
// instances share replays.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS submission_journal (
    key TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    outcome TEXT NOT NULL,
    tx_id TEXT NOT NULL DEFAULT '',
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submission_journal_actor ON submission_journal (lower(actor), created_at DESC);
`

const selectColumns = `key, action, actor, outcome, tx_id, status_code, response, created_at, expires_at`

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.Key, &e.Action, &e.Actor, &e.Outcome, &e.TxID, &e.StatusCode, &e.Response, &e.CreatedAt, &e.ExpiresAt)
	return e, err
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM submission_journal WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.expired(time.Now()) {
		go p.deleteKey(context.Background(), key)
		return nil, nil
	}
	return &e, nil
}

func (p *PostgresStore) Save(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errEmptyKey
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO submission_journal (`+selectColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (key) DO UPDATE
SET outcome = EXCLUDED.outcome,
    tx_id = EXCLUDED.tx_id,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    expires_at = EXCLUDED.expires_at
`, e.Key, e.Action, e.Actor, e.Outcome, e.TxID, e.StatusCode, e.Response, e.CreatedAt, e.ExpiresAt)
	return err
}

// Reserve inserts entry, overwriting only an expired row. No returned row
// means a live entry holds the key.
func (p *PostgresStore) Reserve(ctx context.Context, e Entry) (*Entry, error) {
	if e.Key == "" {
		return nil, errEmptyKey
	}
	var key string
	err := p.pool.QueryRow(ctx, `
INSERT INTO submission_journal (`+selectColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (key) DO UPDATE
SET action = EXCLUDED.action,
    actor = EXCLUDED.actor,
    outcome = EXCLUDED.outcome,
    tx_id = EXCLUDED.tx_id,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
WHERE submission_journal.expires_at <= EXCLUDED.created_at
RETURNING key
`, e.Key, e.Action, e.Actor, e.Outcome, e.TxID, e.StatusCode, e.Response, e.CreatedAt, e.ExpiresAt).Scan(&key)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	existing, err := p.Get(ctx, e.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrContended
	}
	return existing, nil
}

func (p *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM submission_journal WHERE key = $1 AND outcome = $2`, key, OutcomePending)
	return err
}

func (p *PostgresStore) ByActor(ctx context.Context, actor string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM submission_journal
WHERE lower(actor) = lower($1) AND expires_at > now()
ORDER BY created_at DESC
LIMIT $2
`, actor, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		return scanEntry(row)
	})
}

func (p *PostgresStore) deleteKey(ctx context.Context, key string) {
	_, _ = p.pool.Exec(ctx, `DELETE FROM submission_journal WHERE key = $1`, key)
}
