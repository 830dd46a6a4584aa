package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/agentvisor/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver. It lets
// several hosts' tooling share one registry while workers stay local.
// The schema is created on first use so New never dials the server.
type DB struct {
	db *sql.DB

	mu     sync.Mutex
	schema bool
}

func New(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty PostgreSQL DSN")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schema {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_records(
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			data BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(bucket, key)
		);`)
	if err == nil {
		p.schema = true
	}
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Get(ctx context.Context, bucket store.Bucket, key string) ([]byte, error) {
	if err := p.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM agent_records WHERE bucket=$1 AND key=$2;`, string(bucket), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return data, err
}

func (p *DB) Put(ctx context.Context, bucket store.Bucket, key string, data []byte) error {
	if !store.ValidKey(key) {
		return store.ErrInvalidKey
	}
	if err := p.EnsureSchema(ctx); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_records(bucket, key, data, updated_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(bucket, key) DO UPDATE SET
			data=EXCLUDED.data,
			updated_at=EXCLUDED.updated_at;`,
		string(bucket), key, data, time.Now().UTC())
	return err
}

func (p *DB) Create(ctx context.Context, bucket store.Bucket, key string, data []byte) error {
	if !store.ValidKey(key) {
		return store.ErrInvalidKey
	}
	if err := p.EnsureSchema(ctx); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_records(bucket, key, data, updated_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(bucket, key) DO NOTHING;`,
		string(bucket), key, data, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

func (p *DB) Delete(ctx context.Context, bucket store.Bucket, key string) error {
	if err := p.EnsureSchema(ctx); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM agent_records WHERE bucket=$1 AND key=$2;`, string(bucket), key)
	return err
}

func (p *DB) Keys(ctx context.Context, bucket store.Bucket) ([]string, error) {
	if err := p.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT key FROM agent_records WHERE bucket=$1 ORDER BY key;`, string(bucket))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
