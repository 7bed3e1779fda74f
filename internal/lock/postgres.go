package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is a Locker backed by session-level advisory locks. Each held
// lock pins one pooled connection until release.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

// OpenPostgres opens a pgx-backed handle for dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Acquire implements Locker.
func (p *Postgres) Acquire(ctx context.Context, key string) (Release, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres lock %s: %w", key, err)
	}
	id := advisoryKey(key)

	err = Poll(ctx, p.timeout, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
			return false, fmt.Errorf("postgres lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
			return fmt.Errorf("postgres unlock %s: %w", key, err)
		}
		return nil
	}, nil
}

// advisoryKey maps a lock name onto the bigint advisory key space.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("stampq:" + key))
	return int64(h.Sum64())
}
