// Package sqlstore implements store.Store on PostgreSQL (pgx) and SQLite
// (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/JonMunkholm/rowgraph/internal/store"
)

// PoolOptions sizes the PostgreSQL connection pool. Zero values keep the
// pgxpool defaults.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a store.Store backed by a SQL database.
type Store struct {
	session
	pool *pgxpool.Pool
	db   *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to the database named by driver ("postgres" or "sqlite")
// and url, and verifies the connection.
func Open(ctx context.Context, driver, url string, opts PoolOptions) (*Store, error) {
	switch driver {
	case DriverPostgres, "pgx", "postgresql":
		return openPostgres(ctx, url, opts)
	case DriverSQLite, "sqlite3":
		return openSQLite(ctx, url)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func openPostgres(ctx context.Context, url string, opts PoolOptions) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		session: session{c: pgConn{q: pool}, d: postgresDialect{}},
		pool:    pool,
	}
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an open database/sql handle using the sqlite driver.
func NewSQLite(db *sql.DB) *Store {
	return &Store{
		session: session{c: sqlConn{q: db}, d: sqliteDialect{}},
		db:      db,
	}
}

// Driver returns the backend name.
func (s *Store) Driver() string { return s.d.name() }

// SupportsOuterJoin is true for both backends.
func (s *Store) SupportsOuterJoin() bool { return true }

// Close releases the pool or database handle.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		return nil
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InTx runs fn inside a transaction. A panic or error from fn rolls back.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	var (
		t        *txSession
		commit   func(context.Context) error
		rollback func(context.Context) error
	)

	if s.pool != nil {
		ptx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		t = &txSession{session: session{c: pgConn{q: ptx}, d: s.d}}
		commit, rollback = ptx.Commit, ptx.Rollback
	} else {
		stx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		t = &txSession{session: session{c: sqlConn{q: stx}, d: s.d}}
		commit = func(context.Context) error { return stx.Commit() }
		rollback = func(context.Context) error { return stx.Rollback() }
	}

	defer func() {
		if p := recover(); p != nil {
			_ = rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := rollback(context.WithoutCancel(ctx)); rbErr != nil && rbErr != pgx.ErrTxClosed && rbErr != sql.ErrTxDone {
				slog.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(t); err != nil {
		return err
	}
	if err = commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", s.d.translate(err))
	}
	return nil
}

// txSession is a session bound to a transaction.
type txSession struct {
	session
}

func (t *txSession) Savepoint(ctx context.Context, name string) error {
	if _, err := t.c.exec(ctx, "SAVEPOINT "+q(name)); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	return nil
}

func (t *txSession) RollbackTo(ctx context.Context, name string) error {
	if _, err := t.c.exec(ctx, "ROLLBACK TO SAVEPOINT "+q(name)); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	return nil
}

func (t *txSession) Release(ctx context.Context, name string) error {
	if _, err := t.c.exec(ctx, "RELEASE SAVEPOINT "+q(name)); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
