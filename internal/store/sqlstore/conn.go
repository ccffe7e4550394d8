package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// conn is the minimal query surface both drivers are adapted to.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
}

// rows matches pgx.Rows closely enough that pgx results need no wrapper.
type rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

type pgConn struct {
	q pgxQuerier
}

func (c pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

type sqlConn struct {
	q sqlQuerier
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := r.Columns()
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return &sqlRows{r: r, n: len(cols)}, nil
}

type sqlRows struct {
	r   *sql.Rows
	n   int
	err error
}

func (s *sqlRows) Next() bool { return s.r.Next() }

func (s *sqlRows) Values() ([]any, error) {
	vals := make([]any, s.n)
	ptrs := make([]any, s.n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.r.Scan(ptrs...); err != nil {
		s.err = err
		return nil, err
	}
	return vals, nil
}

func (s *sqlRows) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.r.Err()
}

func (s *sqlRows) Close() { _ = s.r.Close() }

// collect drains r into a slice of rows.
func collect(r rows) ([][]any, error) {
	defer r.Close()
	var out [][]any
	for r.Next() {
		vals, err := r.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, r.Err()
}
