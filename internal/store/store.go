// Package store defines the persistence contract the importer and exporter
// run against. Implementations live in subpackages; sqlstore covers
// PostgreSQL and SQLite.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate wraps unique constraint violations reported by the backend.
	ErrDuplicate = errors.New("duplicate key")

	// ErrUnsupportedJoin is returned when a join plan crosses an association
	// the backend cannot express as a join, such as a polymorphic belongs_to.
	ErrUnsupportedJoin = errors.New("association cannot be joined")
)

// Criteria maps field names to typed values, as produced by entity.Parse.
// A nil value matches NULL.
type Criteria map[string]any

// Keys returns the criteria field names in sorted order.
func (c Criteria) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Session is the set of record operations available inside and outside a
// transaction.
type Session interface {
	// Get loads a record by primary key.
	Get(ctx context.Context, et *schema.EntityType, id int64) (*entity.Entity, error)

	// FindLatest returns the matching record with the highest primary key.
	FindLatest(ctx context.Context, et *schema.EntityType, c Criteria) (*entity.Entity, error)

	// FindAll returns every matching record ordered by primary key.
	FindAll(ctx context.Context, et *schema.EntityType, c Criteria) ([]*entity.Entity, error)

	// FindPrefix returns up to limit records whose field starts with prefix.
	FindPrefix(ctx context.Context, et *schema.EntityType, field, prefix string, limit int) ([]*entity.Entity, error)

	// Children returns the records reached from owner through a has_one,
	// has_many, has_and_belongs_to_many or has_many_through association,
	// ordered by primary key.
	Children(ctx context.Context, a *schema.Association, owner *entity.Entity) ([]*entity.Entity, error)

	// Pluck returns the primary key followed by the named fields for every
	// record, values decoded to their field types.
	Pluck(ctx context.Context, et *schema.EntityType, fields ...string) ([][]any, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, et *schema.EntityType, c Criteria) (int64, error)

	// Save inserts a new record or writes the changed fields of a persisted one.
	Save(ctx context.Context, e *entity.Entity) error

	// Link inserts a has_and_belongs_to_many join row.
	Link(ctx context.Context, a *schema.Association, ownerID, targetID int64) error

	// Linked reports whether a has_and_belongs_to_many join row exists.
	Linked(ctx context.Context, a *schema.Association, ownerID, targetID int64) (bool, error)

	// Join builds a query over the root entity and the associations in plan.
	Join(et *schema.EntityType, plan schema.JoinPlan, opts JoinOptions) (JoinQuery, error)
}

// Tx is a Session bound to one transaction, with savepoint control.
type Tx interface {
	Session
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

// Store is a Session on the connection pool that can open transactions.
type Store interface {
	Session

	// InTx runs fn in a transaction, committing when it returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// CreateSchema creates the tables of every registered entity type.
	CreateSchema(ctx context.Context, reg *schema.Registry) error

	// SupportsOuterJoin reports whether the backend can run LEFT OUTER JOIN.
	SupportsOuterJoin() bool

	Close() error
}

// JoinOptions controls how a JoinPlan becomes SQL.
type JoinOptions struct {
	// Inner forces INNER JOIN instead of LEFT OUTER JOIN.
	Inner bool
}

// JoinQuery is a FROM clause built from a JoinPlan.
type JoinQuery interface {
	// Aliases maps each association path key (see PathKey) to the table
	// alias the query uses for it. The root path key is "".
	Aliases() map[string]string

	// Select runs the query with the given projection and ordering
	// expressions and returns the raw driver values of each row.
	Select(ctx context.Context, projection, orderBy []string) ([][]any, error)
}

// PathKey is the alias map key of an association path: the names joined
// with underscores plus a trailing underscore, or "" for the root.
func PathKey(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return strings.Join(path, "_") + "_"
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
