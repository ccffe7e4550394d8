package sqlstore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// dialect captures the SQL differences between backends.
type dialect interface {
	name() string
	placeholder(n int) string
	primaryKey() string
	columnType(ft schema.FieldType) string
	translate(err error) error
}

type postgresDialect struct{}

func (postgresDialect) name() string { return DriverPostgres }

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) primaryKey() string { return "BIGSERIAL PRIMARY KEY" }

func (postgresDialect) columnType(ft schema.FieldType) string {
	switch ft {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "TIMESTAMP"
	case schema.TypeTime:
		return "TIME"
	}
	return "TEXT"
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func (postgresDialect) translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.Detail)
	}
	return err
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return DriverSQLite }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) primaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

// SQLite stores decimals and times as text so they round-trip exactly;
// DATE and DATETIME declarations let the driver hand back time.Time.
func (sqliteDialect) columnType(ft schema.FieldType) string {
	switch ft {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "DATETIME"
	}
	return "TEXT"
}

const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

func (sqliteDialect) translate(err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, sqlErr.Error())
		}
	}
	return err
}
