package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between the supported databases.
// Its value is the database/sql driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and postgres.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// ParseDialect validates a driver name.
func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case SQLite, Postgres:
		return Dialect(driver), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

// PrimaryKey returns the id column definition.
func (d Dialect) PrimaryKey() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// NowExpr returns the SQL expression for the current timestamp.
func (d Dialect) NowExpr() string {
	if d == Postgres {
		return "now()"
	}
	return "(datetime('now'))"
}

// ColumnType returns the column type for a field type.
func (d Dialect) ColumnType(ft FieldType) string {
	if d == Postgres {
		switch ft {
		case TypeInt, TypeMoney, TypeRef:
			return "BIGINT"
		case TypeFloat:
			return "DOUBLE PRECISION"
		case TypeBool:
			return "BOOLEAN"
		case TypeJSON:
			return "JSONB"
		case TypeTimestamp:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	}
	switch ft {
	case TypeInt, TypeMoney, TypeRef, TypeBool:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// ColumnDef returns the type and constraints of a field column. When adding a
// column to an existing table NOT NULL is only kept if there is a default.
func (d Dialect) ColumnDef(f Field, forAlter bool) string {
	col := d.ColumnType(f.Type)
	notNull := (f.Required || f.DefaultValue != nil) && !f.Nullable && f.Type != TypeJSON
	if forAlter && f.DefaultValue == nil {
		notNull = false
	}
	if notNull {
		col += " NOT NULL"
	}
	if f.Unique && !forAlter {
		col += " UNIQUE"
	}
	if f.DefaultValue != nil {
		col += " DEFAULT " + d.Literal(f.DefaultValue)
	}
	return col
}

// Literal renders a default value as a SQL literal.
func (d Dialect) Literal(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if d == Postgres {
			if val {
				return "TRUE"
			}
			return "FALSE"
		}
		if val {
			return "1"
		}
		return "0"
	case int, int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("'%v'", val)
	}
}

// LikeOp returns the case-insensitive LIKE operator.
func (d Dialect) LikeOp() string {
	if d == Postgres {
		return "ILIKE"
	}
	// SQLite LIKE is case-insensitive for ASCII.
	return "LIKE"
}

// ColumnsQuery returns a query listing the column names of a table (one bind arg).
func (d Dialect) ColumnsQuery() string {
	if d == Postgres {
		return "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"
	}
	return "SELECT name FROM pragma_table_info(?)"
}

// isUniqueViolation reports whether err is a unique constraint violation on either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isForeignKeyViolation reports whether err is a foreign key violation on either driver.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
