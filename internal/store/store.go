// Package store is the relational backend for refdesk datasets.
//
// One DB serves every dataset. The dialect handling mirrors what each engine
// needs: placeholder style, autoincrement column syntax, and pagination
// syntax differ, everything else is plain database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ruslano69/refdesk/internal/dataset"
)

// Dialect selects engine-specific SQL.
type Dialect string

const (
	DialectSQLite    Dialect = "sqlite"
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
)

// ErrRowNotFound is returned by point operations on a missing row id.
var ErrRowNotFound = errors.New("row not found")

// DB wraps a sql.DB with dialect-aware query building.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database identified by driver ("sqlite", "postgres",
// "mysql", "sqlserver") and pings it.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var (
		dialect    Dialect
		driverName string
	)
	switch driver {
	case "sqlite":
		dialect, driverName = DialectSQLite, "sqlite"
	case "postgres":
		dialect, driverName = DialectPostgres, "pgx"
	case "mysql":
		dialect, driverName = DialectMySQL, "mysql"
	case "sqlserver":
		dialect, driverName = DialectSQLServer, "sqlserver"
	default:
		return nil, fmt.Errorf("store: unsupported driver %q (supported: sqlite, postgres, mysql, sqlserver)", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	d := &DB{db: db, dialect: dialect}
	if dialect == DialectSQLite {
		d.applySQLitePragmas(ctx)
	}
	return d, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database availability.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Dialect returns the active SQL dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// applySQLitePragmas tunes SQLite for bulk insert workloads. Failures are
// non-fatal; some pragmas are ignored on existing database files.
func (d *DB) applySQLitePragmas(ctx context.Context) {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		_, _ = d.db.ExecContext(ctx, pragma)
	}
}

// Migrate creates the dataset's table when it does not exist yet. All data
// columns are text; the natural key is indexed but deliberately NOT unique —
// duplicate handling is resolver policy, not a storage constraint.
func (d *DB) Migrate(ctx context.Context, ds dataset.Dataset) error {
	exists, err := d.tableExists(ctx, ds.Table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	cols := []string{d.idColumnDDL()}
	for _, c := range ds.Columns {
		cols = append(cols, c+" "+d.textType()+" NOT NULL DEFAULT ''")
	}
	cols = append(cols,
		"created_at "+d.timestampDDL(),
		"updated_at "+d.timestampDDL(),
	)

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", ds.Table, strings.Join(cols, ",\n  "))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create table %s: %w", ds.Table, err)
	}

	idx := fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", ds.Table, ds.KeyColumn, ds.Table, ds.KeyColumn)
	if _, err := d.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("store: index %s: %w", ds.Table, err)
	}
	return nil
}

func (d *DB) tableExists(ctx context.Context, table string) (bool, error) {
	var (
		query string
		args  []interface{}
	)
	switch d.dialect {
	case DialectSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
		args = []interface{}{table}
	case DialectPostgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema='public' AND table_name=$1"
		args = []interface{}{table}
	case DialectMySQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema=DATABASE() AND table_name=?"
		args = []interface{}{table}
	case DialectSQLServer:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name=@p1"
		args = []interface{}{table}
	}

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("store: check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (d *DB) idColumnDDL() string {
	switch d.dialect {
	case DialectPostgres:
		return "id BIGSERIAL PRIMARY KEY"
	case DialectMySQL:
		return "id BIGINT AUTO_INCREMENT PRIMARY KEY"
	case DialectSQLServer:
		return "id BIGINT IDENTITY(1,1) PRIMARY KEY"
	default:
		return "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (d *DB) textType() string {
	switch d.dialect {
	case DialectMySQL:
		return "VARCHAR(512)"
	case DialectSQLServer:
		return "NVARCHAR(512)"
	default:
		return "TEXT"
	}
}

func (d *DB) timestampDDL() string {
	switch d.dialect {
	case DialectSQLServer:
		return "DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()"
	default:
		return "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
}

// placeholder returns the n-th (1-based) bind parameter for the dialect.
func (d *DB) placeholder(n int) string {
	switch d.dialect {
	case DialectPostgres:
		return fmt.Sprintf("$%d", n)
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// placeholders returns "(?, ?, ...)" style lists starting at bind index from.
func (d *DB) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = d.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// limitOffset appends dialect pagination to a query that already has ORDER BY.
func (d *DB) limitOffset(limit, offset int) string {
	if d.dialect == DialectSQLServer {
		return fmt.Sprintf(" OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// nowExpr is the dialect's current-timestamp expression for updated_at.
func (d *DB) nowExpr() string {
	if d.dialect == DialectSQLServer {
		return "SYSUTCDATETIME()"
	}
	return "CURRENT_TIMESTAMP"
}
