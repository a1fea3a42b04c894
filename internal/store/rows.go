package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/sanitize"
)

// Row is one table row with its server-assigned identity.
// Values are aligned with the dataset's CSV column order.
type Row struct {
	ID     int64    `json:"id"`
	Values []string `json:"values"`
}

// InsertRows appends rows in one transaction with a prepared statement.
// Values are expected pre-sanitized (they come out of csvio.Parse); the
// identity and timestamps are server-assigned.
func (d *DB) InsertRows(ctx context.Context, ds dataset.Dataset, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ds.Table,
		strings.Join(ds.Columns, ", "),
		d.placeholders(1, len(ds.Columns)))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(ds.Columns))
	for i, row := range rows {
		for j := range ds.Columns {
			if j < len(row) {
				args[j] = row[j]
			} else {
				args[j] = ""
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("store: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit insert: %w", err)
	}
	return nil
}

// UpdateRow overwrites the given columns of one row and bumps updated_at.
// Values are sanitized again here — the single-row edit path gets no more
// trust than a bulk upload. Unknown columns are rejected.
func (d *DB) UpdateRow(ctx context.Context, ds dataset.Dataset, id int64, fields map[string]string) error {
	if len(fields) == 0 {
		return fmt.Errorf("store: update row %d: no fields given", id)
	}

	var (
		sets []string
		args []interface{}
	)
	n := 1
	// Deterministic column order keeps queries stable across calls.
	for _, col := range ds.Columns {
		value, ok := fields[col]
		if !ok {
			continue
		}
		sets = append(sets, col+" = "+d.placeholder(n))
		args = append(args, sanitize.Clean(value))
		n++
	}
	if len(sets) != len(fields) {
		return fmt.Errorf("store: update row %d: unknown column in field set", id)
	}
	sets = append(sets, "updated_at = "+d.nowExpr())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		ds.Table, strings.Join(sets, ", "), d.placeholder(n))

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update row %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update row %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// DeleteRow removes one row by id.
func (d *DB) DeleteRow(ctx context.Context, ds dataset.Dataset, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", ds.Table, d.placeholder(1))
	res, err := d.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete row %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete row %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// DeleteAll truncates the dataset table and returns the number of rows
// removed. Zero on an already-empty table is not an error.
func (d *DB) DeleteAll(ctx context.Context, ds dataset.Dataset) (int64, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM "+ds.Table)
	if err != nil {
		return 0, fmt.Errorf("store: delete all from %s: %w", ds.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete all from %s: rows affected: %w", ds.Table, err)
	}
	return affected, nil
}

// AllRows streams the whole table in id order, for export.
func (d *DB) AllRows(ctx context.Context, ds dataset.Dataset) ([][]string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
		strings.Join(ds.Columns, ", "), ds.Table)

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: select all from %s: %w", ds.Table, err)
	}
	defer rows.Close()

	return scanValueRows(rows, len(ds.Columns))
}

// LookupByKey maps each distinct natural-key value to the id of the first
// row carrying it (lowest id wins when the table holds duplicates).
// Keys absent from the table are absent from the result.
func (d *DB) LookupByKey(ctx context.Context, ds dataset.Dataset, keys []string) (map[string]int64, error) {
	result := make(map[string]int64)
	if len(keys) == 0 {
		return result, nil
	}

	// Dedupe to keep the IN list small; preserve no particular order.
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, k)
	}
	if len(uniq) == 0 {
		return result, nil
	}

	query := fmt.Sprintf("SELECT %s, MIN(id) FROM %s WHERE %s IN (%s) GROUP BY %s",
		ds.KeyColumn, ds.Table, ds.KeyColumn, d.placeholders(1, len(uniq)), ds.KeyColumn)

	args := make([]interface{}, len(uniq))
	for i, k := range uniq {
		args[i] = k
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: lookup keys in %s: %w", ds.Table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			id  int64
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("store: scan key lookup: %w", err)
		}
		result[key] = id
	}
	return result, rows.Err()
}

func scanValueRows(rows *sql.Rows, columns int) ([][]string, error) {
	var result [][]string

	scanArgs := make([]interface{}, columns)
	for i := range scanArgs {
		var v sql.NullString
		scanArgs[i] = &v
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		row := make([]string, columns)
		for i, arg := range scanArgs {
			if v := arg.(*sql.NullString); v.Valid {
				row[i] = v.String
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
