package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruslano69/refdesk/internal/dataset"
)

// DefaultPageSize is the fixed listing page size.
const DefaultPageSize = 20

// Filter is the admin table's query. Exactly one mode applies per call:
// a non-empty Code is an exact natural-key match and bypasses the
// hierarchical fields entirely; otherwise whichever hierarchy values are
// non-empty are AND-ed together. Any subset of the hierarchy is tolerated.
type Filter struct {
	Code      string
	Hierarchy map[string]string // hierarchy column → exact value
}

// Page is one listing page plus the pagination metadata the UI renders.
type Page struct {
	Rows       []Row `json:"rows"`
	TotalItems int   `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	Current    int   `json:"current_page"`
}

// List returns one page of filtered rows in id order. Page numbers are
// 1-indexed; anything below 1 is clamped to 1. The total count is computed
// against the same filter in the same call, so total_pages is consistent
// with the returned page.
func (d *DB) List(ctx context.Context, ds dataset.Dataset, f Filter, page int) (Page, error) {
	if page < 1 {
		page = 1
	}

	where, args, err := d.buildWhere(ds, f, 1)
	if err != nil {
		return Page{}, err
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM " + ds.Table + where
	if err := d.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("store: count %s: %w", ds.Table, err)
	}

	p := Page{
		Rows:       []Row{},
		TotalItems: total,
		TotalPages: (total + DefaultPageSize - 1) / DefaultPageSize,
		Current:    page,
	}
	if total == 0 {
		return p, nil
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s%s ORDER BY id%s",
		strings.Join(ds.Columns, ", "), ds.Table, where,
		d.limitOffset(DefaultPageSize, (page-1)*DefaultPageSize))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("store: list %s: %w", ds.Table, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := Row{Values: make([]string, len(ds.Columns))}
		scanArgs := make([]interface{}, 0, len(ds.Columns)+1)
		scanArgs = append(scanArgs, &row.ID)
		for i := range row.Values {
			scanArgs = append(scanArgs, &row.Values[i])
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return Page{}, fmt.Errorf("store: scan list row: %w", err)
		}
		p.Rows = append(p.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("store: list %s: %w", ds.Table, err)
	}
	return p, nil
}

// Distinct returns the sorted unique values of column under the given
// hierarchical narrowing (e.g. districts within a state). Empty values are
// excluded; order is always ascending lexical.
func (d *DB) Distinct(ctx context.Context, ds dataset.Dataset, column string, f Filter) ([]string, error) {
	if !ds.HasColumn(column) {
		return nil, fmt.Errorf("store: unknown column %q in dataset %q", column, ds.Name)
	}

	where, args, err := d.buildWhere(ds, f, 1)
	if err != nil {
		return nil, err
	}
	if where == "" {
		where = " WHERE " + column + " <> ''"
	} else {
		where += " AND " + column + " <> ''"
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s ORDER BY %s ASC",
		column, ds.Table, where, column)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: distinct %s.%s: %w", ds.Table, column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// buildWhere renders the filter as a WHERE clause with bind args starting at
// placeholder index from. An empty filter yields an empty clause.
func (d *DB) buildWhere(ds dataset.Dataset, f Filter, from int) (string, []interface{}, error) {
	if f.Code != "" {
		return " WHERE " + ds.KeyColumn + " = " + d.placeholder(from), []interface{}{f.Code}, nil
	}

	var (
		conds []string
		args  []interface{}
	)
	n := from
	// Iterate the dataset's declared hierarchy so clause order is stable.
	for _, col := range ds.Hierarchy {
		value := f.Hierarchy[col]
		if value == "" {
			continue
		}
		conds = append(conds, col+" = "+d.placeholder(n))
		args = append(args, value)
		n++
	}
	for col := range f.Hierarchy {
		known := false
		for _, h := range ds.Hierarchy {
			if h == col {
				known = true
				break
			}
		}
		if !known {
			return "", nil, fmt.Errorf("store: %q is not a filter column of dataset %q", col, ds.Name)
		}
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
