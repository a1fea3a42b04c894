package ingest

import (
	"context"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/store"
)

// Duplicate is a staged row whose natural key already exists in the table.
type Duplicate struct {
	Row        []string
	ExistingID int64
}

// Classification splits a batch of staged rows into fresh rows, rows that
// collide with existing table rows, and rows dropped for an empty key.
type Classification struct {
	New        [][]string
	Duplicates []Duplicate
	Skipped    int
}

// Resolver classifies staged rows against the live table by natural key.
type Resolver struct {
	db *store.DB
}

func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db}
}

// Classify looks up every non-empty key in one query and buckets the rows.
// Rows sharing a key within the batch are classified independently, so two
// fresh rows with the same key both land in New; the table index is not
// unique and keeps both.
func (r *Resolver) Classify(ctx context.Context, ds dataset.Dataset, rows [][]string) (Classification, error) {
	keyIdx := ds.ColumnIndex(ds.KeyColumn)

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if keyIdx < len(row) && row[keyIdx] != "" {
			keys = append(keys, row[keyIdx])
		}
	}

	existing, err := r.db.LookupByKey(ctx, ds, keys)
	if err != nil {
		return Classification{}, err
	}

	var c Classification
	for _, row := range rows {
		if keyIdx >= len(row) || row[keyIdx] == "" {
			c.Skipped++
			continue
		}
		if id, ok := existing[row[keyIdx]]; ok {
			c.Duplicates = append(c.Duplicates, Duplicate{Row: row, ExistingID: id})
		} else {
			c.New = append(c.New, row)
		}
	}
	return c, nil
}
