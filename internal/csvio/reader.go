// Package csvio decodes uploaded CSV files into dataset rows and encodes
// table rows back into the same column order for download.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/sanitize"
)

var (
	// ErrMalformedFile means the stream could not be decoded as delimited
	// text at all, or the header line is empty.
	ErrMalformedFile = errors.New("file is not valid delimited text")

	// ErrEmptyFile means the file decoded fine but contains no data rows.
	ErrEmptyFile = errors.New("file contains no data rows")
)

// Parse reads a CSV stream and maps it onto the dataset's column set.
//
// The first line is the header; its tokens are matched by name against the
// dataset columns, so column order in the file does not matter. Headers the
// dataset does not know are ignored, dataset columns missing from the file
// come back as empty strings. Every value is sanitized.
//
// Individual bad rows never fail the parse; they are simply mapped with
// whatever fields they have. Rows with an empty natural key are kept here —
// the ingestor decides what to do with them.
func Parse(r io.Reader, ds dataset.Dataset) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	// Map file column position → dataset column position.
	mapping := make([]int, len(header))
	sawHeader := false
	for i, h := range header {
		name := normalizeHeader(h)
		if name != "" {
			sawHeader = true
		}
		mapping[i] = ds.ColumnIndex(name)
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: empty header line", ErrMalformedFile)
	}

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// One undecodable line does not abort the upload.
			continue
		}

		row := make([]string, len(ds.Columns))
		for i, value := range record {
			if i >= len(mapping) || mapping[i] < 0 {
				continue
			}
			row[mapping[i]] = sanitize.Clean(value)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

// normalizeHeader lowercases a header token and strips a UTF-8 BOM, spaces,
// and quotes left behind by spreadsheet exports.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = strings.Trim(h, `"' `)
	return strings.ToLower(strings.TrimSpace(h))
}
