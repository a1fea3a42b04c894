package csvio

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ruslano69/refdesk/internal/dataset"
)

func pincodeDS() dataset.Dataset {
	return dataset.Builtin()[0]
}

func TestParse_HeaderDrivenMapping(t *testing.T) {
	// Columns deliberately out of dataset order; extra column is ignored.
	input := "pincode,statename,officename,ignored\n" +
		"110001,Delhi,Connaught Place,junk\n"

	rows, err := Parse(strings.NewReader(input), pincodeDS())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Parse() = %d rows, want 1", len(rows))
	}

	ds := pincodeDS()
	row := rows[0]
	if got := row[ds.ColumnIndex("pincode")]; got != "110001" {
		t.Errorf("pincode = %q, want 110001", got)
	}
	if got := row[ds.ColumnIndex("statename")]; got != "Delhi" {
		t.Errorf("statename = %q, want Delhi", got)
	}
	// Columns absent from the file default to empty.
	if got := row[ds.ColumnIndex("latitude")]; got != "" {
		t.Errorf("latitude = %q, want empty", got)
	}
}

func TestParse_SanitizesValues(t *testing.T) {
	input := "pincode,officename\n110001,<script>x</script> Connaught  Place \n"

	rows, err := Parse(strings.NewReader(input), pincodeDS())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ds := pincodeDS()
	if got := rows[0][ds.ColumnIndex("officename")]; got != "x Connaught Place" {
		t.Errorf("officename = %q, want sanitized value", got)
	}
}

func TestParse_KeepsEmptyNaturalKeyRows(t *testing.T) {
	// The parser is tolerant; the ingestor drops keyless rows, not Parse.
	input := "pincode,officename\n,No Key Office\n110001,Real Office\n"

	rows, err := Parse(strings.NewReader(input), pincodeDS())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Parse() = %d rows, want 2", len(rows))
	}
}

func TestParse_BOMHeader(t *testing.T) {
	input := "\uFEFFpincode,officename\n110001,Office\n"

	rows, err := Parse(strings.NewReader(input), pincodeDS())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ds := pincodeDS()
	if got := rows[0][ds.ColumnIndex("pincode")]; got != "110001" {
		t.Errorf("pincode = %q, BOM header not mapped", got)
	}
}

func TestParse_EmptyFile(t *testing.T) {
	_, err := Parse(strings.NewReader("pincode,officename\n"), pincodeDS())
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Parse() error = %v, want ErrEmptyFile", err)
	}
}

func TestParse_EmptyStream(t *testing.T) {
	_, err := Parse(strings.NewReader(""), pincodeDS())
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("Parse() error = %v, want ErrMalformedFile", err)
	}
}

func TestParse_EmptyHeaderLine(t *testing.T) {
	_, err := Parse(strings.NewReader(",,\n110001,Office\n"), pincodeDS())
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("Parse() error = %v, want ErrMalformedFile", err)
	}
}

func TestRoundTrip_CSVWriteThenParse(t *testing.T) {
	ds := pincodeDS()
	original := [][]string{
		make([]string, len(ds.Columns)),
		make([]string, len(ds.Columns)),
	}
	original[0][ds.ColumnIndex("pincode")] = "110001"
	original[0][ds.ColumnIndex("officename")] = "Connaught Place"
	original[0][ds.ColumnIndex("statename")] = "Delhi"
	original[1][ds.ColumnIndex("pincode")] = "400001"
	original[1][ds.ColumnIndex("officename")] = "Fort"
	original[1][ds.ColumnIndex("statename")] = "Maharashtra"

	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds, original); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	parsed, err := Parse(&buf, ds)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("round-trip: %d rows, want %d", len(parsed), len(original))
	}
	for i := range original {
		for j := range original[i] {
			if parsed[i][j] != original[i][j] {
				t.Errorf("round-trip row %d col %d = %q, want %q",
					i, j, parsed[i][j], original[i][j])
			}
		}
	}
}

func TestWriteXLSX_ProducesWorkbook(t *testing.T) {
	ds := pincodeDS()
	row := make([]string, len(ds.Columns))
	row[ds.ColumnIndex("pincode")] = "110001"

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, ds, [][]string{row}); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}
	// XLSX is a ZIP container; check the magic bytes.
	if buf.Len() < 4 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Error("WriteXLSX() output is not a ZIP archive")
	}
}
