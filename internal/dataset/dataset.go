// Package dataset describes the tabular reference datasets refdesk serves.
//
// A Dataset binds a logical name to a SQL table, the CSV column order used by
// upload and export, the natural-key column used for duplicate detection, and
// the drill-down filter hierarchy exposed by the listing API.
package dataset

import (
	"fmt"
	"strings"
)

// Dataset describes one reference table.
type Dataset struct {
	Name      string   `yaml:"name"`
	Table     string   `yaml:"table"`
	Columns   []string `yaml:"columns"`
	KeyColumn string   `yaml:"key_column"`

	// Hierarchy lists the drill-down filter columns, broadest first
	// (e.g. statename → district → officename). Any subset may be filtered.
	Hierarchy []string `yaml:"hierarchy"`
}

// Builtin returns the datasets refdesk ships with.
func Builtin() []Dataset {
	return []Dataset{
		{
			Name:  "pincode",
			Table: "refdesk_pincode",
			Columns: []string{
				"circlename", "regionname", "divisionname", "officename",
				"pincode", "officetype", "delivery", "district", "statename",
				"latitude", "longitude",
			},
			KeyColumn: "pincode",
			Hierarchy: []string{"statename", "district", "officename"},
		},
		{
			Name:  "ifsc",
			Table: "refdesk_ifsc",
			Columns: []string{
				"bank", "ifsc", "branch", "address", "city", "district", "state",
			},
			KeyColumn: "ifsc",
			Hierarchy: []string{"state", "district", "branch"},
		},
	}
}

// Validate checks internal consistency of a dataset definition.
func (d Dataset) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset: name is required")
	}
	if d.Table == "" {
		return fmt.Errorf("dataset %q: table is required", d.Name)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("dataset %q: at least one column is required", d.Name)
	}
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if !validIdent(c) {
			return fmt.Errorf("dataset %q: invalid column name %q", d.Name, c)
		}
		if seen[c] {
			return fmt.Errorf("dataset %q: duplicate column %q", d.Name, c)
		}
		seen[c] = true
	}
	if !validIdent(d.Table) {
		return fmt.Errorf("dataset %q: invalid table name %q", d.Name, d.Table)
	}
	if !d.HasColumn(d.KeyColumn) {
		return fmt.Errorf("dataset %q: key column %q is not a dataset column", d.Name, d.KeyColumn)
	}
	for _, h := range d.Hierarchy {
		if !d.HasColumn(h) {
			return fmt.Errorf("dataset %q: hierarchy column %q is not a dataset column", d.Name, h)
		}
	}
	return nil
}

// HasColumn reports whether name is one of the dataset's columns.
func (d Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ColumnIndex returns the position of name in the CSV column order, or -1.
func (d Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Registry resolves datasets by name.
type Registry struct {
	byName map[string]Dataset
	order  []string
}

// NewRegistry builds a registry from the given definitions.
// Later definitions override earlier ones with the same name, which lets a
// config file replace a builtin dataset. Names are case-insensitive and
// normalized to lowercase, matching Get.
func NewRegistry(defs ...[]Dataset) (*Registry, error) {
	r := &Registry{byName: make(map[string]Dataset)}
	for _, group := range defs {
		for _, d := range group {
			d.Name = strings.ToLower(d.Name)
			if err := d.Validate(); err != nil {
				return nil, err
			}
			if _, exists := r.byName[d.Name]; !exists {
				r.order = append(r.order, d.Name)
			}
			r.byName[d.Name] = d
		}
	}
	return r, nil
}

// Get returns the dataset with the given name.
func (r *Registry) Get(name string) (Dataset, bool) {
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// Names returns dataset names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// validIdent accepts lowercase SQL identifiers only. Dataset tables and
// columns end up interpolated into SQL, so anything else is rejected up front.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
