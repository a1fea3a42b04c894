package dataset

import "testing"

func TestBuiltin_Valid(t *testing.T) {
	for _, d := range Builtin() {
		if err := d.Validate(); err != nil {
			t.Errorf("builtin dataset %q invalid: %v", d.Name, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	base := Dataset{
		Name:      "test",
		Table:     "refdesk_test",
		Columns:   []string{"code", "state"},
		KeyColumn: "code",
	}

	tests := []struct {
		name   string
		mutate func(*Dataset)
	}{
		{"empty name", func(d *Dataset) { d.Name = "" }},
		{"empty table", func(d *Dataset) { d.Table = "" }},
		{"no columns", func(d *Dataset) { d.Columns = nil }},
		{"uppercase column", func(d *Dataset) { d.Columns = []string{"Code"} }},
		{"sql in column", func(d *Dataset) { d.Columns = []string{"code; drop"} }},
		{"duplicate column", func(d *Dataset) { d.Columns = []string{"code", "code"} }},
		{"unknown key column", func(d *Dataset) { d.KeyColumn = "missing" }},
		{"unknown hierarchy column", func(d *Dataset) { d.Hierarchy = []string{"missing"} }},
		{"digit-leading table", func(d *Dataset) { d.Table = "1table" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			d.Columns = append([]string(nil), base.Columns...)
			tt.mutate(&d)
			if err := d.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestRegistry_ConfigOverridesBuiltin(t *testing.T) {
	override := Dataset{
		Name:      "pincode",
		Table:     "custom_pincode",
		Columns:   []string{"pincode", "officename"},
		KeyColumn: "pincode",
	}

	r, err := NewRegistry(Builtin(), []Dataset{override})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	d, ok := r.Get("pincode")
	if !ok {
		t.Fatal("Get(pincode) not found")
	}
	if d.Table != "custom_pincode" {
		t.Errorf("override not applied, table = %q", d.Table)
	}
	if got := len(r.Names()); got != len(Builtin()) {
		t.Errorf("Names() = %d entries, want %d", got, len(Builtin()))
	}
}

func TestRegistry_NormalizesNames(t *testing.T) {
	decl := Dataset{
		Name:      "Branches",
		Table:     "branches",
		Columns:   []string{"code", "city"},
		KeyColumn: "code",
	}

	r, err := NewRegistry([]Dataset{decl})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	// A mixed-case declaration must still be reachable through Get, which
	// lowercases its lookup.
	d, ok := r.Get("branches")
	if !ok {
		t.Fatal("Get(branches) not found for mixed-case declaration")
	}
	if d.Name != "branches" {
		t.Errorf("stored name = %q, want normalized %q", d.Name, "branches")
	}
	if _, ok := r.Get("BRANCHES"); !ok {
		t.Error("Get(BRANCHES) not found")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "branches" {
		t.Errorf("Names() = %v", names)
	}
}

func TestColumnIndex(t *testing.T) {
	d := Builtin()[0]
	if idx := d.ColumnIndex("pincode"); idx != 4 {
		t.Errorf("ColumnIndex(pincode) = %d, want 4", idx)
	}
	if idx := d.ColumnIndex("nope"); idx != -1 {
		t.Errorf("ColumnIndex(nope) = %d, want -1", idx)
	}
}
