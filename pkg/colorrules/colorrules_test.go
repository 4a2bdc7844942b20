package colorrules

import (
	"testing"

	"github.com/meshrow/tabular/pkg/types"
)

var gpaColumn = types.Column{Key: "gpa", DisplayName: "GPA", Type: types.ColumnTypeNumber}
var nameColumn = types.Column{Key: "name", DisplayName: "Name", Type: types.ColumnTypeText}
var dueColumn = types.Column{Key: "due", DisplayName: "Due", Type: types.ColumnTypeDate}

func row(values map[string]string) *types.Row {
	return &types.Row{RowID: "r", Values: values}
}

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		column types.Column
		values map[string]string
		want   bool
	}{
		{
			name:   "number less than",
			rule:   Rule{ColumnKey: "gpa", Comparator: LessThan, Value: "2.5"},
			column: gpaColumn,
			values: map[string]string{"gpa": "2.1"},
			want:   true,
		},
		{
			name:   "number compares numerically not lexically",
			rule:   Rule{ColumnKey: "gpa", Comparator: GreaterThan, Value: "9"},
			column: gpaColumn,
			values: map[string]string{"gpa": "10"},
			want:   true,
		},
		{
			name:   "number equal",
			rule:   Rule{ColumnKey: "gpa", Comparator: Equal, Value: "3.70"},
			column: gpaColumn,
			values: map[string]string{"gpa": "3.7"},
			want:   true,
		},
		{
			name:   "unparseable cell never matches",
			rule:   Rule{ColumnKey: "gpa", Comparator: LessThan, Value: "2.5"},
			column: gpaColumn,
			values: map[string]string{"gpa": "n/a"},
			want:   false,
		},
		{
			name:   "unparseable threshold never matches",
			rule:   Rule{ColumnKey: "gpa", Comparator: LessThan, Value: "low"},
			column: gpaColumn,
			values: map[string]string{"gpa": "1.0"},
			want:   false,
		},
		{
			name:   "text equality",
			rule:   Rule{ColumnKey: "name", Comparator: Equal, Value: "ted"},
			column: nameColumn,
			values: map[string]string{"name": "ted"},
			want:   true,
		},
		{
			name:   "date compares as text chronologically",
			rule:   Rule{ColumnKey: "due", Comparator: LessThan, Value: "2026-02-01"},
			column: dueColumn,
			values: map[string]string{"due": "2026-01-15"},
			want:   true,
		},
		{
			name:   "missing value never matches",
			rule:   Rule{ColumnKey: "gpa", Comparator: GreaterThanOrEqual, Value: "0"},
			column: gpaColumn,
			values: map[string]string{},
			want:   false,
		},
		{
			name:   "wrong column never matches",
			rule:   Rule{ColumnKey: "gpa", Comparator: Equal, Value: "ted"},
			column: nameColumn,
			values: map[string]string{"name": "ted"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Matches(row(tt.values), &tt.column)
			if got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeStore is an in-memory PropertyStore for group tests.
type fakeStore struct {
	lists map[string][]Rule
}

func (f *fakeStore) GetList(partition, aspect, key string, dest any) (bool, error) {
	rules, ok := f.lists[aspect]
	if !ok {
		return false, nil
	}
	*(dest.(*[]Rule)) = rules
	return true, nil
}

func (f *fakeStore) SetList(partition, aspect, key string, value any) error {
	if f.lists == nil {
		f.lists = map[string][]Rule{}
	}
	f.lists[aspect] = append([]Rule{}, value.([]Rule)...)
	return nil
}

func TestGroupLoadDropsMalformedRules(t *testing.T) {
	store := &fakeStore{lists: map[string][]Rule{
		"gpa": {
			{ID: "ok", ColumnKey: "gpa", Comparator: LessThan, Value: "2.0"},
			{ID: "bad-op", ColumnKey: "gpa", Comparator: "~", Value: "2.0"},
			{ID: "no-col", Comparator: Equal, Value: "x"},
		},
	}}

	g := LoadGroup(store, "gpa", nil)
	if len(g.Rules()) != 1 {
		t.Fatalf("expected 1 surviving rule, got %d", len(g.Rules()))
	}
	if g.Rules()[0].ID != "ok" {
		t.Errorf("wrong rule survived: %q", g.Rules()[0].ID)
	}
}

func TestGroupColorFor(t *testing.T) {
	definition := &types.TableDefinition{
		TableID: "t",
		Columns: []types.Column{gpaColumn, nameColumn},
	}
	g := LoadGroup(&fakeStore{}, "gpa", nil)
	g.Add(Rule{ColumnKey: "gpa", Comparator: LessThan, Value: "2.0",
		Color: Color{Foreground: "#000000", Background: "#ff0000"}})
	g.Add(Rule{ColumnKey: "gpa", Comparator: LessThan, Value: "3.0",
		Color: Color{Foreground: "#000000", Background: "#ffff00"}})

	// first matching rule wins
	color, ok := g.ColorFor(row(map[string]string{"gpa": "1.5"}), definition)
	if !ok || color.Background != "#ff0000" {
		t.Errorf("got %v %v", color, ok)
	}
	color, ok = g.ColorFor(row(map[string]string{"gpa": "2.5"}), definition)
	if !ok || color.Background != "#ffff00" {
		t.Errorf("got %v %v", color, ok)
	}
	if _, ok := g.ColorFor(row(map[string]string{"gpa": "3.5"}), definition); ok {
		t.Error("no rule should match")
	}
}

func TestGroupSaveRoundTrip(t *testing.T) {
	store := &fakeStore{}
	g := LoadGroup(store, "gpa", nil)
	g.Add(Rule{ColumnKey: "gpa", Comparator: GreaterThanOrEqual, Value: "3.5",
		Color: Color{Foreground: "#ffffff", Background: "#00aa00"}})
	if err := g.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := LoadGroup(store, "gpa", nil)
	if len(loaded.Rules()) != 1 {
		t.Fatalf("expected 1 rule after reload, got %d", len(loaded.Rules()))
	}
	if loaded.Rules()[0].Value != "3.5" {
		t.Errorf("rule value: got %q", loaded.Rules()[0].Value)
	}
	if loaded.Rules()[0].ID == "" {
		t.Error("rule ID not assigned")
	}
}
