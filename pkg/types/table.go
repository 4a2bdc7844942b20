package types

import "strings"

// Column value types determine how query-time comparisons and color
// rules interpret the stored text.
const (
	ColumnTypeText   = "text"
	ColumnTypeNumber = "number"
	ColumnTypeDate   = "date"
)

// validColumnTypes is the set of recognized column value types.
var validColumnTypes = map[string]bool{
	ColumnTypeText:   true,
	ColumnTypeNumber: true,
	ColumnTypeDate:   true,
}

// ValidColumnType reports whether the given string is a recognized
// column value type.
func ValidColumnType(ct string) bool {
	return validColumnTypes[ct]
}

// Column describes one user-defined column of a table.
type Column struct {
	Key          string // storage identifier, used in compiled query text
	DisplayName  string // user-facing label
	Abbreviation string // optional short label, also resolvable in queries
	Type         string // one of the ColumnType constants
}

// TableDefinition holds the identity, column layout, and
// synchronization metadata of one user table. Extensible display
// settings live in the property store; the fields here are the core
// identity and ordering record.
type TableDefinition struct {
	TableID        string   // stable, server-comparable identifier
	DBTableName    string   // local storage identifier
	DisplayName    string
	Columns        []Column // ordered; defines columnOrder
	PrimeColumns   []string // subset of column keys used for overview grouping
	SortColumn     string   // column key, or empty for none
	SyncState      SyncState
	SyncTag        string
	IsSynchronized bool // whether this table participates in remote sync
}

// Validate checks the structural invariants: prime columns must be a
// subset of the column order, and the sort column, when set, must be a
// known column.
func (td *TableDefinition) Validate() error {
	if td.DisplayName == "" {
		return ErrInvalidName
	}
	keys := make(map[string]bool, len(td.Columns))
	for _, col := range td.Columns {
		if col.Key == "" {
			return ErrInvalidName
		}
		if keys[col.Key] {
			return ErrDuplicateName
		}
		keys[col.Key] = true
	}
	for _, prime := range td.PrimeColumns {
		if !keys[prime] {
			return ErrColumnNotFound
		}
	}
	if td.SortColumn != "" && !keys[td.SortColumn] {
		return ErrColumnNotFound
	}
	return nil
}

// ColumnKeys returns the ordered storage keys of the user columns.
func (td *TableDefinition) ColumnKeys() []string {
	keys := make([]string, len(td.Columns))
	for i, col := range td.Columns {
		keys[i] = col.Key
	}
	return keys
}

// ColumnByKey returns the column with the given storage key, or nil.
func (td *TableDefinition) ColumnByKey(key string) *Column {
	for i := range td.Columns {
		if td.Columns[i].Key == key {
			return &td.Columns[i]
		}
	}
	return nil
}

// ColumnByLabel resolves a user-facing label (display name or
// abbreviation, case-insensitive) to a column, or nil when no column
// matches.
func (td *TableDefinition) ColumnByLabel(label string) *Column {
	for i := range td.Columns {
		if strings.EqualFold(td.Columns[i].DisplayName, label) ||
			(td.Columns[i].Abbreviation != "" &&
				strings.EqualFold(td.Columns[i].Abbreviation, label)) {
			return &td.Columns[i]
		}
	}
	return nil
}

// SetSyncState applies a guarded table-level state transition. It
// reports whether the transition was honored: only transitions that
// touch the rest state are allowed, everything else is a no-op.
func (td *TableDefinition) SetSyncState(target SyncState) bool {
	if !td.SyncState.CanTransition(target) {
		return false
	}
	td.SyncState = target
	return true
}
