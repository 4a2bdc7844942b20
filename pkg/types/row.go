package types

import "time"

// Row is one record in a user table. All column values are stored and
// compared as text; numeric and date comparisons are performed by
// parsing at query time according to the column's type.
type Row struct {
	RowID          string            // client-generated UUID, globally unique
	Values         map[string]string // column key -> string-encoded value
	SyncState      SyncState
	SyncTag        string // opaque server version marker, empty until first sync
	LastModified   time.Time
	Source         string // originating identifier (e.g. phone number), optional
	Transactioning bool   // true while a sync exchange for this row is in flight
}

// Value returns the string-encoded value for the given column key, or
// the empty string when the column is absent.
func (r *Row) Value(columnKey string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[columnKey]
}

// ConflictPair surfaces the two divergent versions of one row: the
// local edit and the server's copy, each carrying its own sync tag.
type ConflictPair struct {
	RowID  string
	Local  *Row
	Server *Row
}
