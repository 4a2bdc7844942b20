package types

// Admin columns present in every physical user table in addition to
// the user-defined columns. These names are reserved and may not be
// used as user column keys.
const (
	RowIDColumn          = "id"
	SourceColumn         = "source_id"
	SyncTagColumn        = "sync_tag"
	SyncStateColumn      = "sync_state"
	TransactioningColumn = "transactioning"
	LastModColumn        = "last_mod_time"
)

// AdminColumns lists the reserved columns in storage order.
var AdminColumns = []string{
	RowIDColumn,
	SourceColumn,
	SyncTagColumn,
	SyncStateColumn,
	TransactioningColumn,
	LastModColumn,
}

// adminColumnSet indexes AdminColumns for membership checks.
var adminColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(AdminColumns))
	for _, c := range AdminColumns {
		m[c] = true
	}
	return m
}()

// IsAdminColumn reports whether the given key names a reserved column.
func IsAdminColumn(key string) bool {
	return adminColumnSet[key]
}
