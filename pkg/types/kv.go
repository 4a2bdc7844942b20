package types

// Store tiers. Each table has three parallel key/value stores: the
// active tier holds what the client is currently using and editing, the
// default tier holds the last server-visible baseline, and the server
// tier holds the representation exchanged during a sync pass.
const (
	StoreActive  = "active"
	StoreDefault = "default"
	StoreServer  = "server"
)

// StoreTiers lists the three tiers for enumeration.
var StoreTiers = []string{StoreActive, StoreDefault, StoreServer}

// Entry value types. The value field is always stored as text; the
// type label says how to decode it.
const (
	EntryTypeString  = "string"
	EntryTypeInteger = "integer"
	EntryTypeNumber  = "number"
	EntryTypeBoolean = "boolean"
	EntryTypeObject  = "object" // JSON object
	EntryTypeList    = "list"   // JSON array
)

// validEntryTypes is the set of recognized entry value types.
var validEntryTypes = map[string]bool{
	EntryTypeString:  true,
	EntryTypeInteger: true,
	EntryTypeNumber:  true,
	EntryTypeBoolean: true,
	EntryTypeObject:  true,
	EntryTypeList:    true,
}

// ValidEntryType reports whether the given string is a recognized
// entry value type.
func ValidEntryType(et string) bool {
	return validEntryTypes[et]
}

// DefaultAspect is the aspect used for single-instance settings within
// a partition. Named aspects distinguish multiple instances of the
// same feature, such as several saved list views.
const DefaultAspect = "default"

// Well-known property store partitions.
const (
	PartitionTable     = "Table"     // table-wide display settings
	PartitionColumn    = "Column"    // per-column settings; aspect = column key
	PartitionColorRule = "ColorRule" // color rule groups
	PartitionListView  = "ListView"  // saved list views; aspect = view name
)

// Well-known keys within the Table and Column partitions.
const (
	KeyDisplayMode = "displayMode" // Table: spreadsheet, list, map
	KeyDisplayName = "displayName" // Column: header label override
	KeySMSLabel    = "smsLabel"    // Column: short label for message input
	KeyFooterMode  = "footerMode"  // Column: aggregate shown below the column
)

// Footer modes selectable per column.
const (
	FooterNone    = "none"
	FooterCount   = "count"
	FooterMinimum = "min"
	FooterMaximum = "max"
	FooterSum     = "sum"
	FooterMean    = "mean"
)

// Entry is one typed key/value pair in a property store. Within one
// store the combination (TableID, Partition, Aspect, Key) is unique.
// Entries serialize in this form when a table's settings are exchanged
// with the synchronization collaborator.
type Entry struct {
	TableID   string `json:"table_id"`
	Partition string `json:"partition"`
	Aspect    string `json:"aspect"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}
