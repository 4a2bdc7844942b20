package sqlite

import (
	"fmt"
	"strings"

	"github.com/meshrow/tabular/pkg/types"
)

// Catalog and property tables. User data tables are created per
// definition; see createDataTableSQL.
const (
	createTableDefinitions = `
CREATE TABLE IF NOT EXISTS table_definitions (
	table_id        TEXT PRIMARY KEY,
	db_table_name   TEXT NOT NULL UNIQUE,
	display_name    TEXT NOT NULL,
	sort_column     TEXT NOT NULL DEFAULT '',
	sync_state      TEXT NOT NULL,
	sync_tag        TEXT NOT NULL DEFAULT '',
	is_synchronized INTEGER NOT NULL DEFAULT 0
);`

	createColumnDefinitions = `
CREATE TABLE IF NOT EXISTS column_definitions (
	table_id     TEXT NOT NULL,
	column_key   TEXT NOT NULL,
	display_name TEXT NOT NULL,
	abbreviation TEXT NOT NULL DEFAULT '',
	column_type  TEXT NOT NULL,
	is_prime     INTEGER NOT NULL DEFAULT 0,
	ordinal      INTEGER NOT NULL,
	PRIMARY KEY (table_id, column_key),
	FOREIGN KEY (table_id) REFERENCES table_definitions (table_id)
);`

	createKVActive = `
CREATE TABLE IF NOT EXISTS kvs_active (
	table_id   TEXT NOT NULL,
	partition  TEXT NOT NULL,
	aspect     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value_type TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (table_id, partition, aspect, key)
);`

	createKVDefault = `
CREATE TABLE IF NOT EXISTS kvs_default (
	table_id   TEXT NOT NULL,
	partition  TEXT NOT NULL,
	aspect     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value_type TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (table_id, partition, aspect, key)
);`

	createKVServer = `
CREATE TABLE IF NOT EXISTS kvs_server (
	table_id   TEXT NOT NULL,
	partition  TEXT NOT NULL,
	aspect     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value_type TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (table_id, partition, aspect, key)
);`
)

var schemaDDL = []string{
	createTableDefinitions,
	createColumnDefinitions,
	createKVActive,
	createKVDefault,
	createKVServer,
}

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_column_definitions_table ON column_definitions (table_id, ordinal);`,
	`CREATE INDEX IF NOT EXISTS idx_kvs_active_aspect ON kvs_active (table_id, partition, aspect);`,
	`CREATE INDEX IF NOT EXISTS idx_kvs_default_aspect ON kvs_default (table_id, partition, aspect);`,
	`CREATE INDEX IF NOT EXISTS idx_kvs_server_aspect ON kvs_server (table_id, partition, aspect);`,
}

// kvTableNames maps a store tier to its backing table.
var kvTableNames = map[string]string{
	types.StoreActive:  "kvs_active",
	types.StoreDefault: "kvs_default",
	types.StoreServer:  "kvs_server",
}

// columnStorageType maps a column type to the SQLite type used for its
// physical column. Numbers get REAL affinity so sorting and aggregates
// behave numerically; dates are stored as RFC 3339 text, which sorts
// chronologically.
func columnStorageType(columnType string) string {
	if columnType == types.ColumnTypeNumber {
		return "REAL"
	}
	return "TEXT"
}

// createDataTableSQL builds the CREATE TABLE statement for a user data
// table: the admin columns followed by one typed column per definition.
func createDataTableSQL(dbTableName string, columns []types.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", dbTableName)
	b.WriteString("\t" + types.RowIDColumn + " TEXT NOT NULL,\n")
	b.WriteString("\t" + types.SourceColumn + " TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("\t" + types.SyncTagColumn + " TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("\t" + types.SyncStateColumn + " TEXT NOT NULL,\n")
	b.WriteString("\t" + types.TransactioningColumn + " INTEGER NOT NULL DEFAULT 0,\n")
	b.WriteString("\t" + types.LastModColumn + " TEXT NOT NULL")
	for _, column := range columns {
		fmt.Fprintf(&b, ",\n\t%s %s", column.Key, columnStorageType(column.Type))
	}
	b.WriteString("\n);")
	return b.String()
}
