package sqlite

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meshrow/tabular/pkg/types"
)

func TestDefinitions_CreateAndGet(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)

	definition, err := b.Definitions().Get(tableID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if definition.DisplayName != "Students" {
		t.Errorf("display name: got %q", definition.DisplayName)
	}
	if !strings.HasPrefix(definition.DBTableName, "data_") {
		t.Errorf("db table name: got %q", definition.DBTableName)
	}
	if definition.SyncState != types.SyncInserting {
		t.Errorf("sync state: got %q", definition.SyncState)
	}
	if len(definition.Columns) != 3 {
		t.Fatalf("columns: got %d", len(definition.Columns))
	}
	if definition.Columns[0].Key != "name" || definition.Columns[2].Key != "gpa" {
		t.Errorf("column order not preserved: %+v", definition.Columns)
	}
	if len(definition.PrimeColumns) != 1 || definition.PrimeColumns[0] != "name" {
		t.Errorf("prime columns: got %v", definition.PrimeColumns)
	}
	if definition.SortColumn != "gpa" {
		t.Errorf("sort column: got %q", definition.SortColumn)
	}
}

func TestDefinitions_CreateDuplicateName(t *testing.T) {
	b := newTestBackend(t)
	createStudents(t, b)

	_, err := b.Definitions().Create(studentsDefinition())
	if !errors.Is(err, types.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestDefinitions_CreateInvalidColumns(t *testing.T) {
	b := newTestBackend(t)

	tests := []struct {
		name   string
		column types.Column
		want   error
	}{
		{"reserved key", types.Column{Key: "sync_state", DisplayName: "X", Type: types.ColumnTypeText}, types.ErrInvalidName},
		{"bad characters", types.Column{Key: "no spaces", DisplayName: "X", Type: types.ColumnTypeText}, types.ErrInvalidName},
		{"upper case", types.Column{Key: "Name", DisplayName: "X", Type: types.ColumnTypeText}, types.ErrInvalidName},
		{"unknown type", types.Column{Key: "x", DisplayName: "X", Type: "blob"}, types.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Definitions().Create(&types.TableDefinition{
				DisplayName: "Broken " + tt.name,
				Columns:     []types.Column{tt.column},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDefinitions_GetMissing(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Definitions().Get("no-such-table")
	if !errors.Is(err, types.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

func TestDefinitions_ListAndLookup(t *testing.T) {
	b := newTestBackend(t)
	createStudents(t, b)
	_, err := b.Definitions().Create(&types.TableDefinition{
		DisplayName: "Equipment",
		Columns: []types.Column{
			{Key: "status", DisplayName: "Status", Type: types.ColumnTypeText},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	definitions, err := b.Definitions().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(definitions) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(definitions))
	}
	if definitions[0].DisplayName != "Equipment" {
		t.Errorf("expected display-name order, got %q first", definitions[0].DisplayName)
	}

	definition, err := b.Definitions().GetByDisplayName("Students")
	if err != nil {
		t.Fatalf("GetByDisplayName failed: %v", err)
	}
	if definition.DisplayName != "Students" {
		t.Errorf("got %q", definition.DisplayName)
	}

	_, err = b.Definitions().GetByDisplayName("Gone")
	if !errors.Is(err, types.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

func TestDefinitions_SetDisplayName(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)
	otherID, err := b.Definitions().Create(&types.TableDefinition{DisplayName: "Equipment"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := b.Definitions().SetDisplayName(tableID, "Pupils"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}
	definition, _ := b.Definitions().Get(tableID)
	if definition.DisplayName != "Pupils" {
		t.Errorf("got %q", definition.DisplayName)
	}

	err = b.Definitions().SetDisplayName(otherID, "Pupils")
	if !errors.Is(err, types.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestDefinitions_SortAndPrimes(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)
	defs := b.Definitions()

	if err := defs.SetSortColumn(tableID, "name"); err != nil {
		t.Fatalf("SetSortColumn failed: %v", err)
	}
	if err := defs.SetSortColumn(tableID, ""); err != nil {
		t.Fatalf("clearing sort column failed: %v", err)
	}
	err := defs.SetSortColumn(tableID, "height")
	if !errors.Is(err, types.ErrColumnNotFound) {
		t.Errorf("expected ErrColumnNotFound, got %v", err)
	}

	if err := defs.SetPrimeColumns(tableID, []string{"name", "facility"}); err != nil {
		t.Fatalf("SetPrimeColumns failed: %v", err)
	}
	definition, _ := defs.Get(tableID)
	if len(definition.PrimeColumns) != 2 {
		t.Errorf("prime columns: got %v", definition.PrimeColumns)
	}
	err = defs.SetPrimeColumns(tableID, []string{"height"})
	if !errors.Is(err, types.ErrColumnNotFound) {
		t.Errorf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestDefinitions_SetSyncState(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)
	defs := b.Definitions()

	// inserting -> updating skips rest, refused
	applied, err := defs.SetSyncState(tableID, types.SyncUpdating)
	if err != nil {
		t.Fatalf("SetSyncState failed: %v", err)
	}
	if applied {
		t.Error("inserting -> updating should be refused")
	}

	applied, err = defs.SetSyncState(tableID, types.SyncRest)
	if err != nil || !applied {
		t.Fatalf("inserting -> rest: applied=%v err=%v", applied, err)
	}
	applied, err = defs.SetSyncState(tableID, types.SyncUpdating)
	if err != nil || !applied {
		t.Fatalf("rest -> updating: applied=%v err=%v", applied, err)
	}

	_, err = defs.SetSyncState(tableID, "limbo")
	if !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestDefinitions_AddAndRemoveColumn(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)
	defs := b.Definitions()

	err := defs.AddColumn(tableID, types.Column{Key: "height", DisplayName: "Height", Type: types.ColumnTypeNumber})
	if err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	err = defs.AddColumn(tableID, types.Column{Key: "height", DisplayName: "Again", Type: types.ColumnTypeNumber})
	if !errors.Is(err, types.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}

	rows, err := b.Rows(tableID)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	stored, err := rows.AddRow(map[string]string{"name": "ted", "gpa": "3.7", "height": "180"}, "", time.Time{})
	if err != nil {
		t.Fatalf("AddRow failed: %v", err)
	}

	// removing the sort column clears the sort and keeps the rows
	if err := defs.SetSortColumn(tableID, "height"); err != nil {
		t.Fatalf("SetSortColumn failed: %v", err)
	}
	if err := defs.RemoveColumn(tableID, "height"); err != nil {
		t.Fatalf("RemoveColumn failed: %v", err)
	}
	definition, _ := defs.Get(tableID)
	if definition.SortColumn != "" {
		t.Errorf("sort column not cleared: %q", definition.SortColumn)
	}
	if definition.ColumnByKey("height") != nil {
		t.Error("height column still present")
	}

	rows, err = b.Rows(tableID)
	if err != nil {
		t.Fatalf("Rows after rebuild failed: %v", err)
	}
	row, err := rows.Get(stored.RowID)
	if err != nil {
		t.Fatalf("Get after rebuild failed: %v", err)
	}
	if row.Value("name") != "ted" {
		t.Errorf("row lost in rebuild: %+v", row)
	}
	if _, ok := row.Values["height"]; ok {
		t.Error("removed column value survived")
	}

	err = defs.RemoveColumn(tableID, "height")
	if !errors.Is(err, types.ErrColumnNotFound) {
		t.Errorf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestDefinitions_MarkDeleted(t *testing.T) {
	b := newTestBackend(t)
	defs := b.Definitions()

	// a table the server never saw is dropped outright
	tableID := createStudents(t, b)
	dropped, err := defs.MarkDeleted(tableID)
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if !dropped {
		t.Error("pending insert should be dropped")
	}
	if _, err := defs.Get(tableID); !errors.Is(err, types.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}

	// a synchronized table is tombstoned for the synchronizer
	tableID = createStudents(t, b)
	if _, err := defs.SetSyncState(tableID, types.SyncRest); err != nil {
		t.Fatalf("SetSyncState failed: %v", err)
	}
	if err := defs.SetSynchronized(tableID, true); err != nil {
		t.Fatalf("SetSynchronized failed: %v", err)
	}
	dropped, err = defs.MarkDeleted(tableID)
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if dropped {
		t.Error("synchronized table should be tombstoned, not dropped")
	}
	definition, err := defs.Get(tableID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if definition.SyncState != types.SyncDeleting {
		t.Errorf("sync state: got %q", definition.SyncState)
	}
}

func TestDefinitions_Drop(t *testing.T) {
	b := newTestBackend(t)
	tableID := createStudents(t, b)

	kv, err := b.KV(types.StoreActive, tableID)
	if err != nil {
		t.Fatalf("KV failed: %v", err)
	}
	if err := kv.SetString(types.PartitionTable, types.DefaultAspect, "displayMode", "list"); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	if err := b.Definitions().Drop(tableID); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if _, err := b.Definitions().Get(tableID); !errors.Is(err, types.ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
	entries, err := kv.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("properties survived drop: %v", entries)
	}
}
