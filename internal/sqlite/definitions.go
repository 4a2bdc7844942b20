package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/meshrow/tabular/pkg/types"
)

// DefinitionStore manages table definitions: the catalog rows, the
// per-table column metadata, and the physical data tables they
// describe.
type DefinitionStore struct {
	backend *Backend
}

var columnKeyPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validateColumnKey(key string) error {
	if types.IsAdminColumn(key) {
		return fmt.Errorf("column key %q is reserved: %w", key, types.ErrInvalidName)
	}
	if !columnKeyPattern.MatchString(key) {
		return fmt.Errorf("column key %q: %w", key, types.ErrInvalidName)
	}
	return nil
}

// Create registers a new table from definition and creates its data
// table. The definition's TableID and DBTableName are assigned here;
// its sync state starts as inserting. Returns the assigned table id.
func (s *DefinitionStore) Create(definition *types.TableDefinition) (string, error) {
	db, err := s.backend.handle()
	if err != nil {
		return "", err
	}
	if definition.DisplayName == "" {
		return "", fmt.Errorf("display name is empty: %w", types.ErrInvalidName)
	}
	for _, column := range definition.Columns {
		if err := validateColumnKey(column.Key); err != nil {
			return "", err
		}
		if !types.ValidColumnType(column.Type) {
			return "", fmt.Errorf("column %q type %q: %w", column.Key, column.Type, types.ErrInvalidData)
		}
	}
	definition.TableID = generateUUID()
	definition.DBTableName = dataTableName(definition.TableID)
	definition.SyncState = types.SyncInserting
	if err := definition.Validate(); err != nil {
		return "", err
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	row := tx.QueryRow(`SELECT COUNT(*) FROM table_definitions WHERE display_name = ?`, definition.DisplayName)
	if err := row.Scan(&count); err != nil {
		return "", fmt.Errorf("checking display name: %w", err)
	}
	if count > 0 {
		return "", fmt.Errorf("table %q: %w", definition.DisplayName, types.ErrDuplicateName)
	}

	_, err = tx.Exec(`INSERT INTO table_definitions
		(table_id, db_table_name, display_name, sort_column, sync_state, sync_tag, is_synchronized)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		definition.TableID, definition.DBTableName, definition.DisplayName,
		definition.SortColumn, string(definition.SyncState), definition.SyncTag,
		boolToInt(definition.IsSynchronized))
	if err != nil {
		return "", fmt.Errorf("inserting definition: %w", err)
	}

	primes := make(map[string]bool, len(definition.PrimeColumns))
	for _, key := range definition.PrimeColumns {
		primes[key] = true
	}
	for ordinal, column := range definition.Columns {
		_, err = tx.Exec(`INSERT INTO column_definitions
			(table_id, column_key, display_name, abbreviation, column_type, is_prime, ordinal)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			definition.TableID, column.Key, column.DisplayName, column.Abbreviation,
			column.Type, boolToInt(primes[column.Key]), ordinal)
		if err != nil {
			return "", fmt.Errorf("inserting column %q: %w", column.Key, err)
		}
	}

	if _, err := tx.Exec(createDataTableSQL(definition.DBTableName, definition.Columns)); err != nil {
		return "", fmt.Errorf("creating data table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	s.backend.log.Info("table created", "table_id", definition.TableID, "display_name", definition.DisplayName)
	return definition.TableID, nil
}

// Get returns the definition for tableID, columns in creation order.
func (s *DefinitionStore) Get(tableID string) (*types.TableDefinition, error) {
	db, err := s.backend.handle()
	if err != nil {
		return nil, err
	}
	return s.get(db, tableID)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *DefinitionStore) get(q queryer, tableID string) (*types.TableDefinition, error) {
	definition := &types.TableDefinition{TableID: tableID}
	var state string
	var synchronized int
	row := q.QueryRow(`SELECT db_table_name, display_name, sort_column, sync_state, sync_tag, is_synchronized
		FROM table_definitions WHERE table_id = ?`, tableID)
	err := row.Scan(&definition.DBTableName, &definition.DisplayName, &definition.SortColumn,
		&state, &definition.SyncTag, &synchronized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %q: %w", tableID, types.ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	definition.SyncState = types.SyncState(state)
	definition.IsSynchronized = synchronized != 0

	rows, err := q.Query(`SELECT column_key, display_name, abbreviation, column_type, is_prime
		FROM column_definitions WHERE table_id = ? ORDER BY ordinal`, tableID)
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var column types.Column
		var prime int
		if err := rows.Scan(&column.Key, &column.DisplayName, &column.Abbreviation, &column.Type, &prime); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		definition.Columns = append(definition.Columns, column)
		if prime != 0 {
			definition.PrimeColumns = append(definition.PrimeColumns, column.Key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return definition, nil
}

// List returns every table definition, ordered by display name.
func (s *DefinitionStore) List() ([]*types.TableDefinition, error) {
	db, err := s.backend.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT table_id FROM table_definitions ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning table id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}

	definitions := make([]*types.TableDefinition, 0, len(ids))
	for _, id := range ids {
		definition, err := s.get(db, id)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}

// GetByDisplayName resolves a table by its user-visible name.
func (s *DefinitionStore) GetByDisplayName(name string) (*types.TableDefinition, error) {
	db, err := s.backend.handle()
	if err != nil {
		return nil, err
	}
	var tableID string
	row := db.QueryRow(`SELECT table_id FROM table_definitions WHERE display_name = ?`, name)
	if err := row.Scan(&tableID); errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %q: %w", name, types.ErrTableNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("resolving display name: %w", err)
	}
	return s.get(db, tableID)
}

// SetDisplayName renames a table. The new name must not collide with
// another table's name.
func (s *DefinitionStore) SetDisplayName(tableID, name string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("display name is empty: %w", types.ErrInvalidName)
	}
	var count int
	row := db.QueryRow(`SELECT COUNT(*) FROM table_definitions WHERE display_name = ? AND table_id != ?`, name, tableID)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("checking display name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("table %q: %w", name, types.ErrDuplicateName)
	}
	return s.updateField(db, tableID, "display_name", name)
}

// SetSortColumn sets the definition's sort column. An empty key clears
// it; otherwise the key must name an existing column.
func (s *DefinitionStore) SetSortColumn(tableID, columnKey string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	if columnKey != "" {
		if err := s.requireColumn(db, tableID, columnKey); err != nil {
			return err
		}
	}
	return s.updateField(db, tableID, "sort_column", columnKey)
}

// SetPrimeColumns replaces the set of prime columns. Every key must
// name an existing column.
func (s *DefinitionStore) SetPrimeColumns(tableID string, columnKeys []string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	for _, key := range columnKeys {
		if err := s.requireColumn(db, tableID, key); err != nil {
			return err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE column_definitions SET is_prime = 0 WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("clearing primes: %w", err)
	}
	for _, key := range columnKeys {
		if _, err := tx.Exec(`UPDATE column_definitions SET is_prime = 1 WHERE table_id = ? AND column_key = ?`, tableID, key); err != nil {
			return fmt.Errorf("setting prime %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SetSyncTag records the server's version marker for the table.
func (s *DefinitionStore) SetSyncTag(tableID, tag string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	return s.updateField(db, tableID, "sync_tag", tag)
}

// SetSynchronized marks whether the table participates in sync.
func (s *DefinitionStore) SetSynchronized(tableID string, synchronized bool) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	return s.updateField(db, tableID, "is_synchronized", boolToInt(synchronized))
}

// SetSyncState transitions the table's sync state. The transition is
// applied only when legal; the return reports whether it was.
func (s *DefinitionStore) SetSyncState(tableID string, target types.SyncState) (bool, error) {
	db, err := s.backend.handle()
	if err != nil {
		return false, err
	}
	if !target.Valid() {
		return false, fmt.Errorf("sync state %q: %w", target, types.ErrInvalidState)
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	row := tx.QueryRow(`SELECT sync_state FROM table_definitions WHERE table_id = ?`, tableID)
	if err := row.Scan(&state); errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("table %q: %w", tableID, types.ErrTableNotFound)
	} else if err != nil {
		return false, fmt.Errorf("reading sync state: %w", err)
	}
	if !types.SyncState(state).CanTransition(target) {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE table_definitions SET sync_state = ? WHERE table_id = ?`, string(target), tableID); err != nil {
		return false, fmt.Errorf("updating sync state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// AddColumn appends a column to the definition and to the data table.
func (s *DefinitionStore) AddColumn(tableID string, column types.Column) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	if err := validateColumnKey(column.Key); err != nil {
		return err
	}
	if !types.ValidColumnType(column.Type) {
		return fmt.Errorf("column %q type %q: %w", column.Key, column.Type, types.ErrInvalidData)
	}
	definition, err := s.get(db, tableID)
	if err != nil {
		return err
	}
	if definition.ColumnByKey(column.Key) != nil {
		return fmt.Errorf("column %q: %w", column.Key, types.ErrDuplicateName)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO column_definitions
		(table_id, column_key, display_name, abbreviation, column_type, is_prime, ordinal)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		tableID, column.Key, column.DisplayName, column.Abbreviation, column.Type, len(definition.Columns))
	if err != nil {
		return fmt.Errorf("inserting column: %w", err)
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", definition.DBTableName, column.Key, columnStorageType(column.Type))
	if _, err := tx.Exec(alter); err != nil {
		return fmt.Errorf("altering data table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RemoveColumn drops a column from the definition, the data table, and
// the column's properties in every store tier. The data table is
// rebuilt without the column. If the column was the sort column the
// sort is cleared; if it was prime it leaves the prime set.
func (s *DefinitionStore) RemoveColumn(tableID, columnKey string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	definition, err := s.get(db, tableID)
	if err != nil {
		return err
	}
	if definition.ColumnByKey(columnKey) == nil {
		return fmt.Errorf("column %q: %w", columnKey, types.ErrColumnNotFound)
	}

	remaining := make([]types.Column, 0, len(definition.Columns)-1)
	for _, column := range definition.Columns {
		if column.Key != columnKey {
			remaining = append(remaining, column)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM column_definitions WHERE table_id = ? AND column_key = ?`, tableID, columnKey); err != nil {
		return fmt.Errorf("deleting column definition: %w", err)
	}
	if definition.SortColumn == columnKey {
		if _, err := tx.Exec(`UPDATE table_definitions SET sort_column = '' WHERE table_id = ?`, tableID); err != nil {
			return fmt.Errorf("clearing sort column: %w", err)
		}
	}
	for _, backing := range kvTableNames {
		_, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE table_id = ? AND partition = ? AND aspect = ?`, backing),
			tableID, types.PartitionColumn, columnKey)
		if err != nil {
			return fmt.Errorf("deleting column properties: %w", err)
		}
	}

	// SQLite cannot drop a column in place on older library versions,
	// so rebuild the table and swap it in.
	rebuilt := definition.DBTableName + "_rebuild"
	if _, err := tx.Exec(createDataTableSQL(rebuilt, remaining)); err != nil {
		return fmt.Errorf("creating rebuilt table: %w", err)
	}
	kept := append([]string{}, types.AdminColumns...)
	for _, column := range remaining {
		kept = append(kept, column.Key)
	}
	columnList := strings.Join(kept, ", ")
	copySQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", rebuilt, columnList, columnList, definition.DBTableName)
	if _, err := tx.Exec(copySQL); err != nil {
		return fmt.Errorf("copying rows: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("DROP TABLE %s", definition.DBTableName)); err != nil {
		return fmt.Errorf("dropping old table: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", rebuilt, definition.DBTableName)); err != nil {
		return fmt.Errorf("renaming rebuilt table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// MarkDeleted requests deletion of a table. Tables the server has
// never seen are dropped outright; synchronized tables are flagged
// deleting so the synchronizer can finish the job. Returns true when
// the table was dropped.
func (s *DefinitionStore) MarkDeleted(tableID string) (bool, error) {
	definition, err := s.Get(tableID)
	if err != nil {
		return false, err
	}
	if definition.SyncState == types.SyncInserting || !definition.IsSynchronized {
		if err := s.Drop(tableID); err != nil {
			return false, err
		}
		return true, nil
	}
	applied, err := s.SetSyncState(tableID, types.SyncDeleting)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, fmt.Errorf("table %q in state %q: %w", tableID, definition.SyncState, types.ErrInvalidState)
	}
	return false, nil
}

// Drop removes the table entirely: catalog rows, data table, and
// properties in every store tier.
func (s *DefinitionStore) Drop(tableID string) error {
	db, err := s.backend.handle()
	if err != nil {
		return err
	}
	definition, err := s.get(db, tableID)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("DROP TABLE %s", definition.DBTableName)); err != nil {
		return fmt.Errorf("dropping data table: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM column_definitions WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("deleting column definitions: %w", err)
	}
	for _, backing := range kvTableNames {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE table_id = ?`, backing), tableID); err != nil {
			return fmt.Errorf("deleting properties: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM table_definitions WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("deleting definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	s.backend.log.Info("table dropped", "table_id", tableID, "display_name", definition.DisplayName)
	return nil
}

func (s *DefinitionStore) requireColumn(q queryer, tableID, columnKey string) error {
	var count int
	row := q.QueryRow(`SELECT COUNT(*) FROM column_definitions WHERE table_id = ? AND column_key = ?`, tableID, columnKey)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("checking column %q: %w", columnKey, err)
	}
	if count == 0 {
		return fmt.Errorf("column %q: %w", columnKey, types.ErrColumnNotFound)
	}
	return nil
}

func (s *DefinitionStore) updateField(db *sql.DB, tableID, field string, value any) error {
	result, err := db.Exec(fmt.Sprintf(`UPDATE table_definitions SET %s = ? WHERE table_id = ?`, field), value, tableID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", field, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("table %q: %w", tableID, types.ErrTableNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timestamp formats times the way data tables store them. Zero times
// resolve to the current moment.
func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
