package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meshrow/tabular/pkg/query"
	"github.com/meshrow/tabular/pkg/types"
)

// RowStore reads and writes the data rows of one table. Writes move
// rows through the sync lifecycle; reads execute compiled queries and
// hydrate the results.
type RowStore struct {
	backend    *Backend
	definition *types.TableDefinition
}

// Definition returns the table definition the store is bound to.
func (rs *RowStore) Definition() *types.TableDefinition { return rs.definition }

// GroupResult is one row of a grouped aggregate: the group's column
// value and the aggregate computed over it.
type GroupResult struct {
	Key   string
	Value string
}

// NewQuery builds an empty query against this table, with the full
// catalog available for joins.
func (rs *RowStore) NewQuery() (*query.Query, error) {
	catalog, err := rs.backend.Definitions().List()
	if err != nil {
		return nil, err
	}
	return query.New(catalog, rs.definition), nil
}

// AddRow inserts a new row. On a sync-enabled table the row starts in
// the inserting state; otherwise it starts at rest and the sync fields
// stay vestigial. Values are keyed by column key; unknown keys are
// rejected. A zero lastMod resolves to now. Returns the stored row
// with its assigned ID.
func (rs *RowStore) AddRow(values map[string]string, source string, lastMod time.Time) (*types.Row, error) {
	if err := rs.validateValueKeys(values); err != nil {
		return nil, err
	}
	state := types.SyncRest
	if rs.definition.IsSynchronized {
		state = types.SyncInserting
	}
	row := &types.Row{
		RowID:        generateUUID(),
		Values:       values,
		SyncState:    state,
		LastModified: parseTimestamp(timestamp(lastMod)),
		Source:       source,
	}
	if err := rs.insert(row); err != nil {
		return nil, err
	}
	return row, nil
}

// InsertFetched stores a row exactly as given, preserving its ID, sync
// state, tag, and transactioning flag. The synchronizer uses it for
// rows arriving from the server, including the server copy of a
// conflict pair.
func (rs *RowStore) InsertFetched(row *types.Row) error {
	if row.RowID == "" {
		return fmt.Errorf("row id is empty: %w", types.ErrInvalidID)
	}
	if !row.SyncState.Valid() {
		return fmt.Errorf("sync state %q: %w", row.SyncState, types.ErrInvalidState)
	}
	if err := rs.validateValueKeys(row.Values); err != nil {
		return err
	}
	return rs.insert(row)
}

func (rs *RowStore) insert(row *types.Row) error {
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}
	columns := []string{
		types.RowIDColumn, types.SourceColumn, types.SyncTagColumn,
		types.SyncStateColumn, types.TransactioningColumn, types.LastModColumn,
	}
	args := []any{
		row.RowID, row.Source, row.SyncTag,
		string(row.SyncState), boolToInt(row.Transactioning), timestamp(row.LastModified),
	}
	for key, value := range row.Values {
		columns = append(columns, key)
		args = append(args, value)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rs.definition.DBTableName, strings.Join(columns, ", "), placeholders)
	if _, err := db.Exec(insertSQL, args...); err != nil {
		return fmt.Errorf("inserting row: %w", err)
	}
	return nil
}

// Get returns the row with the given ID. For a conflict pair the local
// version is returned.
func (rs *RowStore) Get(rowID string) (*types.Row, error) {
	db, err := rs.backend.handle()
	if err != nil {
		return nil, err
	}
	selectSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s ASC LIMIT 1",
		rs.selectList(), rs.definition.DBTableName, types.RowIDColumn, types.SyncStateColumn)
	rows, err := db.Query(selectSQL, rowID)
	if err != nil {
		return nil, fmt.Errorf("reading row: %w", err)
	}
	defer rows.Close()
	hydrated, err := rs.hydrate(rows)
	if err != nil {
		return nil, err
	}
	if len(hydrated) == 0 {
		return nil, fmt.Errorf("row %q: %w", rowID, types.ErrNotFound)
	}
	return hydrated[0], nil
}

// UpdateRow writes new values into a row and advances its sync state:
// a row at rest becomes updating, a pending insert or update keeps its
// state. A row in conflict also keeps its state and the edit lands on
// the local copy, leaving the server copy of the pair untouched. Only
// a tombstoned row refuses updates.
func (rs *RowStore) UpdateRow(rowID string, values map[string]string, source string, lastMod time.Time) error {
	if err := rs.validateValueKeys(values); err != nil {
		return err
	}
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := rs.rowState(tx, rowID)
	if err != nil {
		return err
	}
	switch state {
	case types.SyncRest:
		state = types.SyncUpdating
	case types.SyncInserting, types.SyncUpdating, types.SyncConflicting:
		// state is already pending upload or awaiting resolution; keep it
	default:
		return fmt.Errorf("row %q in state %q: %w", rowID, state, types.ErrInvalidState)
	}

	var sets strings.Builder
	args := make([]any, 0, len(values)+4)
	for key, value := range values {
		sets.WriteString(key + " = ?, ")
		args = append(args, value)
	}
	sets.WriteString(types.SourceColumn + " = ?, ")
	sets.WriteString(types.LastModColumn + " = ?, ")
	sets.WriteString(types.SyncStateColumn + " = ?")
	args = append(args, source, timestamp(lastMod), string(state), rowID, string(types.SyncDeleting))

	// the state predicate keeps the edit off the server copy of a
	// conflict pair, which shares the row id
	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND %s != ?",
		rs.definition.DBTableName, sets.String(), types.RowIDColumn, types.SyncStateColumn)
	if _, err := tx.Exec(updateSQL, args...); err != nil {
		return fmt.Errorf("updating row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// MarkDeleted requests deletion of a row. A row the server has never
// seen, either a pending insert or any row of an unsynchronized table,
// is removed outright; a row at rest or with a pending update is
// tombstoned as deleting for the synchronizer to finish. A row in
// conflict must be resolved first, and a tombstone cannot be deleted
// again. Returns true when the row was removed.
func (rs *RowStore) MarkDeleted(rowID string) (bool, error) {
	db, err := rs.backend.handle()
	if err != nil {
		return false, err
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := rs.rowState(tx, rowID)
	if err != nil {
		return false, err
	}
	if state == types.SyncInserting || !rs.definition.IsSynchronized {
		deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			rs.definition.DBTableName, types.RowIDColumn)
		if _, err := tx.Exec(deleteSQL, rowID); err != nil {
			return false, fmt.Errorf("deleting row: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("committing transaction: %w", err)
		}
		return true, nil
	}
	if state != types.SyncRest && state != types.SyncUpdating {
		// conflicting would tombstone both rows of the pair; a
		// tombstone is already awaiting the synchronizer
		return false, fmt.Errorf("row %q in state %q: %w", rowID, state, types.ErrInvalidState)
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		rs.definition.DBTableName, types.SyncStateColumn, types.LastModColumn, types.RowIDColumn)
	if _, err := tx.Exec(updateSQL, string(types.SyncDeleting), timestamp(time.Time{}), rowID); err != nil {
		return false, fmt.Errorf("tombstoning row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return false, nil
}

// Delete removes a row unconditionally. The synchronizer calls this
// after the server has acknowledged a deletion.
func (rs *RowStore) Delete(rowID string) error {
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		rs.definition.DBTableName, types.RowIDColumn)
	result, err := db.Exec(deleteSQL, rowID)
	if err != nil {
		return fmt.Errorf("deleting row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("row %q: %w", rowID, types.ErrNotFound)
	}
	return nil
}

// ResolveConflict settles a conflict pair in favor of the given
// values: the server copy is removed and the surviving row takes the
// values, the server's sync tag, and the updating state so the result
// uploads on the next sync.
func (rs *RowStore) ResolveConflict(rowID, serverTag string, values map[string]string) error {
	if err := rs.validateValueKeys(values); err != nil {
		return err
	}
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
		rs.definition.DBTableName, types.RowIDColumn, types.SyncStateColumn)
	if _, err := tx.Exec(deleteSQL, rowID, string(types.SyncDeleting)); err != nil {
		return fmt.Errorf("removing server copy: %w", err)
	}

	var sets strings.Builder
	args := make([]any, 0, len(values)+5)
	for key, value := range values {
		sets.WriteString(key + " = ?, ")
		args = append(args, value)
	}
	sets.WriteString(types.SyncTagColumn + " = ?, ")
	sets.WriteString(types.SyncStateColumn + " = ?, ")
	sets.WriteString(types.TransactioningColumn + " = 0, ")
	sets.WriteString(types.LastModColumn + " = ?")
	args = append(args, serverTag, string(types.SyncUpdating), timestamp(time.Time{}), rowID)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		rs.definition.DBTableName, sets.String(), types.RowIDColumn)
	result, err := tx.Exec(updateSQL, args...)
	if err != nil {
		return fmt.Errorf("updating surviving row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking resolve: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("row %q: %w", rowID, types.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CompleteSync marks a row as synchronized: state back to rest, the
// server's tag recorded, the transactioning flag cleared.
func (rs *RowStore) CompleteSync(rowID, syncTag string) error {
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}
	updateSQL := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ?, %s = 0 WHERE %s = ?",
		rs.definition.DBTableName, types.SyncStateColumn, types.SyncTagColumn,
		types.TransactioningColumn, types.RowIDColumn)
	result, err := db.Exec(updateSQL, string(types.SyncRest), syncTag, rowID)
	if err != nil {
		return fmt.Errorf("completing sync: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("row %q: %w", rowID, types.ErrNotFound)
	}
	return nil
}

// SetTransactioning flips the transactioning flag on the given rows.
// The synchronizer sets it before talking to the server and clears it
// after.
func (rs *RowStore) SetTransactioning(rowIDs []string, transactioning bool) error {
	if len(rowIDs) == 0 {
		return nil
	}
	db, err := rs.backend.handle()
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rowIDs)), ", ")
	updateSQL := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IN (%s)",
		rs.definition.DBTableName, types.TransactioningColumn, types.RowIDColumn, placeholders)
	args := make([]any, 0, len(rowIDs)+1)
	args = append(args, boolToInt(transactioning))
	for _, id := range rowIDs {
		args = append(args, id)
	}
	if _, err := db.Exec(updateSQL, args...); err != nil {
		return fmt.Errorf("setting transactioning: %w", err)
	}
	return nil
}

// Pending returns every row not at rest, the set the synchronizer
// pushes on the next sync.
func (rs *RowStore) Pending() ([]*types.Row, error) {
	db, err := rs.backend.handle()
	if err != nil {
		return nil, err
	}
	selectSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s != ? ORDER BY %s",
		rs.selectList(), rs.definition.DBTableName, types.SyncStateColumn, types.RowIDColumn)
	rows, err := db.Query(selectSQL, string(types.SyncRest))
	if err != nil {
		return nil, fmt.Errorf("reading pending rows: %w", err)
	}
	defer rows.Close()
	return rs.hydrate(rows)
}

// Search executes the query and returns the matching rows in query
// order.
func (rs *RowStore) Search(q *query.Query) ([]*types.Row, error) {
	return rs.execute(q.ToSQL(rs.queryColumns()))
}

// Overview executes the query's latest-row-per-group projection.
func (rs *RowStore) Overview(q *query.Query) ([]*types.Row, error) {
	return rs.execute(q.ToOverviewSQL(rs.queryColumns()))
}

// Group executes a grouped aggregate over one column.
func (rs *RowStore) Group(q *query.Query, columnKey string, gt query.GroupType) ([]GroupResult, error) {
	if rs.definition.ColumnByKey(columnKey) == nil {
		return nil, fmt.Errorf("column %q: %w", columnKey, types.ErrColumnNotFound)
	}
	db, err := rs.backend.handle()
	if err != nil {
		return nil, err
	}
	sd := q.ToGroupSQL(columnKey, gt)
	rows, err := db.Query(sd.SQL(), sd.Args()...)
	if err != nil {
		return nil, fmt.Errorf("executing group query: %w", err)
	}
	defer rows.Close()

	var results []GroupResult
	for rows.Next() {
		var key, value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		results = append(results, GroupResult{Key: key.String, Value: value.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}
	return results, nil
}

// Footer executes a single aggregate over one column for the rows the
// query matches.
func (rs *RowStore) Footer(q *query.Query, columnKey string, gt query.GroupType) (string, error) {
	if rs.definition.ColumnByKey(columnKey) == nil {
		return "", fmt.Errorf("column %q: %w", columnKey, types.ErrColumnNotFound)
	}
	db, err := rs.backend.handle()
	if err != nil {
		return "", err
	}
	sd := q.ToFooterSQL(columnKey, gt)
	var value sql.NullString
	if err := db.QueryRow(sd.SQL(), sd.Args()...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing footer query: %w", err)
	}
	return value.String, nil
}

// ColumnFooter computes the aggregate configured for a column in its
// settings, reading footerMode from the active property tier. Returns
// the empty string when the mode is unset or none.
func (rs *RowStore) ColumnFooter(q *query.Query, columnKey string) (string, error) {
	kv, err := rs.backend.KV(types.StoreActive, rs.definition.TableID)
	if err != nil {
		return "", err
	}
	mode, found, err := kv.GetString(types.PartitionColumn, columnKey, types.KeyFooterMode)
	if err != nil {
		return "", err
	}
	if !found || mode == types.FooterNone {
		return "", nil
	}
	gt, err := footerGroupType(mode)
	if err != nil {
		return "", err
	}
	return rs.Footer(q, columnKey, gt)
}

func footerGroupType(mode string) (query.GroupType, error) {
	switch mode {
	case types.FooterCount:
		return query.Count, nil
	case types.FooterSum:
		return query.Sum, nil
	case types.FooterMinimum:
		return query.Minimum, nil
	case types.FooterMaximum:
		return query.Maximum, nil
	case types.FooterMean:
		return query.Average, nil
	}
	return 0, fmt.Errorf("footer mode %q: %w", mode, types.ErrInvalidData)
}

// Conflicts executes the query's conflict projection and pairs the
// results: each pair holds the local version and the server copy of
// one row ID.
func (rs *RowStore) Conflicts(q *query.Query) ([]types.ConflictPair, error) {
	db, err := rs.backend.handle()
	if err != nil {
		return nil, err
	}
	sd := q.ToConflictSQL(rs.queryColumns())
	rows, err := db.Query(sd.SQL(), sd.Args()...)
	if err != nil {
		return nil, fmt.Errorf("executing conflict query: %w", err)
	}
	defer rows.Close()
	hydrated, err := rs.hydrate(rows)
	if err != nil {
		return nil, err
	}
	if len(hydrated)%2 != 0 {
		return nil, fmt.Errorf("conflict rows unpaired: %w", types.ErrInvalidData)
	}

	pairs := make([]types.ConflictPair, 0, len(hydrated)/2)
	for i := 0; i < len(hydrated); i += 2 {
		local, server := hydrated[i], hydrated[i+1]
		if local.RowID != server.RowID {
			return nil, fmt.Errorf("conflict rows unpaired: %w", types.ErrInvalidData)
		}
		pairs = append(pairs, types.ConflictPair{RowID: local.RowID, Local: local, Server: server})
	}
	return pairs, nil
}

// queryColumns lists the columns compiled queries select after the row
// ID: every user column, then the remaining admin columns.
func (rs *RowStore) queryColumns() []string {
	columns := rs.definition.ColumnKeys()
	for _, admin := range types.AdminColumns {
		if admin != types.RowIDColumn {
			columns = append(columns, admin)
		}
	}
	return columns
}

// selectList is queryColumns rendered for a plain unqualified SELECT,
// with the row ID first.
func (rs *RowStore) selectList() string {
	return types.RowIDColumn + ", " + strings.Join(rs.queryColumns(), ", ")
}

func (rs *RowStore) execute(sd *query.SQLData) ([]*types.Row, error) {
	db, err := rs.backend.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(sd.SQL(), sd.Args()...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()
	return rs.hydrate(rows)
}

// hydrate scans a result set whose output columns are named after the
// table's columns, splitting admin columns into row fields and user
// columns into the value map.
func (rs *RowStore) hydrate(rows *sql.Rows) ([]*types.Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var out []*types.Row
	for rows.Next() {
		scanned := make([]sql.NullString, len(names))
		dests := make([]any, len(names))
		for i := range scanned {
			dests[i] = &scanned[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := &types.Row{Values: make(map[string]string)}
		for i, name := range names {
			value := scanned[i].String
			switch name {
			case types.RowIDColumn:
				row.RowID = value
			case types.SourceColumn:
				row.Source = value
			case types.SyncTagColumn:
				row.SyncTag = value
			case types.SyncStateColumn:
				row.SyncState = types.SyncState(value)
			case types.TransactioningColumn:
				row.Transactioning = value == "1"
			case types.LastModColumn:
				row.LastModified = parseTimestamp(value)
			default:
				if scanned[i].Valid {
					row.Values[name] = value
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func (rs *RowStore) rowState(q queryer, rowID string) (types.SyncState, error) {
	selectSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s ASC LIMIT 1",
		types.SyncStateColumn, rs.definition.DBTableName, types.RowIDColumn, types.SyncStateColumn)
	var state string
	err := q.QueryRow(selectSQL, rowID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("row %q: %w", rowID, types.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading row state: %w", err)
	}
	return types.SyncState(state), nil
}

func (rs *RowStore) validateValueKeys(values map[string]string) error {
	for key := range values {
		if rs.definition.ColumnByKey(key) == nil {
			return fmt.Errorf("column %q: %w", key, types.ErrColumnNotFound)
		}
	}
	return nil
}

// parseTimestamp reads a stored last-modified value; unparseable text
// yields the zero time.
func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
