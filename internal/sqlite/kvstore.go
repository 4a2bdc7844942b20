package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/meshrow/tabular/pkg/types"
)

// KVStore reads and writes the properties of one table in one store
// tier. Every value is stored as text tagged with its type; the typed
// accessors enforce the tag on the way out.
type KVStore struct {
	backend *Backend
	tier    string
	backing string
	tableID string
}

// Tier returns the store tier the accessor is bound to.
func (kv *KVStore) Tier() string { return kv.tier }

// GetString returns a string property. The second return reports
// whether the key was present.
func (kv *KVStore) GetString(partition, aspect, key string) (string, bool, error) {
	value, found, err := kv.get(partition, aspect, key, types.EntryTypeString)
	return value, found, err
}

// GetInteger returns an integer property.
func (kv *KVStore) GetInteger(partition, aspect, key string) (int64, bool, error) {
	value, found, err := kv.get(partition, aspect, key, types.EntryTypeInteger)
	if err != nil || !found {
		return 0, found, err
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("property %s/%s/%s: %w", partition, aspect, key, types.ErrTypeMismatch)
	}
	return parsed, true, nil
}

// GetNumber returns a numeric property.
func (kv *KVStore) GetNumber(partition, aspect, key string) (float64, bool, error) {
	value, found, err := kv.get(partition, aspect, key, types.EntryTypeNumber)
	if err != nil || !found {
		return 0, found, err
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("property %s/%s/%s: %w", partition, aspect, key, types.ErrTypeMismatch)
	}
	return parsed, true, nil
}

// GetBoolean returns a boolean property.
func (kv *KVStore) GetBoolean(partition, aspect, key string) (bool, bool, error) {
	value, found, err := kv.get(partition, aspect, key, types.EntryTypeBoolean)
	if err != nil || !found {
		return false, found, err
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("property %s/%s/%s: %w", partition, aspect, key, types.ErrTypeMismatch)
	}
	return parsed, true, nil
}

// GetObject decodes an object property into dest.
func (kv *KVStore) GetObject(partition, aspect, key string, dest any) (bool, error) {
	return kv.getJSON(partition, aspect, key, types.EntryTypeObject, dest)
}

// GetList decodes a list property into dest.
func (kv *KVStore) GetList(partition, aspect, key string, dest any) (bool, error) {
	return kv.getJSON(partition, aspect, key, types.EntryTypeList, dest)
}

func (kv *KVStore) getJSON(partition, aspect, key, entryType string, dest any) (bool, error) {
	value, found, err := kv.get(partition, aspect, key, entryType)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("decoding property %s/%s/%s: %w", partition, aspect, key, err)
	}
	return true, nil
}

func (kv *KVStore) get(partition, aspect, key, entryType string) (string, bool, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return "", false, err
	}
	selectSQL := fmt.Sprintf(`SELECT value_type, value FROM %s
		WHERE table_id = ? AND partition = ? AND aspect = ? AND key = ?`, kv.backing)
	var storedType, value string
	err = db.QueryRow(selectSQL, kv.tableID, partition, aspect, key).Scan(&storedType, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading property: %w", err)
	}
	if storedType != entryType {
		return "", false, fmt.Errorf("property %s/%s/%s is %s not %s: %w",
			partition, aspect, key, storedType, entryType, types.ErrTypeMismatch)
	}
	return value, true, nil
}

// SetString stores a string property, replacing any previous value.
func (kv *KVStore) SetString(partition, aspect, key, value string) error {
	return kv.set(partition, aspect, key, types.EntryTypeString, value)
}

// SetInteger stores an integer property.
func (kv *KVStore) SetInteger(partition, aspect, key string, value int64) error {
	return kv.set(partition, aspect, key, types.EntryTypeInteger, strconv.FormatInt(value, 10))
}

// SetNumber stores a numeric property.
func (kv *KVStore) SetNumber(partition, aspect, key string, value float64) error {
	return kv.set(partition, aspect, key, types.EntryTypeNumber, strconv.FormatFloat(value, 'g', -1, 64))
}

// SetBoolean stores a boolean property.
func (kv *KVStore) SetBoolean(partition, aspect, key string, value bool) error {
	return kv.set(partition, aspect, key, types.EntryTypeBoolean, strconv.FormatBool(value))
}

// SetObject encodes value as JSON and stores it as an object property.
func (kv *KVStore) SetObject(partition, aspect, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding property %s/%s/%s: %w", partition, aspect, key, err)
	}
	return kv.set(partition, aspect, key, types.EntryTypeObject, string(encoded))
}

// SetList encodes value as JSON and stores it as a list property.
func (kv *KVStore) SetList(partition, aspect, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding property %s/%s/%s: %w", partition, aspect, key, err)
	}
	return kv.set(partition, aspect, key, types.EntryTypeList, string(encoded))
}

// set replaces a property as delete then insert inside one
// transaction, so a type change never leaves a stale tag behind.
func (kv *KVStore) set(partition, aspect, key, entryType, value string) error {
	db, err := kv.backend.handle()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	deleteSQL := fmt.Sprintf(`DELETE FROM %s
		WHERE table_id = ? AND partition = ? AND aspect = ? AND key = ?`, kv.backing)
	if _, err := tx.Exec(deleteSQL, kv.tableID, partition, aspect, key); err != nil {
		return fmt.Errorf("clearing property: %w", err)
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s (table_id, partition, aspect, key, value_type, value)
		VALUES (?, ?, ?, ?, ?, ?)`, kv.backing)
	if _, err := tx.Exec(insertSQL, kv.tableID, partition, aspect, key, entryType, value); err != nil {
		return fmt.Errorf("storing property: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RemoveKey deletes a property and reports how many entries went away.
func (kv *KVStore) RemoveKey(partition, aspect, key string) (int64, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return 0, err
	}
	deleteSQL := fmt.Sprintf(`DELETE FROM %s
		WHERE table_id = ? AND partition = ? AND aspect = ? AND key = ?`, kv.backing)
	result, err := db.Exec(deleteSQL, kv.tableID, partition, aspect, key)
	if err != nil {
		return 0, fmt.Errorf("removing property: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking removal: %w", err)
	}
	return affected, nil
}

// ListAspects returns the distinct aspects present under a partition.
func (kv *KVStore) ListAspects(partition string) ([]string, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return nil, err
	}
	selectSQL := fmt.Sprintf(`SELECT DISTINCT aspect FROM %s
		WHERE table_id = ? AND partition = ? ORDER BY aspect`, kv.backing)
	rows, err := db.Query(selectSQL, kv.tableID, partition)
	if err != nil {
		return nil, fmt.Errorf("listing aspects: %w", err)
	}
	defer rows.Close()

	var aspects []string
	for rows.Next() {
		var aspect string
		if err := rows.Scan(&aspect); err != nil {
			return nil, fmt.Errorf("scanning aspect: %w", err)
		}
		aspects = append(aspects, aspect)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aspects: %w", err)
	}
	return aspects, nil
}

// Entries returns every property of the table in this tier, ordered by
// partition, aspect, and key.
func (kv *KVStore) Entries() ([]types.Entry, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return nil, err
	}
	selectSQL := fmt.Sprintf(`SELECT partition, aspect, key, value_type, value FROM %s
		WHERE table_id = ? ORDER BY partition, aspect, key`, kv.backing)
	rows, err := db.Query(selectSQL, kv.tableID)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	defer rows.Close()

	var entries []types.Entry
	for rows.Next() {
		entry := types.Entry{TableID: kv.tableID}
		if err := rows.Scan(&entry.Partition, &entry.Aspect, &entry.Key, &entry.Type, &entry.Value); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}
	return entries, nil
}

// ClearAspect deletes every property under one aspect of a partition.
func (kv *KVStore) ClearAspect(partition, aspect string) (int64, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return 0, err
	}
	deleteSQL := fmt.Sprintf(`DELETE FROM %s
		WHERE table_id = ? AND partition = ? AND aspect = ?`, kv.backing)
	result, err := db.Exec(deleteSQL, kv.tableID, partition, aspect)
	if err != nil {
		return 0, fmt.Errorf("clearing aspect: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking clear: %w", err)
	}
	return affected, nil
}

// Clear deletes every property of the table in this tier.
func (kv *KVStore) Clear() (int64, error) {
	db, err := kv.backend.handle()
	if err != nil {
		return 0, err
	}
	result, err := db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE table_id = ?`, kv.backing), kv.tableID)
	if err != nil {
		return 0, fmt.Errorf("clearing properties: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking clear: %w", err)
	}
	return affected, nil
}

// Promote copies a table's active properties over its defaults: the
// default tier is cleared and the active tier copied in whole, in one
// transaction.
func (b *Backend) Promote(tableID string) error {
	return b.copyTier(tableID, types.StoreActive, types.StoreDefault)
}

// Revert discards a table's active properties and restores them from
// the defaults.
func (b *Backend) Revert(tableID string) error {
	return b.copyTier(tableID, types.StoreDefault, types.StoreActive)
}

// MergeServerIntoDefault replaces a table's default properties with
// the server's copy.
func (b *Backend) MergeServerIntoDefault(tableID string) error {
	return b.copyTier(tableID, types.StoreServer, types.StoreDefault)
}

func (b *Backend) copyTier(tableID, fromTier, toTier string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	from, to := kvTableNames[fromTier], kvTableNames[toTier]

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE table_id = ?`, to), tableID); err != nil {
		return fmt.Errorf("clearing %s properties: %w", toTier, err)
	}
	copySQL := fmt.Sprintf(`INSERT INTO %s (table_id, partition, aspect, key, value_type, value)
		SELECT table_id, partition, aspect, key, value_type, value FROM %s WHERE table_id = ?`, to, from)
	if _, err := tx.Exec(copySQL, tableID); err != nil {
		return fmt.Errorf("copying %s properties: %w", fromTier, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	b.log.Debug("properties copied", "table_id", tableID, "from", fromTier, "to", toTier)
	return nil
}

// ImportEntries replaces a table's properties in one tier with the
// given entries, in one transaction. Entries for other tables are
// rejected.
func (b *Backend) ImportEntries(tier, tableID string, entries []types.Entry) error {
	backing, ok := kvTableNames[tier]
	if !ok {
		return fmt.Errorf("store tier %q: %w", tier, types.ErrInvalidName)
	}
	for _, entry := range entries {
		if entry.TableID != "" && entry.TableID != tableID {
			return fmt.Errorf("entry for table %q: %w", entry.TableID, types.ErrInvalidData)
		}
		if !types.ValidEntryType(entry.Type) {
			return fmt.Errorf("entry %s/%s/%s type %q: %w",
				entry.Partition, entry.Aspect, entry.Key, entry.Type, types.ErrInvalidData)
		}
	}
	db, err := b.handle()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE table_id = ?`, backing), tableID); err != nil {
		return fmt.Errorf("clearing properties: %w", err)
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s (table_id, partition, aspect, key, value_type, value)
		VALUES (?, ?, ?, ?, ?, ?)`, backing)
	for _, entry := range entries {
		if _, err := tx.Exec(insertSQL, tableID, entry.Partition, entry.Aspect, entry.Key, entry.Type, entry.Value); err != nil {
			return fmt.Errorf("storing entry %s/%s/%s: %w", entry.Partition, entry.Aspect, entry.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
