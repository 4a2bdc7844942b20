// Package sqlite implements the tabular store on a single SQLite
// database file. The backend owns the connection and hands out
// scoped accessors for definitions, rows, and properties.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/meshrow/tabular/pkg/types"
)

const databaseFile = "tabular.db"

// Backend is the SQLite-backed store. A zero Backend is detached;
// call Attach before use. All methods are safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	log      *slog.Logger
}

// NewBackend returns a detached backend that logs through logger.
// A nil logger falls back to slog.Default.
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{log: logger}
}

// Attach opens (creating if needed) the database under the configured
// data directory and applies the schema. Attaching an attached backend
// is an error.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyOpen
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(config.DataDir, databaseFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	for _, ddl := range indexDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("applying indexes: %w", err)
		}
	}

	b.config = config
	b.db = db
	b.attached = true
	b.log.Debug("backend attached", "path", path)
	return nil
}

// Detach closes the database. Detaching a detached backend is a no-op.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.attached = false
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Definitions returns the table-definition accessor.
func (b *Backend) Definitions() *DefinitionStore {
	return &DefinitionStore{backend: b}
}

// Rows returns a row accessor bound to the identified table.
func (b *Backend) Rows(tableID string) (*RowStore, error) {
	definition, err := b.Definitions().Get(tableID)
	if err != nil {
		return nil, err
	}
	return &RowStore{backend: b, definition: definition}, nil
}

// KV returns a property accessor bound to one store tier of the
// identified table.
func (b *Backend) KV(tier, tableID string) (*KVStore, error) {
	backing, ok := kvTableNames[tier]
	if !ok {
		return nil, fmt.Errorf("store tier %q: %w", tier, types.ErrInvalidName)
	}
	return &KVStore{backend: b, tier: tier, backing: backing, tableID: tableID}, nil
}

// handle returns the open connection, or an error when detached.
func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendClosed
	}
	return b.db, nil
}

// generateUUID returns a time-ordered identifier, falling back to a
// random one if the clock is unusable.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// dataTableName derives a physical table name from a fresh identifier.
func dataTableName(tableID string) string {
	return "data_" + strings.ReplaceAll(tableID, "-", "")
}
