package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/meshrow/tabular/pkg/types"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(nil)
	config := types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	t.Cleanup(func() { b.Detach() })
	return b
}

func studentsDefinition() *types.TableDefinition {
	return &types.TableDefinition{
		DisplayName: "Students",
		Columns: []types.Column{
			{Key: "name", DisplayName: "Name", Type: types.ColumnTypeText},
			{Key: "facility", DisplayName: "Facility", Abbreviation: "fac", Type: types.ColumnTypeText},
			{Key: "gpa", DisplayName: "GPA", Type: types.ColumnTypeNumber},
		},
		PrimeColumns:   []string{"name"},
		SortColumn:     "gpa",
		IsSynchronized: true,
	}
}

func createStudents(t *testing.T, b *Backend) string {
	t.Helper()
	tableID, err := b.Definitions().Create(studentsDefinition())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return tableID
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend(nil)
	config := types.Config{
		Backend: types.BackendSQLite,
		DataDir: tmpDir,
	}

	err := b.Attach(config)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	dbPath := filepath.Join(tmpDir, databaseFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("%s not created", databaseFile)
	}

	err = b.Attach(config)
	if !errors.Is(err, types.ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}

	b.Detach()
}

func TestBackend_Detach(t *testing.T) {
	b := NewBackend(nil)
	config := types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}

	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	// Detach is idempotent
	if err := b.Detach(); err != nil {
		t.Errorf("second Detach failed: %v", err)
	}

	_, err := b.Definitions().List()
	if !errors.Is(err, types.ErrBackendClosed) {
		t.Errorf("expected ErrBackendClosed, got %v", err)
	}
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend(nil)

	err := b.Attach(types.Config{DataDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for empty backend")
	}

	err = b.Attach(types.Config{Backend: "postgres", DataDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	tmpDir := t.TempDir()
	config := types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}

	b := NewBackend(nil)
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	tableID := createStudents(t, b)
	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	if err := b.Attach(config); err != nil {
		t.Fatalf("re-Attach failed: %v", err)
	}
	defer b.Detach()

	definition, err := b.Definitions().Get(tableID)
	if err != nil {
		t.Fatalf("Get after reattach failed: %v", err)
	}
	if definition.DisplayName != "Students" {
		t.Errorf("expected Students, got %q", definition.DisplayName)
	}
}

func TestBackend_KVUnknownTier(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.KV("staging", "some-table")
	if !errors.Is(err, types.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}
