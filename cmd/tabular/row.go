// Row commands: insert, update, delete, and conflict resolution.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshrow/tabular/internal/sqlite"
	"github.com/meshrow/tabular/pkg/types"
)

var (
	flagRowSource string
	flagRowTag    string
)

var rowCmd = &cobra.Command{
	Use:   "row",
	Short: "Manage rows of a table",
}

func init() {
	rowAddCmd.Flags().StringVar(&flagRowSource, "source", "", "originating identifier, e.g. a phone number")
	rowUpdateCmd.Flags().StringVar(&flagRowSource, "source", "", "originating identifier, e.g. a phone number")
	rowResolveCmd.Flags().StringVar(&flagRowTag, "tag", "", "server sync tag to adopt for the resolved row")
	rowResolveCmd.MarkFlagRequired("tag")

	rowCmd.AddCommand(rowAddCmd)
	rowCmd.AddCommand(rowShowCmd)
	rowCmd.AddCommand(rowUpdateCmd)
	rowCmd.AddCommand(rowDeleteCmd)
	rowCmd.AddCommand(rowResolveCmd)
	rowCmd.AddCommand(rowPendingCmd)
}

// rowStore resolves a table by display name and returns its row store.
func rowStore(backend *sqlite.Backend, displayName string) (*sqlite.RowStore, error) {
	definition, err := backend.Definitions().GetByDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	return backend.Rows(definition.TableID)
}

// parseValues reads key=value arguments into a values map.
func parseValues(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("value %q: want key=value", arg)
		}
		values[key] = value
	}
	return values, nil
}

var rowAddCmd = &cobra.Command{
	Use:   "add <table> <key=value>...",
	Short: "Add a row",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseValues(args[1:])
		if err != nil {
			return err
		}
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		row, err := store.AddRow(values, flagRowSource, time.Time{})
		if err != nil {
			return fmt.Errorf("add row: %w", err)
		}
		fmt.Println(row.RowID)
		return nil
	},
}

var rowShowCmd = &cobra.Command{
	Use:   "show <table> <row-id>",
	Short: "Show one row",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		row, err := store.Get(args[1])
		if err != nil {
			return err
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(row)
		}
		printRow(store.Definition(), row)
		return nil
	},
}

var rowUpdateCmd = &cobra.Command{
	Use:   "update <table> <row-id> <key=value>...",
	Short: "Update columns of a row",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseValues(args[2:])
		if err != nil {
			return err
		}
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		if err := store.UpdateRow(args[1], values, flagRowSource, time.Time{}); err != nil {
			return fmt.Errorf("update row: %w", err)
		}
		return nil
	},
}

var rowDeleteCmd = &cobra.Command{
	Use:   "delete <table> <row-id>",
	Short: "Delete a row (tombstoned when the server knows it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		dropped, err := store.MarkDeleted(args[1])
		if err != nil {
			return fmt.Errorf("delete row: %w", err)
		}
		if dropped {
			fmt.Println("deleted")
		} else {
			fmt.Println("marked for deletion, pending sync")
		}
		return nil
	},
}

var rowResolveCmd = &cobra.Command{
	Use:   "resolve <table> <row-id> [key=value]...",
	Short: "Resolve a conflict pair, keeping the given values",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseValues(args[2:])
		if err != nil {
			return err
		}
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		if err := store.ResolveConflict(args[1], flagRowTag, values); err != nil {
			return fmt.Errorf("resolve conflict: %w", err)
		}
		return nil
	},
}

var rowPendingCmd = &cobra.Command{
	Use:   "pending <table>",
	Short: "List rows with local changes not yet synchronized",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		store, err := rowStore(backend, args[0])
		if err != nil {
			return err
		}
		rows, err := store.Pending()
		if err != nil {
			return fmt.Errorf("pending rows: %w", err)
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(rows)
		}
		for _, row := range rows {
			fmt.Printf("%s\t%s\n", row.RowID, row.SyncState)
		}
		return nil
	},
}

// printRow writes one row in column order followed by its sync fields.
func printRow(definition *types.TableDefinition, row *types.Row) {
	fmt.Println("id:", row.RowID)
	for _, column := range definition.Columns {
		fmt.Printf("%s: %s\n", column.Key, row.Value(column.Key))
	}
	fmt.Println("state:", row.SyncState)
	if row.SyncTag != "" {
		fmt.Println("tag:", row.SyncTag)
	}
	if !row.LastModified.IsZero() {
		fmt.Println("modified:", row.LastModified.Format(time.RFC3339))
	}
}
