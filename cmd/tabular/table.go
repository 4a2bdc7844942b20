// Table commands: definition CRUD.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshrow/tabular/pkg/types"
)

var (
	flagTableColumns []string
	flagTablePrimes  []string
	flagTableSort    string
	flagTableSync    bool
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage table definitions",
}

func init() {
	tableCreateCmd.Flags().StringArrayVar(&flagTableColumns, "column", nil,
		"column as key:DisplayName:type (type: text, number, date); repeatable")
	tableCreateCmd.Flags().StringSliceVar(&flagTablePrimes, "prime", nil, "prime column keys")
	tableCreateCmd.Flags().StringVar(&flagTableSort, "sort", "", "sort column key")
	tableCreateCmd.Flags().BoolVar(&flagTableSync, "sync", false, "enable remote sync for this table")

	tableCmd.AddCommand(tableCreateCmd)
	tableCmd.AddCommand(tableListCmd)
	tableCmd.AddCommand(tableShowCmd)
	tableCmd.AddCommand(tableDeleteCmd)
	tableCmd.AddCommand(tableAddColumnCmd)
	tableCmd.AddCommand(tableDropColumnCmd)
}

// parseColumnSpec reads a key:DisplayName:type column flag value.
func parseColumnSpec(spec string) (types.Column, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 {
		return types.Column{}, fmt.Errorf("column %q: want key:DisplayName:type", spec)
	}
	return types.Column{Key: parts[0], DisplayName: parts[1], Type: parts[2]}, nil
}

var tableCreateCmd = &cobra.Command{
	Use:   "create <display-name>",
	Short: "Create a table",
	Example: `  tabular table create Students \
    --column name:Name:text --column gpa:GPA:number \
    --prime name --sort gpa`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		definition := &types.TableDefinition{DisplayName: args[0]}
		for _, spec := range flagTableColumns {
			column, err := parseColumnSpec(spec)
			if err != nil {
				return err
			}
			definition.Columns = append(definition.Columns, column)
		}
		definition.PrimeColumns = flagTablePrimes
		definition.SortColumn = flagTableSort
		definition.IsSynchronized = flagTableSync

		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		tableID, err := backend.Definitions().Create(definition)
		if err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		fmt.Println(tableID)
		return nil
	},
}

var tableListCmd = &cobra.Command{
	Use:   "list",
	Short: "List table definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		definitions, err := backend.Definitions().List()
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(definitions)
		}
		for _, definition := range definitions {
			fmt.Printf("%s\t%s\t%s\t%d columns\n",
				definition.TableID, definition.DisplayName,
				definition.SyncState, len(definition.Columns))
		}
		return nil
	},
}

var tableShowCmd = &cobra.Command{
	Use:   "show <display-name>",
	Short: "Show one table definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		definition, err := backend.Definitions().GetByDisplayName(args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(definition)
		}
		fmt.Println("id:         ", definition.TableID)
		fmt.Println("name:       ", definition.DisplayName)
		fmt.Println("sync state: ", definition.SyncState)
		fmt.Println("sort column:", definition.SortColumn)
		fmt.Println("primes:     ", strings.Join(definition.PrimeColumns, ", "))
		for _, column := range definition.Columns {
			fmt.Printf("column: %s (%s, %s)\n", column.Key, column.DisplayName, column.Type)
		}
		return nil
	},
}

var tableDeleteCmd = &cobra.Command{
	Use:   "delete <display-name>",
	Short: "Delete a table (tombstoned when the server knows it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		definition, err := backend.Definitions().GetByDisplayName(args[0])
		if err != nil {
			return err
		}
		dropped, err := backend.Definitions().MarkDeleted(definition.TableID)
		if err != nil {
			return fmt.Errorf("delete table: %w", err)
		}
		if dropped {
			fmt.Println("dropped")
		} else {
			fmt.Println("marked for deletion, pending sync")
		}
		return nil
	},
}

var tableAddColumnCmd = &cobra.Command{
	Use:   "add-column <display-name> <key:DisplayName:type>",
	Short: "Add a column to a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		column, err := parseColumnSpec(args[1])
		if err != nil {
			return err
		}
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		definition, err := backend.Definitions().GetByDisplayName(args[0])
		if err != nil {
			return err
		}
		return backend.Definitions().AddColumn(definition.TableID, column)
	},
}

var tableDropColumnCmd = &cobra.Command{
	Use:   "drop-column <display-name> <key>",
	Short: "Remove a column, its data, and its properties",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		definition, err := backend.Definitions().GetByDisplayName(args[0])
		if err != nil {
			return err
		}
		return backend.Definitions().RemoveColumn(definition.TableID, args[1])
	},
}
