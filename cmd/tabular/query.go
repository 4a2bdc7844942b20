// Query command: free-text search over a table.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshrow/tabular/internal/sqlite"
	"github.com/meshrow/tabular/pkg/query"
	"github.com/meshrow/tabular/pkg/types"
)

var (
	flagQueryOverview  bool
	flagQueryConflicts bool
	flagQueryGroup     string
	flagQueryFooter    string
	flagQueryAggregate string
)

var queryCmd = &cobra.Command{
	Use:   "query <table> [text...]",
	Short: "Search rows with a free-text query",
	Long: `Search rows of a table. The query text is a sequence of key:value
tokens matched against column display names or abbreviations, for
example "Name:ted GPA:3.7". A token like "Equipment(Status:active)"
joins against another table. Without text all rows are returned.`,
	Args: cobra.MinimumNArgs(1),
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
		q, err := store.NewQuery()
		if err != nil {
			return err
		}
		if text := strings.Join(args[1:], " "); text != "" {
			if !q.Parse(text) {
				return fmt.Errorf("cannot resolve query %q against table %q", text, args[0])
			}
		}

		switch {
		case flagQueryConflicts:
			return runConflicts(store, q)
		case flagQueryGroup != "":
			return runGroup(store, q, flagQueryGroup)
		case flagQueryFooter != "":
			return runFooter(store, q, flagQueryFooter)
		case flagQueryOverview:
			rows, err := store.Overview(q)
			if err != nil {
				return fmt.Errorf("overview: %w", err)
			}
			return printRows(store, rows)
		default:
			rows, err := store.Search(q)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printRows(store, rows)
		}
	},
}

func init() {
	queryCmd.Flags().BoolVar(&flagQueryOverview, "overview", false,
		"collapse rows sharing prime column values to the latest per group")
	queryCmd.Flags().BoolVar(&flagQueryConflicts, "conflicts", false,
		"list unresolved conflict pairs matching the query")
	queryCmd.Flags().StringVar(&flagQueryGroup, "group", "",
		"group by the given column key and aggregate per group")
	queryCmd.Flags().StringVar(&flagQueryFooter, "footer", "",
		"aggregate the given column key over all matching rows")
	queryCmd.Flags().StringVar(&flagQueryAggregate, "aggregate", "count",
		"aggregate for --group/--footer: count, sum, min, max, average")
}

// parseGroupType maps the --aggregate flag to a query aggregate.
func parseGroupType(name string) (query.GroupType, error) {
	switch name {
	case "count":
		return query.Count, nil
	case "sum":
		return query.Sum, nil
	case "min":
		return query.Minimum, nil
	case "max":
		return query.Maximum, nil
	case "average":
		return query.Average, nil
	}
	return 0, fmt.Errorf("unknown aggregate %q", name)
}

func runGroup(store *sqlite.RowStore, q *query.Query, columnKey string) error {
	gt, err := parseGroupType(flagQueryAggregate)
	if err != nil {
		return err
	}
	groups, err := store.Group(q, columnKey, gt)
	if err != nil {
		return fmt.Errorf("group: %w", err)
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(groups)
	}
	for _, group := range groups {
		fmt.Printf("%s\t%s\n", group.Key, group.Value)
	}
	return nil
}

func runFooter(store *sqlite.RowStore, q *query.Query, columnKey string) error {
	gt, err := parseGroupType(flagQueryAggregate)
	if err != nil {
		return err
	}
	value, err := store.Footer(q, columnKey, gt)
	if err != nil {
		return fmt.Errorf("footer: %w", err)
	}
	fmt.Println(value)
	return nil
}

func runConflicts(store *sqlite.RowStore, q *query.Query) error {
	pairs, err := store.Conflicts(q)
	if err != nil {
		return fmt.Errorf("conflicts: %w", err)
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(pairs)
	}
	for _, pair := range pairs {
		fmt.Println("conflict:", pair.RowID)
		fmt.Println("  local: ", rowLine(pair.Local.Values))
		fmt.Println("  server:", rowLine(pair.Server.Values))
	}
	return nil
}

// rowLine renders a values map as a compact key=value line.
func rowLine(values map[string]string) string {
	parts := make([]string, 0, len(values))
	for key, value := range values {
		parts = append(parts, key+"="+value)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// printRows writes matching rows, one per line in column order.
func printRows(store *sqlite.RowStore, rows []*types.Row) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}
	definition := store.Definition()
	for _, row := range rows {
		fields := []string{row.RowID}
		for _, column := range definition.Columns {
			fields = append(fields, row.Value(column.Key))
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
	return nil
}
