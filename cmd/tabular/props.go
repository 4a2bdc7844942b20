// Property commands: per-table key/value settings across the three
// store tiers.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/meshrow/tabular/internal/sqlite"
	"github.com/meshrow/tabular/pkg/types"
)

var (
	flagPropTier string
	flagPropType string
)

var propCmd = &cobra.Command{
	Use:   "prop",
	Short: "Manage table properties",
	Long: `Manage the key/value properties of a table. Each table carries
three property tiers: active (what the client edits), default (the
last server baseline), and server (the form exchanged during sync).
Properties are addressed by partition, aspect, and key.`,
}

func init() {
	propCmd.PersistentFlags().StringVar(&flagPropTier, "tier", types.StoreActive,
		"property tier: active, default, or server")
	propSetCmd.Flags().StringVar(&flagPropType, "type", types.EntryTypeString,
		"value type: string, integer, number, boolean, object, list")

	propCmd.AddCommand(propGetCmd)
	propCmd.AddCommand(propSetCmd)
	propCmd.AddCommand(propRemoveCmd)
	propCmd.AddCommand(propListCmd)
	propCmd.AddCommand(propPromoteCmd)
	propCmd.AddCommand(propRevertCmd)
	propCmd.AddCommand(propMergeCmd)
	propCmd.AddCommand(propImportCmd)
	propCmd.AddCommand(propExportCmd)
}

// propStore resolves a table by display name and opens the requested
// tier of its property store.
func propStore(backend *sqlite.Backend, displayName string) (*sqlite.KVStore, string, error) {
	definition, err := backend.Definitions().GetByDisplayName(displayName)
	if err != nil {
		return nil, "", err
	}
	kv, err := backend.KV(flagPropTier, definition.TableID)
	if err != nil {
		return nil, "", err
	}
	return kv, definition.TableID, nil
}

var propGetCmd = &cobra.Command{
	Use:   "get <table> <partition> <aspect> <key>",
	Short: "Read one property",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		kv, _, err := propStore(backend, args[0])
		if err != nil {
			return err
		}
		entries, err := kv.Entries()
		if err != nil {
			return fmt.Errorf("get property: %w", err)
		}
		for _, entry := range entries {
			if entry.Partition == args[1] && entry.Aspect == args[2] && entry.Key == args[3] {
				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(entry)
				}
				fmt.Println(entry.Value)
				return nil
			}
		}
		return fmt.Errorf("property %s/%s/%s: %w", args[1], args[2], args[3], types.ErrNotFound)
	},
}

var propSetCmd = &cobra.Command{
	Use:   "set <table> <partition> <aspect> <key> <value>",
	Short: "Write one property",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		kv, _, err := propStore(backend, args[0])
		if err != nil {
			return err
		}
		partition, aspect, key, raw := args[1], args[2], args[3], args[4]
		switch flagPropType {
		case types.EntryTypeString:
			err = kv.SetString(partition, aspect, key, raw)
		case types.EntryTypeInteger:
			var v int64
			if v, err = strconv.ParseInt(raw, 10, 64); err == nil {
				err = kv.SetInteger(partition, aspect, key, v)
			}
		case types.EntryTypeNumber:
			var v float64
			if v, err = strconv.ParseFloat(raw, 64); err == nil {
				err = kv.SetNumber(partition, aspect, key, v)
			}
		case types.EntryTypeBoolean:
			var v bool
			if v, err = strconv.ParseBool(raw); err == nil {
				err = kv.SetBoolean(partition, aspect, key, v)
			}
		case types.EntryTypeObject, types.EntryTypeList:
			var v any
			if err = json.Unmarshal([]byte(raw), &v); err == nil {
				if flagPropType == types.EntryTypeObject {
					err = kv.SetObject(partition, aspect, key, v)
				} else {
					err = kv.SetList(partition, aspect, key, v)
				}
			}
		default:
			return fmt.Errorf("unknown value type %q", flagPropType)
		}
		if err != nil {
			return fmt.Errorf("set property: %w", err)
		}
		return nil
	},
}

var propRemoveCmd = &cobra.Command{
	Use:   "remove <table> <partition> <aspect> <key>",
	Short: "Remove one property",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		kv, _, err := propStore(backend, args[0])
		if err != nil {
			return err
		}
		removed, err := kv.RemoveKey(args[1], args[2], args[3])
		if err != nil {
			return fmt.Errorf("remove property: %w", err)
		}
		fmt.Println(removed)
		return nil
	},
}

var propListCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List all properties of a tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		kv, _, err := propStore(backend, args[0])
		if err != nil {
			return err
		}
		entries, err := kv.Entries()
		if err != nil {
			return fmt.Errorf("list properties: %w", err)
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		for _, entry := range entries {
			fmt.Printf("%s/%s/%s\t%s\t%s\n",
				entry.Partition, entry.Aspect, entry.Key, entry.Type, entry.Value)
		}
		return nil
	},
}

// tierCopy wraps the promote/revert/merge operations, which all copy
// one whole tier over another.
func tierCopy(displayName string, op func(backend *sqlite.Backend, tableID string) error) error {
	backend, err := attachBackend()
	if err != nil {
		return err
	}
	defer backend.Detach()

	definition, err := backend.Definitions().GetByDisplayName(displayName)
	if err != nil {
		return err
	}
	return op(backend, definition.TableID)
}

var propPromoteCmd = &cobra.Command{
	Use:   "promote <table>",
	Short: "Copy the active tier over the default tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tierCopy(args[0], func(backend *sqlite.Backend, tableID string) error {
			return backend.Promote(tableID)
		})
	},
}

var propRevertCmd = &cobra.Command{
	Use:   "revert <table>",
	Short: "Copy the default tier over the active tier, discarding local edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tierCopy(args[0], func(backend *sqlite.Backend, tableID string) error {
			return backend.Revert(tableID)
		})
	},
}

var propMergeCmd = &cobra.Command{
	Use:   "merge <table>",
	Short: "Copy the server tier over the default tier after a sync pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tierCopy(args[0], func(backend *sqlite.Backend, tableID string) error {
			return backend.MergeServerIntoDefault(tableID)
		})
	},
}

var propImportCmd = &cobra.Command{
	Use:   "import <table> <file>",
	Short: "Replace a tier's properties from a JSON entry list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read entries: %w", err)
		}
		var entries []types.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("decode entries: %w", err)
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
		if err := backend.ImportEntries(flagPropTier, definition.TableID, entries); err != nil {
			return fmt.Errorf("import entries: %w", err)
		}
		return nil
	},
}

var propExportCmd = &cobra.Command{
	Use:   "export <table>",
	Short: "Write a tier's properties as a JSON entry list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			return err
		}
		defer backend.Detach()

		kv, _, err := propStore(backend, args[0])
		if err != nil {
			return err
		}
		entries, err := kv.Entries()
		if err != nil {
			return fmt.Errorf("export entries: %w", err)
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	},
}
