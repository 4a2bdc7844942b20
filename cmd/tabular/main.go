// Package main provides the tabular CLI: an offline-first tabular
// store with query, property, and sync-state commands over a local
// SQLite database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
}
