// Version command for the tabular CLI.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshrow/tabular/pkg/tabular"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tabular version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tabular", tabular.Version)
	},
}
