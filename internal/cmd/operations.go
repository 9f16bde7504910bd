package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/gristmill/pkg/operation"
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List registered operations",
	Long: `List the operations a manifest can select, with the ledger columns
each one declares.`,
	Run: runOperations,
}

func init() {
	rootCmd.AddCommand(operationsCmd)
}

func runOperations(cmd *cobra.Command, args []string) {
	names := operation.Names()
	if len(names) == 0 {
		fmt.Println("No operations registered.")
		return
	}

	fmt.Println("Registered operations:")
	for _, name := range names {
		// Instantiate with empty params to read declared columns; some
		// operations require params and only get their name listed.
		op, err := operation.New(name, nil)
		if err != nil {
			fmt.Printf("  %s\n", name)
			continue
		}
		cols := op.Columns()
		if len(cols) == 0 {
			fmt.Printf("  %s\n", name)
			continue
		}
		fmt.Printf("  %-12s columns: %s\n", name, strings.Join(cols, ", "))
	}
}
