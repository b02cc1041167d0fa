// Command salesq answers sales questions from the terminal and manages the
// dataset behind the query processor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose   bool
	tableFlag string
)

var rootCmd = &cobra.Command{
	Use:           "salesq",
	Short:         "Ask questions about the sales dataset",
	Long:          `salesq turns natural language questions into validated SQL, runs them against the sales table and summarizes the answer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")
	rootCmd.PersistentFlags().StringVar(&tableFlag, "table", "", "dataset table (overrides DATASET_TABLE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
