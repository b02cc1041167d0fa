package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Describe the sales table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := loadEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		info, err := e.engine().Describe(ctx)
		if err != nil {
			return err
		}
		pterm.DefaultBox.WithTitle("Dataset " + e.cfg.Dataset.Table).WithPadding(1).Println(info.SchemaDescription())
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load a sales CSV into the dataset table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := loadEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		start := time.Now()
		spinner, _ := pterm.DefaultSpinner.Start("Importing " + args[0])
		n, err := analytics.NewImporter(e.pool, e.cfg.Dataset.Table).ImportCSV(ctx, f)
		if err != nil {
			if spinner != nil {
				spinner.Fail(err.Error())
			}
			return err
		}
		if spinner != nil {
			spinner.Success(fmt.Sprintf("Imported %s rows in %s", humanize.Comma(n), time.Since(start).Round(time.Millisecond)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(datasetCmd, importCmd)
}
