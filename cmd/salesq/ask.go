package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
	"github.com/KENTA-CMC/learning-program/internal/processor"
)

// maxTableRows bounds how many result rows ask prints
const maxTableRows = 20

var (
	askOffline bool
	askShowSQL bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question about the sales data",
	Long: `The ask command runs one question through the pipeline: the language model
drafts SQL, the guard validates it, and a canned template answers whenever the
draft is rejected, fails, or finds nothing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := loadEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		question := strings.Join(args, " ")
		spinner, _ := pterm.DefaultSpinner.Start("Analyzing: " + question)
		outcome, err := e.pipeline(askOffline).Run(ctx, question)
		if err != nil {
			if spinner != nil {
				spinner.Fail("Could not answer the question")
			}
			return err
		}
		if spinner != nil {
			spinner.Success(fmt.Sprintf("Answered in %s", outcome.ProcessingTime.Round(time.Millisecond)))
		}

		printOutcome(outcome)
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askOffline, "offline", false, "skip the language model and answer from templates")
	askCmd.Flags().BoolVar(&askShowSQL, "sql", false, "print the executed SQL")
	rootCmd.AddCommand(askCmd)
}

func printOutcome(outcome *processor.Outcome) {
	if outcome.UsedFallback {
		pterm.Warning.Println("Answered with a canned query: " + outcome.TemplateTitle)
	}
	if askShowSQL || verbose {
		pterm.DefaultBox.WithTitle("SQL").WithPadding(1).Println(string(outcome.ExecutedSQL))
	}
	for _, d := range outcome.Diagnostics {
		pterm.Info.Println(d)
	}

	pterm.DefaultSection.Println("Result")
	if outcome.Result.Empty() {
		pterm.Println(processor.NoDataSummary)
	} else {
		_ = pterm.DefaultTable.WithHasHeader().WithData(resultTable(outcome.Result)).Render()
		if outcome.Result.RowCount > maxTableRows {
			pterm.Printfln("… %s more rows", humanize.Comma(int64(outcome.Result.RowCount-maxTableRows)))
		}
	}

	pterm.DefaultSection.Println("Summary")
	pterm.Println(outcome.Summary)

	if outcome.Chart != nil {
		pterm.Println()
		pterm.Info.Printfln("Suggested chart: %s (x=%s, y=%s)", outcome.Chart.Type, outcome.Chart.X, outcome.Chart.Y)
	}
}

func resultTable(result *analytics.Result) pterm.TableData {
	data := pterm.TableData{result.ColumnNames()}
	for i, row := range result.Rows {
		if i == maxTableRows {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = analytics.FormatValue(v)
		}
		data = append(data, cells)
	}
	return data
}
