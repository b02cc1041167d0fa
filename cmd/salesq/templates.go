package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/KENTA-CMC/learning-program/internal/templates"
)

var resolveQuestion string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the canned queries used as fallback",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(context.Background(), false)
		if err != nil {
			return err
		}

		if resolveQuestion != "" {
			printResolution(templates.NewResolver(e.registry), resolveQuestion)
			return nil
		}

		data := pterm.TableData{{"Name", "Title", "Keywords"}}
		for _, t := range e.registry.Templates() {
			data = append(data, []string{t.Name, t.Title, strings.Join(t.Keywords, ", ")})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		pterm.Println()
		pterm.DefaultBox.WithTitle("Default: " + e.registry.Default().Title).WithPadding(1).
			Println(string(e.registry.Default().SQL))
		return nil
	},
}

func init() {
	templatesCmd.Flags().StringVarP(&resolveQuestion, "resolve", "r", "", "show which template a question selects")
	rootCmd.AddCommand(templatesCmd)
}

func printResolution(resolver *templates.Resolver, question string) {
	res := resolver.Resolve(question)
	if !res.Matched() {
		pterm.Warning.Println("No template matched; the default query answers")
	} else {
		pterm.Success.Printfln("%s (%s) with score %s", res.Title, res.Template, strconv.Itoa(res.Score))
	}

	items := make([]pterm.BulletListItem, 0)
	for _, t := range resolver.Registry().Templates() {
		items = append(items, pterm.BulletListItem{
			Level: 0,
			Text:  t.Name + ": " + strconv.Itoa(resolver.Score(t.Name, question)),
		})
	}
	_ = pterm.DefaultBulletList.WithItems(items).Render()
	pterm.DefaultBox.WithTitle("SQL").WithPadding(1).Println(string(res.SQL))
}
