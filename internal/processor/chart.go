package processor

import (
	"fmt"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
)

// Chart types
const (
	ChartLine       = "line"
	ChartStackedBar = "stacked_bar"
	ChartBar        = "bar"
	ChartScatter    = "scatter"
)

const (
	barChartTopN        = 20
	stackedBarTopGroups = 15
)

// ChartHint tells the presentation layer how to plot a result
type ChartHint struct {
	Type  string `json:"type"`
	X     string `json:"x"`
	Y     string `json:"y"`
	Color string `json:"color,omitempty"`
	Title string `json:"title"`
	// TopN limits the plotted bars or groups, zero means all
	TopN int `json:"top_n,omitempty"`
}

// SuggestChart picks a chart from the column kinds. Results with fewer than
// two rows, or without a numeric column, get no chart.
func SuggestChart(result *analytics.Result) *ChartHint {
	if result.Empty() || result.RowCount < 2 {
		return nil
	}

	name := func(idx int) string { return result.Columns[idx].Name }
	datetime := result.ColumnsOfKind(analytics.KindDatetime)
	numeric := result.ColumnsOfKind(analytics.KindNumeric)
	text := result.ColumnsOfKind(analytics.KindText)

	switch {
	case len(datetime) >= 1 && len(numeric) >= 1:
		hint := &ChartHint{Type: ChartLine, X: name(datetime[0]), Y: name(numeric[0])}
		if len(text) > 0 {
			hint.Color = name(text[0])
			hint.Title = fmt.Sprintf("%sの時系列推移（%s別）", hint.Y, hint.Color)
		} else {
			hint.Title = fmt.Sprintf("%sの時系列推移", hint.Y)
		}
		return hint

	case len(text) >= 2 && len(numeric) >= 1:
		hint := &ChartHint{Type: ChartStackedBar, X: name(text[0]), Y: name(numeric[0]), Color: name(text[1])}
		hint.Title = fmt.Sprintf("%s別 %s（%s別）", hint.X, hint.Y, hint.Color)
		if distinct(result, text[0]) > stackedBarTopGroups {
			hint.TopN = stackedBarTopGroups
		}
		return hint

	case len(text) >= 1 && len(numeric) >= 1:
		hint := &ChartHint{Type: ChartBar, X: name(text[0]), Y: name(numeric[0])}
		hint.Title = fmt.Sprintf("%s別 %s", hint.X, hint.Y)
		if result.RowCount > barChartTopN {
			hint.TopN = barChartTopN
		}
		return hint

	case len(numeric) >= 2:
		hint := &ChartHint{Type: ChartScatter, X: name(numeric[0]), Y: name(numeric[1])}
		hint.Title = fmt.Sprintf("%s vs %s", hint.X, hint.Y)
		return hint
	}
	return nil
}
