package processor

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
)

const (
	// NoDataSummary is the whole summary of an empty result
	NoDataSummary = "• 指定された条件に該当するデータが見つかりませんでした"

	maxSummaryNumericColumns = 2
	maxSummaryTextColumns    = 1
)

var (
	revenueLabels = map[string]bool{"revenue": true, "sales": true, "amount": true}
	unitLabels    = map[string]bool{"units": true, "count": true, "quantity": true, "transactions": true, "transaction_count": true}
)

// TemplateNote is the annotation naming the canned query an answer came from
func TemplateNote(title string) string {
	return fmt.Sprintf("【注記】定型クエリ「%s」を使用して分析しました", title)
}

// Summarize builds the rule-based bullet summary of result. A non-empty
// templateTitle adds a note naming the canned query.
func Summarize(result *analytics.Result, templateTitle string) string {
	if result.Empty() {
		return NoDataSummary
	}

	lines := []string{fmt.Sprintf("• %s 件のレコードが該当しました", humanize.Comma(int64(result.RowCount)))}

	numeric := result.ColumnsOfKind(analytics.KindNumeric)
	if len(numeric) > maxSummaryNumericColumns {
		numeric = numeric[:maxSummaryNumericColumns]
	}
	for _, col := range numeric {
		name := result.Columns[col].Name
		label := measureLabel(name)
		switch {
		case revenueLabels[label]:
			values := result.Floats(col)
			total := sum(values)
			lines = append(lines, fmt.Sprintf("• %sの合計: %s", name, formatWhole(total)))
			if len(values) > 0 {
				lines = append(lines, fmt.Sprintf("• %sの平均: %s", name, formatWhole(total/float64(len(values)))))
			}
		case unitLabels[label]:
			lines = append(lines, fmt.Sprintf("• %sの合計: %s", name, formatWhole(sum(result.Floats(col)))))
		}
	}

	text := textColumns(result)
	if len(text) > maxSummaryTextColumns {
		text = text[:maxSummaryTextColumns]
	}
	for _, col := range text {
		lines = append(lines, fmt.Sprintf("• %sのユニーク数: %d 種類", result.Columns[col].Name, distinct(result, col)))
	}

	if templateTitle != "" {
		lines = append(lines, "• "+TemplateNote(templateTitle))
	}
	return strings.Join(lines, "\n")
}

// measureLabel lower-cases a column name and drops a leading "total_"
func measureLabel(name string) string {
	return strings.TrimPrefix(strings.ToLower(name), "total_")
}

// textColumns returns the non-numeric, non-temporal columns
func textColumns(result *analytics.Result) []int {
	return result.ColumnsOfKind(analytics.KindText)
}

func distinct(result *analytics.Result, col int) int {
	seen := make(map[string]struct{})
	for _, row := range result.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		seen[analytics.FormatValue(row[col])] = struct{}{}
	}
	return len(seen)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// formatWhole renders v rounded to an integer with thousands separators
func formatWhole(v float64) string {
	return humanize.Comma(int64(math.RoundToEven(v)))
}
