package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
)

func regionResult() *analytics.Result {
	return &analytics.Result{
		Columns: []analytics.Column{
			{Name: "region", Kind: analytics.KindText},
			{Name: "total_revenue", Kind: analytics.KindNumeric},
			{Name: "units", Kind: analytics.KindNumeric},
		},
		Rows: [][]any{
			{"東京", 1000.0, int64(3)},
			{"大阪", 2500.0, int64(5)},
			{"東京", 500.5, int64(2)},
		},
		RowCount: 3,
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(regionResult(), "")

	expected := strings.Join([]string{
		"• 3 件のレコードが該当しました",
		"• total_revenueの合計: 4,000",
		"• total_revenueの平均: 1,334",
		"• unitsの合計: 10",
		"• regionのユニーク数: 2 種類",
	}, "\n")
	assert.Equal(t, expected, summary)
}

func TestSummarizeWithTemplateNote(t *testing.T) {
	summary := Summarize(regionResult(), "地域別売上")

	lines := strings.Split(summary, "\n")
	assert.Equal(t, "• 【注記】定型クエリ「地域別売上」を使用して分析しました", lines[len(lines)-1])
}

func TestSummarizeEmptyResult(t *testing.T) {
	assert.Equal(t, NoDataSummary, Summarize(nil, ""))
	assert.Equal(t, NoDataSummary, Summarize(&analytics.Result{
		Columns: []analytics.Column{{Name: "revenue", Kind: analytics.KindNumeric}},
	}, "地域別売上"))
}

func TestSummarizeColumnLimits(t *testing.T) {
	result := &analytics.Result{
		Columns: []analytics.Column{
			{Name: "category", Kind: analytics.KindText},
			{Name: "region", Kind: analytics.KindText},
			{Name: "unit_price", Kind: analytics.KindNumeric},
			{Name: "sales", Kind: analytics.KindNumeric},
			{Name: "quantity", Kind: analytics.KindNumeric},
		},
		Rows: [][]any{
			{"食品", "東京", 120.0, 1234567.0, 4.0},
			{"家電", nil, 80.0, 2.0, 6.0},
		},
		RowCount: 2,
	}

	summary := Summarize(result, "")

	// unit_price is neither revenue nor units; quantity is the third numeric column
	assert.NotContains(t, summary, "unit_price")
	assert.NotContains(t, summary, "quantity")
	assert.Contains(t, summary, "• salesの合計: 1,234,569")
	assert.Contains(t, summary, "• salesの平均: 617,284")
	assert.Contains(t, summary, "• categoryのユニーク数: 2 種類")
	assert.NotContains(t, summary, "region")
}

func TestMeasureLabel(t *testing.T) {
	tests := map[string]string{
		"revenue":                 "revenue",
		"Total_Revenue":           "revenue",
		"total_transaction_count": "transaction_count",
		"subtotal_sales":          "subtotal_sales",
	}
	for name, want := range tests {
		assert.Equal(t, want, measureLabel(name), name)
	}
}

func TestSummarizeAggregateUnitAliases(t *testing.T) {
	result := &analytics.Result{
		Columns: []analytics.Column{
			{Name: "total_units", Kind: analytics.KindNumeric},
			{Name: "transactions", Kind: analytics.KindNumeric},
		},
		Rows:     [][]any{{int64(1200), int64(40)}, {int64(300), int64(8)}},
		RowCount: 2,
	}

	expected := strings.Join([]string{
		"• 2 件のレコードが該当しました",
		"• total_unitsの合計: 1,500",
		"• transactionsの合計: 48",
	}, "\n")
	assert.Equal(t, expected, Summarize(result, ""))
}

func TestFormatWholeRoundsHalfToEven(t *testing.T) {
	assert.Equal(t, "2", formatWhole(2.5))
	assert.Equal(t, "4", formatWhole(3.5))
	assert.Equal(t, "-1,235", formatWhole(-1234.6))
}
