package llm

import (
	"fmt"
	"strings"
)

// SQLSystemPrompt describes the dataset and the shape of answer the guard accepts
func SQLSystemPrompt(schemaInfo string) string {
	var sb strings.Builder
	sb.WriteString("あなたは売上データ分析のSQLエキスパートです。\n")
	sb.WriteString("以下のテーブル情報を基に、ユーザーの質問に答えるSQLクエリを生成してください。\n\n")
	sb.WriteString(schemaInfo)
	sb.WriteString("\n\n制約:\n")
	sb.WriteString("- SELECT文のみ使用可能\n")
	sb.WriteString("- 上記のテーブルのみ使用\n")
	sb.WriteString("- 月次集計にはdate_trunc('month', date)を使用\n")
	sb.WriteString("- エイリアスを明示的に指定\n")
	sb.WriteString("- コメントやセミコロンで区切った複数の文は書かない\n")
	sb.WriteString("- SQLコードのみを```sqlブロックで出力\n\n")
	sb.WriteString("例:\n")
	sb.WriteString("```sql\n")
	sb.WriteString("SELECT date_trunc('month', date) AS month, category, SUM(revenue) AS total_revenue\n")
	sb.WriteString("FROM sales\n")
	sb.WriteString("GROUP BY date_trunc('month', date), category\n")
	sb.WriteString("ORDER BY month, category\n")
	sb.WriteString("```\n")
	return sb.String()
}

// SummaryPrompt asks for a short Japanese summary of a result rendered as CSV
func SummaryPrompt(query, sql, resultCSV string) string {
	return fmt.Sprintf(`以下の売上データ分析結果を100-200字で日本語で要約してください。

ユーザーの質問: %s
実行したSQL: %s

結果データ（CSV形式）:
%s

要約のポイント:
- 箇条書き3-5点
- 具体的な数値を2-3個含める
- ビジネス観点での洞察を含める
`, query, sql, resultCSV)
}
