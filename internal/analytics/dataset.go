package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
)

// DatasetInfo is the description of the sales table shown to users and to
// the language model
type DatasetInfo struct {
	Table         string   `json:"table"`
	Columns       []string `json:"columns"`
	RecordCount   int64    `json:"record_count"`
	DateMin       string   `json:"date_min,omitempty"`
	DateMax       string   `json:"date_max,omitempty"`
	CategoryCount int64    `json:"category_count"`
	RegionCount   int64    `json:"region_count"`
}

// HasColumn reports whether the table has a column with the given name
func (d *DatasetInfo) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// SchemaDescription renders the table name, columns, record count and date
// range as plain text for the SQL prompt
func (d *DatasetInfo) SchemaDescription() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "テーブル名: %s\n", d.Table)
	fmt.Fprintf(&sb, "カラム: %s\n", strings.Join(d.Columns, ", "))
	fmt.Fprintf(&sb, "レコード数: %s 件", humanize.Comma(d.RecordCount))
	if d.DateMin != "" || d.DateMax != "" {
		fmt.Fprintf(&sb, "\n期間: %s ～ %s", orNA(d.DateMin), orNA(d.DateMax))
	}
	return sb.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Describe inspects the dataset table. Date range and dimension counts are
// only filled when the matching columns exist.
func (e *PostgresEngine) Describe(ctx context.Context) (*DatasetInfo, error) {
	info := &DatasetInfo{Table: e.table}
	ident := pgx.Identifier{e.table}.Sanitize()

	err := e.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT column_name FROM information_schema.columns
			 WHERE table_schema = current_schema() AND table_name = $1
			 ORDER BY ordinal_position`, e.table)
		if err != nil {
			return fmt.Errorf("failed to list columns: %w", err)
		}
		info.Columns, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to list columns: %w", err)
		}
		if len(info.Columns) == 0 {
			return fmt.Errorf("table %s not found", e.table)
		}

		selects := []string{"COUNT(*)"}
		targets := []any{&info.RecordCount}

		var dateMin, dateMax *string
		if info.HasColumn("date") {
			selects = append(selects, "MIN(date)::text", "MAX(date)::text")
			targets = append(targets, &dateMin, &dateMax)
		}
		if info.HasColumn("category") {
			selects = append(selects, "COUNT(DISTINCT category)")
			targets = append(targets, &info.CategoryCount)
		}
		if info.HasColumn("region") {
			selects = append(selects, "COUNT(DISTINCT region)")
			targets = append(targets, &info.RegionCount)
		}

		stmt := "SELECT " + strings.Join(selects, ", ") + " FROM " + ident
		if err := tx.QueryRow(ctx, stmt).Scan(targets...); err != nil {
			return fmt.Errorf("failed to summarise table: %w", err)
		}
		if dateMin != nil {
			info.DateMin = *dateMin
		}
		if dateMax != nil {
			info.DateMax = *dateMax
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
