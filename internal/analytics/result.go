package analytics

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// ColumnKind is the coarse type used by the summarizer and chart hints
type ColumnKind string

const (
	KindNumeric  ColumnKind = "numeric"
	KindDatetime ColumnKind = "datetime"
	KindText     ColumnKind = "text"
)

// Column describes one result column
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Result is the outcome of executing one validated query. It is owned by the
// caller that requested it.
type Result struct {
	Columns  []Column `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// Empty reports whether the query produced no rows
func (r *Result) Empty() bool {
	return r == nil || r.RowCount == 0
}

// ColumnNames returns the column names in result order
func (r *Result) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnsOfKind returns the indexes of the columns with the given kind
func (r *Result) ColumnsOfKind(kind ColumnKind) []int {
	var idx []int
	for i, c := range r.Columns {
		if c.Kind == kind {
			idx = append(idx, i)
		}
	}
	return idx
}

// Floats returns the non-null values of column col as float64
func (r *Result) Floats(col int) []float64 {
	out := make([]float64, 0, len(r.Rows))
	for _, row := range r.Rows {
		if col >= len(row) {
			continue
		}
		if f, ok := ToFloat(row[col]); ok {
			out = append(out, f)
		}
	}
	return out
}

// CSV renders the header and at most limit rows as comma-delimited text.
// A limit of zero or less renders every row.
func (r *Result) CSV(limit int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(r.ColumnNames()); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := r.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	record := make([]string, len(r.Columns))
	for _, row := range rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatValue(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}

// ToFloat converts the numeric cell types the engine produces
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// FormatValue renders a cell for delimited text and distinct-value counting
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
