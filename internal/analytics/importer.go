package analytics

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// SalesColumns is the column order of the sales CSV and table
var SalesColumns = []string{
	"date", "category", "region", "sales_channel", "customer_segment",
	"units", "unit_price", "revenue",
}

// copier is the part of a pgx pool the importer uses
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Importer loads the sales CSV into the dataset table
type Importer struct {
	db    copier
	table string
}

// NewImporter creates an importer writing into table
func NewImporter(db copier, table string) *Importer {
	return &Importer{db: db, table: table}
}

// ImportCSV streams the CSV in r into the table with COPY. The header row
// must name every sales column; extra columns are ignored.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader) (int64, error) {
	src, err := newCSVSource(r)
	if err != nil {
		return 0, err
	}
	n, err := i.db.CopyFrom(ctx, pgx.Identifier{i.table}, SalesColumns, src)
	if err != nil {
		return n, fmt.Errorf("failed to copy rows into %s: %w", i.table, err)
	}
	return n, nil
}

// csvSource adapts a CSV reader to pgx.CopyFromSource
type csvSource struct {
	reader *csv.Reader
	index  []int
	line   int
	values []any
	err    error
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	index := make([]int, len(SalesColumns))
	var missing []string
	for i, col := range SalesColumns {
		p, ok := pos[col]
		if !ok {
			missing = append(missing, col)
		}
		index[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("csv header is missing columns: %s", strings.Join(missing, ", "))
	}

	return &csvSource{reader: reader, index: index, line: 1}, nil
}

func (s *csvSource) Next() bool {
	if s.err != nil {
		return false
	}
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	s.line++
	if err != nil {
		s.err = fmt.Errorf("line %d: %w", s.line, err)
		return false
	}
	s.values, s.err = s.parse(record)
	return s.err == nil
}

func (s *csvSource) parse(record []string) ([]any, error) {
	field := func(i int) string {
		if s.index[i] >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[s.index[i]])
	}

	date, err := time.Parse("2006-01-02", field(0))
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid date %q", s.line, field(0))
	}
	units, err := strconv.ParseInt(field(5), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid units %q", s.line, field(5))
	}
	unitPrice, err := strconv.ParseFloat(field(6), 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid unit_price %q", s.line, field(6))
	}
	revenue, err := strconv.ParseFloat(field(7), 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid revenue %q", s.line, field(7))
	}

	return []any{date, field(1), field(2), field(3), field(4), int32(units), unitPrice, revenue}, nil
}

func (s *csvSource) Values() ([]any, error) {
	return s.values, nil
}

func (s *csvSource) Err() error {
	return s.err
}
