package analytics

import (
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	month := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Result{
		Columns: []Column{
			{Name: "month", Kind: KindDatetime},
			{Name: "category", Kind: KindText},
			{Name: "total_revenue", Kind: KindNumeric},
		},
		Rows: [][]any{
			{month, "家電", 1250000.5},
			{month, "食品, 飲料", int64(30000)},
			{month.AddDate(0, 1, 0), nil, nil},
		},
		RowCount: 3,
	}
}

func TestResultCSV(t *testing.T) {
	csv, err := sampleResult().CSV(0)
	require.NoError(t, err)
	assert.Equal(t,
		"month,category,total_revenue\n"+
			"2024-01-01,家電,1250000.5\n"+
			"2024-01-01,\"食品, 飲料\",30000\n"+
			"2024-02-01,,\n", csv)

	limited, err := sampleResult().CSV(1)
	require.NoError(t, err)
	assert.Equal(t, "month,category,total_revenue\n2024-01-01,家電,1250000.5\n", limited)
}

func TestResultHelpers(t *testing.T) {
	r := sampleResult()
	assert.False(t, r.Empty())
	assert.True(t, (&Result{}).Empty())
	assert.True(t, (*Result)(nil).Empty())

	assert.Equal(t, []string{"month", "category", "total_revenue"}, r.ColumnNames())
	assert.Equal(t, []int{2}, r.ColumnsOfKind(KindNumeric))
	assert.Equal(t, []int{1}, r.ColumnsOfKind(KindText))
	assert.Equal(t, []float64{1250000.5, 30000}, r.Floats(2))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "2024-03-05", FormatValue(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-03-05T10:30:00Z", FormatValue(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, "0.1", FormatValue(0.1))
	assert.Equal(t, "42", FormatValue(int32(42)))
	assert.Equal(t, "true", FormatValue(true))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		oid  uint32
		kind ColumnKind
	}{
		{pgtype.Int8OID, KindNumeric},
		{pgtype.NumericOID, KindNumeric},
		{pgtype.Float8OID, KindNumeric},
		{pgtype.DateOID, KindDatetime},
		{pgtype.TimestamptzOID, KindDatetime},
		{pgtype.TextOID, KindText},
		{pgtype.BoolOID, KindText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, kindOf(pgconn.FieldDescription{DataTypeOID: tt.oid}), "oid %d", tt.oid)
	}
}

func TestNormalize(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(123456), Exp: -2, Valid: true}
	assert.Equal(t, 1234.56, normalize(n))
	assert.Nil(t, normalize(pgtype.Numeric{}))
	assert.Equal(t, "raw", normalize([]byte("raw")))
	assert.Equal(t,
		"01020304-0506-0708-090a-0b0c0d0e0f10",
		normalize([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}))
	assert.Equal(t, int64(7), normalize(int64(7)))
}
