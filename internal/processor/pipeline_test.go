package processor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
	"github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/history"
	"github.com/KENTA-CMC/learning-program/internal/observability"
	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
	"github.com/KENTA-CMC/learning-program/internal/templates"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) GenerateSQL(ctx context.Context, userQuery, schemaInfo string) (string, error) {
	args := m.Called(ctx, userQuery, schemaInfo)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) GenerateSummary(ctx context.Context, query, sql, resultCSV string) (string, error) {
	args := m.Called(ctx, query, sql, resultCSV)
	return args.String(0), args.Error(1)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Execute(ctx context.Context, q sqlguard.Query) (*analytics.Result, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.Result), args.Error(1)
}

type mockDataset struct {
	mock.Mock
}

func (m *mockDataset) Describe(ctx context.Context) (*analytics.DatasetInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.DatasetInfo), args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) Record(ctx context.Context, entry history.Entry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]history.Entry)
	return entries, args.Error(1)
}

func (m *mockHistory) FindSimilar(ctx context.Context, question string, limit int) ([]history.Entry, error) {
	args := m.Called(ctx, question, limit)
	entries, _ := args.Get(0).([]history.Entry)
	return entries, args.Error(1)
}

const primarySQL = sqlguard.Query("SELECT region, SUM(revenue) AS total_revenue FROM sales GROUP BY region")

var primaryResponse = "```sql\nSELECT region, SUM(revenue) AS total_revenue\nFROM sales\nGROUP BY region;\n```"

func quietLogger() *observability.Logger {
	return observability.NewLogger("test").WithOutput(io.Discard)
}

func testDeps() (Dependencies, *mockEngine) {
	guard := sqlguard.New("sales")
	engine := new(mockEngine)
	return Dependencies{
		Guard:    guard,
		Resolver: templates.NewResolver(templates.Builtin(guard)),
		Engine:   engine,
		Logger:   quietLogger(),
		Metrics:  observability.NewMetrics(),
	}, engine
}

func twoRegions() *analytics.Result {
	return &analytics.Result{
		Columns: []analytics.Column{
			{Name: "region", Kind: analytics.KindText},
			{Name: "total_revenue", Kind: analytics.KindNumeric},
		},
		Rows:     [][]any{{"東京", 1500.0}, {"大阪", 900.0}},
		RowCount: 2,
	}
}

func emptyResult() *analytics.Result {
	return &analytics.Result{
		Columns: []analytics.Column{{Name: "region", Kind: analytics.KindText}},
	}
}

func TestRunPrimaryPath(t *testing.T) {
	deps, engine := testDeps()
	model := new(mockLLM)
	dataset := new(mockDataset)
	deps.LLM = model
	deps.Dataset = dataset

	info := &analytics.DatasetInfo{Table: "sales", Columns: []string{"date", "region", "revenue"}, RecordCount: 1200}
	dataset.On("Describe", mock.Anything).Return(info, nil).Once()
	model.On("GenerateSQL", mock.Anything, "地域ごとの売上", info.SchemaDescription()).Return(primaryResponse, nil)
	engine.On("Execute", mock.Anything, primarySQL).Return(twoRegions(), nil)
	model.On("GenerateSummary", mock.Anything, "地域ごとの売上", string(primarySQL), "region,total_revenue\n東京,1500\n大阪,900\n").
		Return("  • 東京が最大です\n", nil)

	p := NewPipeline(deps, Options{})
	outcome, err := p.Run(context.Background(), "  地域ごとの売上 ")
	require.NoError(t, err)

	assert.Equal(t, "地域ごとの売上", outcome.Question)
	assert.Equal(t, primarySQL, outcome.ExecutedSQL)
	assert.False(t, outcome.UsedFallback)
	assert.Empty(t, outcome.TemplateName)
	assert.Equal(t, "• 東京が最大です", outcome.Summary)
	assert.Equal(t, 2, outcome.Result.RowCount)
	assert.Empty(t, outcome.Diagnostics)
	assert.Equal(t, []Stage{StageStart, StageGenerate, StageValidate, StageExecute, StageSummarize, StageDone}, outcome.Stages)
	require.NotNil(t, outcome.Chart)
	assert.Equal(t, ChartBar, outcome.Chart.Type)

	// the dataset description is looked up once
	_, err = p.Run(context.Background(), "地域ごとの売上")
	require.NoError(t, err)

	dataset.AssertExpectations(t)
	model.AssertExpectations(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.PipelineRuns.WithLabelValues(PathPrimary)))
}

func TestRunZeroRowsFallsBack(t *testing.T) {
	deps, engine := testDeps()
	model := new(mockLLM)
	deps.LLM = model

	region, ok := deps.Resolver.Registry().Get("region_sales")
	require.True(t, ok)

	model.On("GenerateSQL", mock.Anything, "地域別の売上を教えて", "テーブル名: sales").Return(primaryResponse, nil)
	engine.On("Execute", mock.Anything, primarySQL).Return(emptyResult(), nil)
	engine.On("Execute", mock.Anything, region.SQL).Return(twoRegions(), nil)

	outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域別の売上を教えて")
	require.NoError(t, err)

	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, "region_sales", outcome.TemplateName)
	assert.Equal(t, "地域別売上", outcome.TemplateTitle)
	assert.Equal(t, region.SQL, outcome.ExecutedSQL)
	assert.Equal(t, []Stage{
		StageStart, StageGenerate, StageValidate, StageExecute,
		StageResolveFallback, StageExecuteFallback, StageSummarize, StageDone,
	}, outcome.Stages)
	assert.True(t, strings.HasSuffix(outcome.Summary, TemplateNote("地域別売上")))
	assert.Empty(t, outcome.Diagnostics)

	model.AssertNotCalled(t, "GenerateSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	engine.AssertExpectations(t)
}

func TestRunWithoutLanguageModel(t *testing.T) {
	deps, engine := testDeps()
	fallback := deps.Resolver.Registry().Default()
	engine.On("Execute", mock.Anything, fallback.SQL).Return(&analytics.Result{
		Columns: []analytics.Column{
			{Name: "total_revenue", Kind: analytics.KindNumeric},
			{Name: "total_units", Kind: analytics.KindNumeric},
		},
		Rows:     [][]any{{123456.0, 789.0}},
		RowCount: 1,
	}, nil)

	p := NewPipeline(deps, Options{})
	assert.False(t, p.LanguageModelAvailable())

	outcome, err := p.Run(context.Background(), "調子はどう？")
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageStart, StageResolveFallback, StageExecuteFallback, StageSummarize, StageDone}, outcome.Stages)
	assert.True(t, outcome.UsedFallback)
	assert.Empty(t, outcome.TemplateName)
	assert.Equal(t, fallback.Title, outcome.TemplateTitle)
	assert.Nil(t, outcome.Chart)
	assert.Equal(t, strings.Join([]string{
		"• 1 件のレコードが該当しました",
		"• total_revenueの合計: 123,456",
		"• total_revenueの平均: 123,456",
		"• total_unitsの合計: 789",
		"• " + TemplateNote(fallback.Title),
	}, "\n"), outcome.Summary)
}

func TestRunRejectedSQLFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		response string
		genErr   error
		kind     sqlguard.Kind
	}{
		{"stacked statements", "```sql\nSELECT * FROM sales; DROP TABLE sales\n```", nil, sqlguard.MultipleStatements},
		{"other table", "```sql\nSELECT * FROM users\n```", nil, sqlguard.DisallowedTable},
		{"no sql block", "Sorry, I can't help with that.", nil, sqlguard.NoSqlBlockFound},
		{"generation error", "", fmt.Errorf("connection refused"), sqlguard.NoSqlBlockFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, engine := testDeps()
			model := new(mockLLM)
			deps.LLM = model

			channel, _ := deps.Resolver.Registry().Get("channel_sales")
			model.On("GenerateSQL", mock.Anything, mock.Anything, mock.Anything).Return(tt.response, tt.genErr)
			engine.On("Execute", mock.Anything, channel.SQL).Return(twoRegions(), nil)

			outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "チャネル別の売上")
			require.NoError(t, err)

			assert.True(t, outcome.UsedFallback)
			assert.Equal(t, "channel_sales", outcome.TemplateName)
			assert.Equal(t, []Stage{
				StageStart, StageGenerate, StageValidate,
				StageResolveFallback, StageExecuteFallback, StageSummarize, StageDone,
			}, outcome.Stages)
			// rejection reasons never reach the caller
			assert.Empty(t, outcome.Diagnostics)
			assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.GuardViolations.WithLabelValues(string(tt.kind))))
			engine.AssertNumberOfCalls(t, "Execute", 1)
		})
	}
}

func TestRunExecutionErrorIsDiagnosed(t *testing.T) {
	deps, engine := testDeps()
	model := new(mockLLM)
	deps.LLM = model

	model.On("GenerateSQL", mock.Anything, mock.Anything, mock.Anything).Return(primaryResponse, nil)
	engine.On("Execute", mock.Anything, primarySQL).Return(nil, fmt.Errorf("column \"regionn\" does not exist"))
	engine.On("Execute", mock.Anything, mock.Anything).Return(twoRegions(), nil)

	outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域の売上")
	require.NoError(t, err)

	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, "region_sales", outcome.TemplateName)
	require.Len(t, outcome.Diagnostics, 1)
	assert.Contains(t, outcome.Diagnostics[0], string(errors.ErrCodeQueryExecution))
	assert.Contains(t, outcome.Diagnostics[0], "regionn")
}

func TestRunTotalFailure(t *testing.T) {
	deps, engine := testDeps()
	dbErr := fmt.Errorf("connection reset by peer")
	engine.On("Execute", mock.Anything, mock.Anything).Return(nil, dbErr)

	outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域別の売上")
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, errors.ErrCodeFallbackExecution, errors.CodeOf(err))
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "地域別売上")
}

func TestRunEmptyFallbackResult(t *testing.T) {
	deps, engine := testDeps()
	engine.On("Execute", mock.Anything, mock.Anything).Return(emptyResult(), nil)

	outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域別の売上")
	require.NoError(t, err)

	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, NoDataSummary, outcome.Summary)
	assert.Nil(t, outcome.Chart)
	assert.Equal(t, StageDone, outcome.Stages[len(outcome.Stages)-1])
}

func TestRunSummaryFailureDegrades(t *testing.T) {
	for name, summaryErr := range map[string]error{
		"error":       fmt.Errorf("rate limit exceeded"),
		"blank reply": nil,
	} {
		t.Run(name, func(t *testing.T) {
			deps, engine := testDeps()
			model := new(mockLLM)
			deps.LLM = model

			model.On("GenerateSQL", mock.Anything, mock.Anything, mock.Anything).Return(primaryResponse, nil)
			model.On("GenerateSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("  ", summaryErr)
			engine.On("Execute", mock.Anything, primarySQL).Return(twoRegions(), nil)

			outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域ごとの売上")
			require.NoError(t, err)

			assert.False(t, outcome.UsedFallback)
			assert.Equal(t, Summarize(twoRegions(), ""), outcome.Summary)
			assert.NotContains(t, outcome.Summary, "注記")
		})
	}
}

func TestRunSummaryRowLimit(t *testing.T) {
	deps, engine := testDeps()
	model := new(mockLLM)
	deps.LLM = model

	model.On("GenerateSQL", mock.Anything, mock.Anything, mock.Anything).Return(primaryResponse, nil)
	model.On("GenerateSummary", mock.Anything, mock.Anything, mock.Anything, "region,total_revenue\n東京,1500\n").Return("ok", nil)
	engine.On("Execute", mock.Anything, primarySQL).Return(twoRegions(), nil)

	outcome, err := NewPipeline(deps, Options{SummaryRowLimit: 1}).Run(context.Background(), "地域ごとの売上")
	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Summary)
	model.AssertExpectations(t)
}

func TestRunRejectsInvalidQuestions(t *testing.T) {
	deps, engine := testDeps()
	p := NewPipeline(deps, Options{MaxQuestionRunes: 5})

	for _, q := range []string{"", "   ", "地域別の売上を教えて"} {
		_, err := p.Run(context.Background(), q)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err), "question %q", q)
	}
	engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, engine := testDeps()
	deps.Cache = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	engine.On("Execute", mock.Anything, mock.Anything).Return(twoRegions(), nil).Once()

	p := NewPipeline(deps, Options{})
	first, err := p.Run(context.Background(), "地域別の売上")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.True(t, mr.Exists("query:地域別の売上"))

	second, err := p.Run(context.Background(), "地域別の売上")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ExecutedSQL, second.ExecutedSQL)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Stages, second.Stages)
	assert.Equal(t, first.Result.Rows, second.Result.Rows)

	engine.AssertNumberOfCalls(t, "Execute", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.CacheLookups.WithLabelValues("miss")))

	// entries expire with the configured TTL
	mr.FastForward(DefaultCacheTTL)
	assert.False(t, mr.Exists("query:地域別の売上"))
}

func TestRunSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, engine := testDeps()
	deps.Cache = redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	engine.On("Execute", mock.Anything, mock.Anything).Return(twoRegions(), nil)
	mr.Close()

	outcome, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域別の売上")
	require.NoError(t, err)
	assert.False(t, outcome.CacheHit)
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.CacheLookups.WithLabelValues("error")))
}

func TestRunRecordsHistory(t *testing.T) {
	deps, engine := testDeps()
	store := new(mockHistory)
	deps.History = store

	region, _ := deps.Resolver.Registry().Get("region_sales")
	engine.On("Execute", mock.Anything, region.SQL).Return(twoRegions(), nil)
	store.On("Record", mock.Anything, mock.MatchedBy(func(e history.Entry) bool {
		return e.Question == "地域別の売上" &&
			e.ExecutedSQL == string(region.SQL) &&
			e.TemplateName == "region_sales" &&
			e.UsedFallback &&
			e.RowCount == 2 &&
			e.Summary != ""
	})).Return(fmt.Errorf("history unavailable"))

	// a failing history store does not fail the question
	_, err := NewPipeline(deps, Options{}).Run(context.Background(), "地域別の売上")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSchemaInfoRetriesAfterFailure(t *testing.T) {
	deps, _ := testDeps()
	dataset := new(mockDataset)
	deps.Dataset = dataset

	dataset.On("Describe", mock.Anything).Return(nil, fmt.Errorf("timeout")).Once()
	dataset.On("Describe", mock.Anything).Return(&analytics.DatasetInfo{Table: "sales", RecordCount: 3}, nil).Once()

	p := NewPipeline(deps, Options{})
	assert.Equal(t, "テーブル名: sales", p.schemaInfo(context.Background()))
	assert.Contains(t, p.schemaInfo(context.Background()), "レコード数: 3 件")
	assert.Contains(t, p.schemaInfo(context.Background()), "レコード数: 3 件")
	dataset.AssertExpectations(t)
}

func TestRunTimeoutBoundsExecution(t *testing.T) {
	deps, engine := testDeps()
	engine.On("Execute", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	_, err := NewPipeline(deps, Options{Timeout: 20 * time.Millisecond}).Run(context.Background(), "売上")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFallbackExecution, errors.CodeOf(err))
}
