// Package processor runs the query resolution pipeline and serves it over HTTP.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
	"github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/history"
	"github.com/KENTA-CMC/learning-program/internal/llm"
	"github.com/KENTA-CMC/learning-program/internal/observability"
	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
	"github.com/KENTA-CMC/learning-program/internal/templates"
)

// Stage is a state of the pipeline state machine
type Stage string

const (
	StageStart           Stage = "START"
	StageGenerate        Stage = "GENERATE"
	StageValidate        Stage = "VALIDATE"
	StageExecute         Stage = "EXECUTE"
	StageResolveFallback Stage = "RESOLVE_FALLBACK"
	StageExecuteFallback Stage = "EXECUTE_FALLBACK"
	StageSummarize       Stage = "SUMMARIZE"
	StageDone            Stage = "DONE"
)

// Pipeline paths used as metric labels
const (
	PathPrimary  = "primary"
	PathFallback = "fallback"
	PathCache    = "cache"
)

const (
	cacheKeyPrefix = "query:"

	// DefaultSummaryRowLimit is how many result rows are sent to the model for summarization
	DefaultSummaryRowLimit = 200
	DefaultCacheTTL        = 5 * time.Minute
)

// DatasetDescriber describes the queryable table
type DatasetDescriber interface {
	Describe(ctx context.Context) (*analytics.DatasetInfo, error)
}

// Dependencies are the collaborators a Pipeline is built from. LLM, Dataset,
// Cache and History are optional.
type Dependencies struct {
	Guard    *sqlguard.Guard
	Resolver *templates.Resolver
	Engine   analytics.Engine
	LLM      llm.Client
	Dataset  DatasetDescriber
	Cache    *redis.Client
	History  history.Store
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Options tunes a Pipeline
type Options struct {
	CacheTTL         time.Duration
	SummaryRowLimit  int
	MaxQuestionRunes int           // zero means unlimited
	Timeout          time.Duration // bounds one run, zero means no bound
}

// Outcome is the result of one pipeline run
type Outcome struct {
	Question       string            `json:"question"`
	ExecutedSQL    sqlguard.Query    `json:"executed_sql"`
	Result         *analytics.Result `json:"result"`
	UsedFallback   bool              `json:"used_fallback"`
	TemplateName   string            `json:"template_name,omitempty"`
	TemplateTitle  string            `json:"template_title,omitempty"`
	Summary        string            `json:"summary"`
	Chart          *ChartHint        `json:"chart,omitempty"`
	Stages         []Stage           `json:"stages"`
	Diagnostics    []string          `json:"diagnostics,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
	CacheHit       bool              `json:"cache_hit,omitempty"`
}

// Pipeline turns questions into executed, validated queries. A Pipeline is
// safe for concurrent use; all per-question state lives in a run.
type Pipeline struct {
	guard    *sqlguard.Guard
	resolver *templates.Resolver
	engine   analytics.Engine
	llm      llm.Client
	dataset  DatasetDescriber
	cache    *redis.Client
	history  history.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	opts     Options

	schemaMu sync.Mutex
	schema   string
}

// run holds the state of one invocation
type run struct {
	question   string
	response   string
	candidate  sqlguard.Query
	executed   sqlguard.Query
	result     *analytics.Result
	resolution templates.Resolution
	fallback   bool
	summary    string
	stages     []Stage
	diag       []string
}

// NewPipeline creates a pipeline. Guard, Resolver and Engine are required.
func NewPipeline(deps Dependencies, opts Options) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("pipeline")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.SummaryRowLimit <= 0 {
		opts.SummaryRowLimit = DefaultSummaryRowLimit
	}

	return &Pipeline{
		guard:    deps.Guard,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		llm:      deps.LLM,
		dataset:  deps.Dataset,
		cache:    deps.Cache,
		history:  deps.History,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		opts:     opts,
	}
}

// Registry returns the template registry used for fallback
func (p *Pipeline) Registry() *templates.Registry {
	return p.resolver.Registry()
}

// LanguageModelAvailable reports whether SQL generation is attempted
func (p *Pipeline) LanguageModelAvailable() bool {
	return p.llm != nil
}

// Run answers one question. The only error after input validation is a
// failure of the fallback query itself.
func (p *Pipeline) Run(ctx context.Context, question string) (*Outcome, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.NewInvalidInputError("question", "question must not be empty")
	}
	if p.opts.MaxQuestionRunes > 0 && utf8.RuneCountInString(question) > p.opts.MaxQuestionRunes {
		return nil, errors.NewInvalidInputError("question",
			fmt.Sprintf("question must be at most %d characters", p.opts.MaxQuestionRunes))
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if cached, ok := p.cached(ctx, question); ok {
		cached.CacheHit = true
		cached.ProcessingTime = time.Since(start)
		p.metrics.RecordPipeline(PathCache, time.Since(start))
		return cached, nil
	}

	r := &run{question: question}
	stage := StageStart
	for stage != StageDone {
		r.stages = append(r.stages, stage)
		next, err := p.step(ctx, r, stage)
		if err != nil {
			p.logger.Error(ctx, "Pipeline failed", err, map[string]interface{}{
				"question": question,
				"stages":   r.stages,
			})
			return nil, err
		}
		stage = next
	}
	r.stages = append(r.stages, StageDone)

	outcome := &Outcome{
		Question:       question,
		ExecutedSQL:    r.executed,
		Result:         r.result,
		UsedFallback:   r.fallback,
		Summary:        r.summary,
		Chart:          SuggestChart(r.result),
		Stages:         r.stages,
		Diagnostics:    r.diag,
		ProcessingTime: time.Since(start),
	}
	if r.fallback {
		outcome.TemplateName = r.resolution.Template
		outcome.TemplateTitle = r.resolution.Title
	}

	path := PathPrimary
	if r.fallback {
		path = PathFallback
	}
	p.metrics.RecordPipeline(path, outcome.ProcessingTime)
	p.logger.Info(ctx, "Question answered", map[string]interface{}{
		"path":        path,
		"template":    outcome.TemplateName,
		"row_count":   outcome.Result.RowCount,
		"duration_ms": outcome.ProcessingTime.Milliseconds(),
	})

	p.store(ctx, outcome)
	p.record(ctx, outcome)
	return outcome, nil
}

// step executes one stage and returns the next one
func (p *Pipeline) step(ctx context.Context, r *run, stage Stage) (Stage, error) {
	switch stage {
	case StageStart:
		if p.llm == nil {
			return StageResolveFallback, nil
		}
		return StageGenerate, nil

	case StageGenerate:
		schema := p.schemaInfo(ctx)
		began := time.Now()
		response, err := p.llm.GenerateSQL(ctx, r.question, schema)
		p.metrics.RecordLLM("generate_sql", time.Since(began), err)
		if err != nil {
			p.logger.Warn(ctx, "SQL generation failed", map[string]interface{}{
				"error": errors.NewSQLGenerationError(err).Error(),
			})
			response = ""
		}
		r.response = response
		return StageValidate, nil

	case StageValidate:
		q, err := p.guard.Validate(r.response)
		if err != nil {
			kind := sqlguard.KindOf(err)
			p.metrics.RecordGuardViolation(string(kind))
			p.logger.Warn(ctx, "Generated SQL rejected", map[string]interface{}{
				"kind":   kind,
				"reason": err.Error(),
			})
			return StageResolveFallback, nil
		}
		r.candidate = q
		return StageExecute, nil

	case StageExecute:
		result, err := p.execute(ctx, r.candidate)
		if err != nil {
			execErr := errors.NewQueryExecutionError(err)
			r.diag = append(r.diag, execErr.Error())
			p.logger.Warn(ctx, "Generated query failed", map[string]interface{}{
				"sql":   string(r.candidate),
				"error": err.Error(),
			})
			return StageResolveFallback, nil
		}
		if result.Empty() {
			p.logger.Info(ctx, "Generated query returned no rows", map[string]interface{}{
				"sql": string(r.candidate),
			})
			return StageResolveFallback, nil
		}
		r.executed, r.result = r.candidate, result
		return StageSummarize, nil

	case StageResolveFallback:
		r.resolution = p.resolver.Resolve(r.question)
		r.fallback = true
		p.logger.Debug(ctx, "Resolved fallback template", map[string]interface{}{
			"template": r.resolution.Template,
			"score":    r.resolution.Score,
		})
		return StageExecuteFallback, nil

	case StageExecuteFallback:
		result, err := p.execute(ctx, r.resolution.SQL)
		if err != nil {
			return "", errors.NewFallbackExecutionError(err, fallbackLabel(r.resolution))
		}
		r.executed, r.result = r.resolution.SQL, result
		return StageSummarize, nil

	case StageSummarize:
		r.summary = p.summarize(ctx, r)
		return StageDone, nil
	}
	return "", fmt.Errorf("unknown pipeline stage %q", stage)
}

func (p *Pipeline) execute(ctx context.Context, q sqlguard.Query) (*analytics.Result, error) {
	began := time.Now()
	result, err := p.engine.Execute(ctx, q)
	p.metrics.RecordEngine(time.Since(began), err)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &analytics.Result{}
	}
	return result, nil
}

// summarize asks the model for a summary of a primary, non-empty result and
// otherwise uses the rule-based summary
func (p *Pipeline) summarize(ctx context.Context, r *run) string {
	if !r.fallback && p.llm != nil && !r.result.Empty() {
		text, err := p.generateSummary(ctx, r)
		if err == nil {
			return text
		}
		p.logger.Warn(ctx, "Summary generation failed, using rule-based summary", map[string]interface{}{
			"error": err.Error(),
		})
	}

	title := ""
	if r.fallback {
		title = fallbackLabel(r.resolution)
	}
	return Summarize(r.result, title)
}

func (p *Pipeline) generateSummary(ctx context.Context, r *run) (string, error) {
	csv, err := r.result.CSV(p.opts.SummaryRowLimit)
	if err != nil {
		return "", err
	}

	began := time.Now()
	text, err := p.llm.GenerateSummary(ctx, r.question, string(r.executed), csv)
	p.metrics.RecordLLM("generate_summary", time.Since(began), err)
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return text, nil
}

// fallbackLabel is the name shown to users for a resolution
func fallbackLabel(res templates.Resolution) string {
	if res.Title != "" {
		return res.Title
	}
	if res.Template != "" {
		return res.Template
	}
	return "default"
}

// schemaInfo returns the dataset description given to the model. A failed
// lookup is retried on the next question.
func (p *Pipeline) schemaInfo(ctx context.Context) string {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()

	if p.schema != "" {
		return p.schema
	}

	fallback := "テーブル名: " + p.guard.Table()
	if p.dataset == nil {
		return fallback
	}
	info, err := p.dataset.Describe(ctx)
	if err != nil {
		p.logger.Warn(ctx, "Failed to describe dataset", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback
	}
	p.schema = info.SchemaDescription()
	return p.schema
}

// cached returns the stored outcome for question
func (p *Pipeline) cached(ctx context.Context, question string) (*Outcome, bool) {
	if p.cache == nil {
		return nil, false
	}

	data, err := p.cache.Get(ctx, cacheKeyPrefix+question).Bytes()
	if err == redis.Nil {
		p.metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if err != nil {
		p.metrics.RecordCacheLookup("error")
		p.logger.Warn(ctx, "Failed to read cached outcome", map[string]interface{}{
			"error": errors.Wrap(err, errors.ErrCodeCacheRead, "cache read failed").Error(),
		})
		return nil, false
	}

	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		p.metrics.RecordCacheLookup("error")
		p.logger.Warn(ctx, "Discarding unreadable cached outcome", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}
	p.metrics.RecordCacheLookup("hit")
	return &outcome, true
}

func (p *Pipeline) store(ctx context.Context, outcome *Outcome) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(outcome)
	if err == nil {
		err = p.cache.Set(ctx, cacheKeyPrefix+outcome.Question, data, p.opts.CacheTTL).Err()
	}
	if err != nil {
		p.logger.Warn(ctx, "Failed to cache outcome", map[string]interface{}{
			"error": errors.Wrap(err, errors.ErrCodeCacheWrite, "cache write failed").Error(),
		})
	}
}

// record appends the outcome to the query history
func (p *Pipeline) record(ctx context.Context, outcome *Outcome) {
	if p.history == nil {
		return
	}
	err := p.history.Record(ctx, history.Entry{
		Question:     outcome.Question,
		ExecutedSQL:  string(outcome.ExecutedSQL),
		TemplateName: outcome.TemplateName,
		UsedFallback: outcome.UsedFallback,
		RowCount:     outcome.Result.RowCount,
		Summary:      outcome.Summary,
	})
	p.metrics.RecordDB("history_record", err)
	if err != nil {
		p.logger.Warn(ctx, "Failed to record query history", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
