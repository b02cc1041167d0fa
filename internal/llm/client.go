// Package llm talks to the language model that drafts SQL and result summaries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client is the capability the pipeline needs from a language model.
// GenerateSQL returns free text that is expected to contain a fenced sql block.
type Client interface {
	GenerateSQL(ctx context.Context, userQuery, schemaInfo string) (string, error)
	GenerateSummary(ctx context.Context, query, sql, resultCSV string) (string, error)
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	TemperatureSQL     = 0.1
	TemperatureSummary = 0.3
	DefaultMaxTokens   = 1000
)

// ErrNotConfigured is returned by New when the selected provider cannot be used
var ErrNotConfigured = errors.New("language model not configured")

// Config holds configuration for LLM clients
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	ModelSQL  string
	ModelText string
	Timeout   time.Duration
	MaxTokens int
	Retry     RetryConfig
}

// New builds the client for cfg.Provider. The caller is expected to run
// without a model when this fails.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for provider %q", ErrNotConfigured, cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewClaudeClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNotConfigured, cfg.Provider)
	}
}

// completion is one provider-neutral chat request
type completion struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// completer is the single call each provider implements
type completer interface {
	complete(ctx context.Context, req completion) (string, error)
}

// generator turns the two pipeline operations into completions for a provider
type generator struct {
	backend   completer
	modelSQL  string
	modelText string
	maxTokens int
	retry     RetryConfig
}

func newGenerator(backend completer, cfg Config, defaultModel string) generator {
	g := generator{
		backend:   backend,
		modelSQL:  cfg.ModelSQL,
		modelText: cfg.ModelText,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}
	if g.modelSQL == "" {
		g.modelSQL = defaultModel
	}
	if g.modelText == "" {
		g.modelText = defaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.retry.BaseDelay <= 0 {
		g.retry.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if g.retry.MaxDelay <= 0 {
		g.retry.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if g.retry.MaxRetries < 0 {
		g.retry.MaxRetries = 0
	}
	return g
}

// GenerateSQL asks the model to draft a query for userQuery
func (g generator) GenerateSQL(ctx context.Context, userQuery, schemaInfo string) (string, error) {
	return withRetry(ctx, g.retry, func() (string, error) {
		return g.backend.complete(ctx, completion{
			Model:       g.modelSQL,
			System:      SQLSystemPrompt(schemaInfo),
			User:        userQuery,
			Temperature: TemperatureSQL,
			MaxTokens:   g.maxTokens,
		})
	})
}

// GenerateSummary asks the model to summarize an executed query's result
func (g generator) GenerateSummary(ctx context.Context, query, sql, resultCSV string) (string, error) {
	return withRetry(ctx, g.retry, func() (string, error) {
		return g.backend.complete(ctx, completion{
			Model:       g.modelText,
			User:        SummaryPrompt(query, sql, resultCSV),
			Temperature: TemperatureSummary,
			MaxTokens:   g.maxTokens,
		})
	})
}
