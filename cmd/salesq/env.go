package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
	"github.com/KENTA-CMC/learning-program/internal/config"
	"github.com/KENTA-CMC/learning-program/internal/llm"
	"github.com/KENTA-CMC/learning-program/internal/observability"
	"github.com/KENTA-CMC/learning-program/internal/processor"
	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
	"github.com/KENTA-CMC/learning-program/internal/templates"
)

// env is what every subcommand builds from configuration
type env struct {
	cfg      *config.Config
	logger   *observability.Logger
	guard    *sqlguard.Guard
	registry *templates.Registry
	pool     *pgxpool.Pool
}

func loadEnv(ctx context.Context, connect bool) (*env, error) {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if tableFlag != "" {
		cfg.Dataset.Table = tableFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	e := &env{
		cfg:    cfg,
		logger: observability.NewLogger("salesq").WithOutput(out).WithLevel(observability.ParseLevel(cfg.Log.Level)),
		guard:  sqlguard.New(cfg.Dataset.Table),
	}

	e.registry, err = templates.LoadFile(e.guard, cfg.Dataset.TemplatesFile)
	if err != nil {
		return nil, err
	}

	if connect {
		e.pool, err = analytics.Connect(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns))
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func (e *env) engine() *analytics.PostgresEngine {
	return analytics.NewPostgresEngine(e.pool, e.cfg.Dataset.Table, e.cfg.Query.StatementTimeout)
}

// pipeline runs without cache or history; offline disables the language model
func (e *env) pipeline(offline bool) *processor.Pipeline {
	engine := e.engine()
	deps := processor.Dependencies{
		Guard:    e.guard,
		Resolver: templates.NewResolver(e.registry),
		Engine:   engine,
		Dataset:  engine,
		Logger:   e.logger,
	}
	if !offline {
		client, err := llm.New(llm.Config{
			Provider:  e.cfg.LLM.Provider,
			APIKey:    e.cfg.LLMAPIKey(),
			BaseURL:   baseURL(e.cfg),
			ModelSQL:  modelSQL(e.cfg),
			ModelText: modelText(e.cfg),
			Timeout:   e.cfg.LLM.Timeout,
			MaxTokens: e.cfg.LLM.MaxTokens,
			Retry:     llm.DefaultRetryConfig,
		})
		if err != nil {
			e.logger.Warn(context.Background(), "Language model disabled", map[string]interface{}{"error": err.Error()})
		} else {
			deps.LLM = client
		}
	}
	return processor.NewPipeline(deps, processor.Options{
		SummaryRowLimit:  e.cfg.Query.SummaryRowLimit,
		MaxQuestionRunes: e.cfg.Query.MaxQuestionRunes,
		Timeout:          e.cfg.Query.Timeout,
	})
}

func baseURL(cfg *config.Config) string {
	if cfg.LLM.Provider == llm.ProviderAnthropic {
		return cfg.LLM.AnthropicBaseURL
	}
	return cfg.LLM.OpenAIBaseURL
}

func modelSQL(cfg *config.Config) string {
	if cfg.LLM.Provider == llm.ProviderAnthropic {
		return cfg.LLM.AnthropicModelSQL
	}
	return cfg.LLM.OpenAIModelSQL
}

func modelText(cfg *config.Config) string {
	if cfg.LLM.Provider == llm.ProviderAnthropic {
		return cfg.LLM.AnthropicModelText
	}
	return cfg.LLM.OpenAIModelText
}
