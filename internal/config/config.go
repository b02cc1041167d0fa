package config

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Dataset  DatasetConfig
	Auth     AuthConfig
	Server   ServerConfig
	Query    QueryConfig
	Log      LogConfig
}

// DatabaseConfig holds PostgreSQL configuration for the analytics data and query history
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int
}

// DSN renders the connection string understood by both pgx and lib/pq
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// LLMConfig selects and configures the language model provider
type LLMConfig struct {
	Provider string // "openai" or "anthropic"

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModelSQL  string
	OpenAIModelText string

	AnthropicAPIKey    string
	AnthropicBaseURL   string
	AnthropicModelSQL  string
	AnthropicModelText string

	Timeout    time.Duration
	MaxTokens  int
	MaxRetries int
}

// DatasetConfig describes the single table the pipeline is allowed to read
type DatasetConfig struct {
	Table         string
	TemplatesFile string
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	RateLimit      int
	AllowAnonymous bool
	// AdminPassword seeds the built-in admin account; empty disables password login for it
	AdminPassword  string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port    string
	GinMode string
}

// QueryConfig holds pipeline tuning
type QueryConfig struct {
	Timeout          time.Duration
	StatementTimeout time.Duration
	CacheTTL         time.Duration
	SummaryRowLimit  int
	MaxQuestionRunes int
	HistoryEnabled   bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. OS keyring (when a backend is reachable)
// 2. File-based secrets mounted under /var/secrets
// 3. Environment variables
func NewDefaultLoader() *Loader {
	return &Loader{
		provider: NewChainProvider(
			NewKeyringProvider(KeyringServiceName),
			NewFileProvider("/var/secrets"),
			NewEnvProvider(),
		),
	}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Database = DatabaseConfig{
		Host:     l.getString(ctx, "DB_HOST", "localhost"),
		Port:     l.getString(ctx, "DB_PORT", "5432"),
		Database: l.getString(ctx, "DB_NAME", "salesq"),
		Username: l.getString(ctx, "DB_USER", "salesq"),
		Password: l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "DB_SSLMODE", "disable"),
		MaxConns: l.getInt(ctx, "DB_MAX_CONNS", 10),
	}

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
		Enabled:  l.getBool(ctx, "REDIS_ENABLED", true),
	}

	cfg.LLM = LLMConfig{
		Provider:           strings.ToLower(l.getString(ctx, "PROVIDER", "openai")),
		OpenAIAPIKey:       l.getString(ctx, "OPENAI_API_KEY", ""),
		OpenAIBaseURL:      l.getString(ctx, "OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModelSQL:     l.getString(ctx, "OPENAI_MODEL_SQL", "gpt-4o-mini"),
		OpenAIModelText:    l.getString(ctx, "OPENAI_MODEL_TEXT", "gpt-4o-mini"),
		AnthropicAPIKey:    l.getString(ctx, "ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:   l.getString(ctx, "ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		AnthropicModelSQL:  l.getString(ctx, "ANTHROPIC_MODEL_SQL", "claude-3-haiku-20240307"),
		AnthropicModelText: l.getString(ctx, "ANTHROPIC_MODEL_TEXT", "claude-3-haiku-20240307"),
		Timeout:            l.getDuration(ctx, "LLM_TIMEOUT", 30*time.Second),
		MaxTokens:          l.getInt(ctx, "LLM_MAX_TOKENS", 1000),
		MaxRetries:         l.getInt(ctx, "LLM_MAX_RETRIES", 3),
	}

	cfg.Dataset = DatasetConfig{
		Table:         l.getString(ctx, "DATASET_TABLE", "sales"),
		TemplatesFile: l.getString(ctx, "TEMPLATES_FILE", ""),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:      l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		RateLimit:      l.getInt(ctx, "RATE_LIMIT", 60),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		AdminPassword:  l.getString(ctx, "ADMIN_PASSWORD", ""),
	}

	cfg.Server = ServerConfig{
		Port:    l.getString(ctx, "PORT", "8080"),
		GinMode: l.getString(ctx, "GIN_MODE", "debug"),
	}

	cfg.Query = QueryConfig{
		Timeout:          l.getDuration(ctx, "QUERY_TIMEOUT", 60*time.Second),
		StatementTimeout: l.getDuration(ctx, "STATEMENT_TIMEOUT", 15*time.Second),
		CacheTTL:         l.getDuration(ctx, "CACHE_TTL", 5*time.Minute),
		SummaryRowLimit:  l.getInt(ctx, "SUMMARY_ROW_LIMIT", 200),
		MaxQuestionRunes: l.getInt(ctx, "MAX_QUESTION_LENGTH", 1000),
		HistoryEnabled:   l.getBool(ctx, "HISTORY_ENABLED", true),
	}

	cfg.Log = LogConfig{
		Level: l.getString(ctx, "LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Source names the provider that supplies key, or "default" when none does.
// Only a chain can tell its members apart; any other provider reports itself.
func (l *Loader) Source(ctx context.Context, key string) string {
	chain, ok := l.provider.(*ChainProvider)
	if !ok {
		if value, err := l.provider.GetSecret(ctx, key); err == nil && value != "" {
			return l.provider.Name()
		}
		return "default"
	}
	_, source, err := chain.Lookup(ctx, key)
	if err != nil {
		return "default"
	}
	return source
}

// Helper methods for retrieving and parsing configuration values

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// MustLoad loads configuration and panics on error
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
