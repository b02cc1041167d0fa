package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate performs comprehensive validation on the configuration.
// A missing language model key is not an error: the pipeline answers from templates.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Database.Host == "" {
		errs.add("Database.Host", "database host is required")
	}
	if c.Database.Port == "" {
		errs.add("Database.Port", "database port is required")
	}
	if c.Database.Database == "" {
		errs.add("Database.Database", "database name is required")
	}
	if c.Database.Username == "" {
		errs.add("Database.Username", "database username is required")
	}
	if c.Database.MaxConns <= 0 {
		errs.add("Database.MaxConns", "max connections must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs.add("Redis.Addr", "redis address is required when redis is enabled")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs.add("LLM.Provider", "invalid provider: %s (must be 'openai' or 'anthropic')", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		errs.add("LLM.Timeout", "LLM timeout must be positive")
	}
	if c.LLM.MaxTokens <= 0 {
		errs.add("LLM.MaxTokens", "max tokens must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		errs.add("LLM.MaxRetries", "max retries must be non-negative")
	}

	if !identifierPattern.MatchString(c.Dataset.Table) {
		errs.add("Dataset.Table", "table name %q must be a plain SQL identifier", c.Dataset.Table)
	}

	if c.Auth.JWTExpiry <= 0 {
		errs.add("Auth.JWTExpiry", "JWT expiry must be positive")
	}
	if c.Auth.RateLimit < 0 {
		errs.add("Auth.RateLimit", "rate limit must be non-negative")
	}
	if !c.Auth.AllowAnonymous && c.Auth.JWTSecret == "" {
		errs.add("Auth.JWTSecret", "JWT secret is required unless anonymous access is allowed")
	}

	if c.Server.Port == "" {
		errs.add("Server.Port", "server port is required")
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		errs.add("Server.GinMode", "invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode)
	}

	if c.Query.Timeout <= 0 {
		errs.add("Query.Timeout", "query timeout must be positive")
	}
	if c.Query.StatementTimeout <= 0 {
		errs.add("Query.StatementTimeout", "statement timeout must be positive")
	}
	if c.Query.CacheTTL < 0 {
		errs.add("Query.CacheTTL", "cache TTL must be non-negative")
	}
	if c.Query.SummaryRowLimit <= 0 {
		errs.add("Query.SummaryRowLimit", "summary row limit must be positive")
	}
	if c.Query.MaxQuestionRunes <= 0 {
		errs.add("Query.MaxQuestionRunes", "max question length must be positive")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LLMAPIKey returns the key of the selected provider
func (c *Config) LLMAPIKey() string {
	if c.LLM.Provider == "anthropic" {
		return c.LLM.AnthropicAPIKey
	}
	return c.LLM.OpenAIAPIKey
}

// LLMAPIKeyName is the setting LLMAPIKey was read from
func (c *Config) LLMAPIKeyName() string {
	if c.LLM.Provider == "anthropic" {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// ValidateProduction checks for insecure defaults that must not reach production
func (c *Config) ValidateProduction() error {
	var errs ValidationErrors

	if c.Database.Password == "" || c.Database.Password == "changeme" {
		errs.add("Database.Password", "production deployment must not use default or empty database password")
	}
	if c.Database.SSLMode == "disable" {
		errs.add("Database.SSLMode", "production deployment should not disable TLS to the database")
	}
	if c.Redis.Enabled && (c.Redis.Password == "" || c.Redis.Password == "changeme") {
		errs.add("Redis.Password", "production deployment must not use default or empty Redis password")
	}

	insecureJWTSecrets := map[string]bool{
		"":                          true,
		"change-this-in-production": true,
		"secret":                    true,
		"jwt-secret":                true,
	}
	if insecureJWTSecrets[c.Auth.JWTSecret] {
		errs.add("Auth.JWTSecret", "production deployment must not use default or insecure JWT secret")
	} else if len(c.Auth.JWTSecret) < 32 {
		errs.add("Auth.JWTSecret", "JWT secret should be at least 32 characters for production use")
	}
	if c.Auth.AllowAnonymous {
		errs.add("Auth.AllowAnonymous", "production deployment should not allow anonymous access")
	}
	if c.Server.GinMode != "release" {
		errs.add("Server.GinMode", "production deployment should use 'release' mode")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// IsProduction determines if the current environment is production
// based on the GinMode setting
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}
	return nil
}
