package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ClaudeAPIBaseURL   = "https://api.anthropic.com/v1"
	ClaudeVersion      = "2023-06-01"
	ClaudeDefaultModel = "claude-3-haiku-20240307"
)

// ClaudeClient implements the Client interface using Anthropic's Messages API
type ClaudeClient struct {
	generator
	apiKey  string
	baseURL string
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeClient creates a new Claude client
func NewClaudeClient(cfg Config) *ClaudeClient {
	c := &ClaudeClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
	if c.baseURL == "" {
		c.baseURL = ClaudeAPIBaseURL
	}
	c.generator = newGenerator(c, cfg, ClaudeDefaultModel)
	return c
}

func (c *ClaudeClient) complete(ctx context.Context, req completion) (string, error) {
	request := claudeRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []claudeMessage{{Role: "user", Content: req.User}},
	}

	var response claudeResponse
	err := postJSON(ctx, c.client, "anthropic", c.baseURL+"/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": ClaudeVersion,
	}, request, &response)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return sb.String(), nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
