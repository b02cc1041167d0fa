package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	OpenAIAPIBaseURL   = "https://api.openai.com/v1"
	OpenAIDefaultModel = "gpt-4o-mini"
)

// OpenAIClient implements the Client interface using the chat completions API
type OpenAIClient struct {
	generator
	apiKey  string
	baseURL string
	client  *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg Config) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
	if c.baseURL == "" {
		c.baseURL = OpenAIAPIBaseURL
	}
	c.generator = newGenerator(c, cfg, OpenAIDefaultModel)
	return c
}

func (c *OpenAIClient) complete(ctx context.Context, req completion) (string, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.User})

	var response openAIResponse
	err := postJSON(ctx, c.client, "openai", c.baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &response)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}
