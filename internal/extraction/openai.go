package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIClient implements Completer against a chat-completions endpoint.
// It works with api.openai.com and with Azure-OpenAI-compatible
// deployments that accept an api-key header.
type OpenAIClient struct {
	client *http.Client

	baseURL string
	apiKey  string
	model   string

	// Azure deployments authenticate with an api-key header instead of a
	// bearer token.
	azureStyle bool
}

var _ Completer = (*OpenAIClient)(nil)

// OpenAIOption customises an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) { c.client.Timeout = d }
}

// WithAzureAuth switches authentication to the api-key header scheme.
func WithAzureAuth() OpenAIOption {
	return func(c *OpenAIClient) { c.azureStyle = true }
}

// NewOpenAIClient builds a completer for the given endpoint and model.
// baseURL defaults to the public OpenAI API.
func NewOpenAIClient(baseURL, apiKey, model string, options ...OpenAIOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &OpenAIClient{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Complete sends one chat completion requesting a JSON object at
// temperature 0 and returns the raw message content.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("extraction model API key not configured")
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type respFormat struct {
		Type string `json:"type"`
	}
	type chatReq struct {
		Model          string     `json:"model"`
		Messages       []chatMsg  `json:"messages"`
		Temperature    float64    `json:"temperature"`
		ResponseFormat respFormat `json:"response_format"`
	}

	body, err := json.Marshal(chatReq{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPayload},
		},
		Temperature:    0,
		ResponseFormat: respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.azureStyle {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction model status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}
