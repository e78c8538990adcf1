package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AnthropicName is the provider identifier for the Anthropic Messages API.
const AnthropicName = "anthropic"

const (
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	anthropicVersion      = "2023-06-01"
	anthropicMaxTokens    = 1024
)

// Anthropic calls the Messages API.
type Anthropic struct {
	http   *httpClient
	apiKey string
}

// NewAnthropic creates a client for baseURL (e.g. https://api.anthropic.com).
func NewAnthropic(baseURL, apiKey string, opts ...Option) (*Anthropic, error) {
	hc, err := newHTTPClient(AnthropicName, baseURL, defaultAnthropicModel, opts)
	if err != nil {
		return nil, err
	}
	return &Anthropic{http: hc, apiKey: apiKey}, nil
}

func (p *Anthropic) Name() string { return AnthropicName }

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	body := messagesRequest{
		Model:       p.http.modelFor(req),
		MaxTokens:   anthropicMaxTokens,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp messagesResponse
	err := p.http.postJSON(ctx, "/v1/messages", "messages", headers, body, &resp,
		func(b []byte) string {
			var eb anthropicErrorBody
			if json.Unmarshal(b, &eb) == nil && eb.Error.Message != "" {
				return eb.Error.Type + ": " + eb.Error.Message
			}
			return ""
		})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &Error{provider: AnthropicName, operation: "messages", err: fmt.Errorf("response has no text content")}
	}
	return sb.String(), nil
}
