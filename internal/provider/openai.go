package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpenAIName is the provider identifier for OpenAI-compatible endpoints.
const OpenAIName = "openai"

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI calls an OpenAI-compatible chat completions endpoint. The base URL
// may point at any compatible server (Groq, OpenRouter, a local Ollama).
type OpenAI struct {
	http   *httpClient
	apiKey string
}

// NewOpenAI creates a client for baseURL (e.g. https://api.openai.com/v1).
func NewOpenAI(baseURL, apiKey string, opts ...Option) (*OpenAI, error) {
	hc, err := newHTTPClient(OpenAIName, baseURL, defaultOpenAIModel, opts)
	if err != nil {
		return nil, err
	}
	return &OpenAI{http: hc, apiKey: apiKey}, nil
}

func (p *OpenAI) Name() string { return OpenAIName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	body := chatRequest{Model: p.http.modelFor(req), Temperature: req.Temperature}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	var resp chatResponse
	err := p.http.postJSON(ctx, "/chat/completions", "chat completion", headers, body, &resp,
		func(b []byte) string {
			var eb openAIErrorBody
			if json.Unmarshal(b, &eb) == nil {
				return eb.Error.Message
			}
			return ""
		})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &Error{provider: OpenAIName, operation: "chat completion", err: fmt.Errorf("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}
