package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentrank/internal/config"
	"agentrank/internal/logging"
)

// Option configures an HTTP provider during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	model      string
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("provider: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(m string) Option {
	return func(cfg *clientConfig) error {
		cfg.model = m
		return nil
	}
}

// httpClient is the transport shared by the HTTP providers.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	model   string
}

func newHTTPClient(name, baseURL, defaultModel string, opts []Option) (*httpClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: baseURL is required", name)
	}
	cfg := &clientConfig{model: defaultModel}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.timeout > 0 {
		hc.Timeout = cfg.timeout
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &httpClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  hc,
		logger:  logger,
		model:   cfg.model,
	}, nil
}

func (c *httpClient) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// postJSON sends body to path and decodes a 2xx response into dst.
// errMessage extracts a message from a non-2xx body, if the provider has one.
func (c *httpClient) postJSON(ctx context.Context, path, operation string, headers map[string]string,
	body any, dst any, errMessage func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", operation, err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.DebugContext(ctx, "provider request", "provider", c.name, "operation", operation, "url", url)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{provider: c.name, operation: operation, err: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "provider response", "provider", c.name, "operation", operation,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{provider: c.name, operation: operation, err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if errMessage != nil {
			msg = errMessage(respBody)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = resp.Status
		}
		return &Error{provider: c.name, operation: operation, statusCode: resp.StatusCode, message: msg}
	}
	if err := json.Unmarshal(respBody, dst); err != nil {
		return &Error{provider: c.name, operation: operation, err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// FromConfig builds a registry with the offline echo provider plus every HTTP
// provider that has an API key configured.
func FromConfig(cfg config.ProvidersConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(Echo{})
	if cfg.OpenAI.APIKey != "" {
		p, err := NewOpenAI(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey,
			WithTimeout(cfg.OpenAI.Timeout), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := NewAnthropic(cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey,
			WithTimeout(cfg.Anthropic.Timeout), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}
	return reg, nil
}
