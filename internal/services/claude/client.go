package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tsumugi/internal/services"
)

const (
	defaultMaxTokens      = 4096
	defaultRequestTimeout = 60 * time.Second
)

// Config captures the runtime settings required to talk to the Anthropic API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps the Anthropic Messages API. Each call is a single attempt;
// callers own the retry policy and decide what failures are worth repeating
// based on the error classification.
type Client struct {
	api       *anthropic.Client
	cfg       Config
	maxTokens int64
}

// Option customizes the client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	maxTokens  int64
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(tokens int64) Option {
	return func(o *clientOptions) {
		if tokens > 0 {
			o.maxTokens = tokens
		}
	}
}

// NewClient constructs a Claude client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	options := clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&options)
	}
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	trimmed := Config{
		APIKey:         strings.TrimSpace(cfg.APIKey),
		BaseURL:        strings.TrimSpace(cfg.BaseURL),
		Model:          strings.TrimSpace(cfg.Model),
		TimeoutSeconds: cfg.TimeoutSeconds,
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(trimmed.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if trimmed.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(trimmed.BaseURL))
	}
	if options.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(options.httpClient))
	}
	api := anthropic.NewClient(reqOpts...)
	return &Client{
		api:       &api,
		cfg:       trimmed,
		maxTokens: options.maxTokens,
	}
}

// Model reports the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

type apiStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	err        error
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("claude request: http %d: %v", e.StatusCode, e.err)
}

func (e *apiStatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return services.ErrRateLimited
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode >= http.StatusInternalServerError:
		return services.ErrTransientNetwork
	case e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusPaymentRequired,
		e.StatusCode == http.StatusForbidden:
		return services.ErrConfiguration
	default:
		return nil
	}
}

func (e *apiStatusError) RetryAfterHint() (time.Duration, bool) {
	if e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// CompleteJSON issues a JSON-only message request with the supplied prompts
// and returns the raw payload produced by the model. Failures carry a
// classification marker so callers can decide whether to retry.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "claude", "complete", "system prompt required", nil)
	}
	if userPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "claude", "complete", "user prompt required", nil)
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "claude", "complete", "api key required", nil)
	}

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	})
	if err != nil {
		return "", c.classifyError(err)
	}
	if string(resp.StopReason) == "refusal" {
		return "", services.Wrap(services.ErrContentPolicy, "claude", "complete", "model refused the request", nil)
	}

	var text string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if text == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "claude", "complete",
			fmt.Sprintf("empty response content (stop_reason=%q)", resp.StopReason), nil)
	}
	return text, nil
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "claude", "health", "api key required", nil)
	}
	content, err := c.CompleteJSON(ctx,
		"You must respond with JSON only.",
		"Respond with {\"ok\":true}")
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := services.DecodeModelJSON(content, &parsed); err != nil {
		return services.Wrap(services.ErrMalformedResponse, "claude", "health", "parse payload", err)
	}
	if !parsed.OK {
		return services.Wrap(services.ErrMalformedResponse, "claude", "health", "unexpected response", nil)
	}
	return nil
}

func (c *Client) classifyError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		var retryAfter time.Duration
		if apierr.Response != nil {
			retryAfter, _ = services.ParseRetryAfter(apierr.Response.Header.Get("Retry-After"))
		}
		return &apiStatusError{
			StatusCode: apierr.StatusCode,
			RetryAfter: retryAfter,
			err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return services.Wrap(services.ErrTransientNetwork, "claude", "request", "http error", err)
}
