// Package llm wraps a langchaingo model as the shared completion client
// injected into capabilities and the planner.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/retry"
)

// ErrEmptyCompletion is returned (tagged transient) when the model answers
// with no content.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Client issues rate-limited, retried completions. One Client is shared by
// every capability of a run.
type Client struct {
	model       llms.Model
	limiter     *rate.Limiter
	retry       retry.Config
	logger      zerolog.Logger
	temperature float64
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter throttles calls; nil disables throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRateLimit throttles calls to rps with the given burst; rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for each completion.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// New returns a Client over model.
func New(model llms.Model, opts ...Option) *Client {
	c := &Client{
		model:       model,
		retry:       retry.DefaultConfig(),
		logger:      zerolog.Nop(),
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAI builds an OpenAI-compatible model.
func NewOpenAI(apiKey, model, baseURL string) (llms.Model, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return m, nil
}

// Complete returns the model's answer to prompt under the system instructions.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return retry.Value(ctx, c.retryConfig("complete"), func(ctx context.Context) (string, error) {
		return c.generate(ctx, system, prompt)
	})
}

// CompleteJSON asks for a JSON answer and decodes it into out. Malformed JSON
// is retried like an empty completion.
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string, out any) error {
	return retry.Do(ctx, c.retryConfig("complete_json"), func(ctx context.Context) error {
		text, err := c.generate(ctx, system, prompt, llms.WithJSONMode())
		if err != nil {
			return err
		}
		if err := DecodeJSON(text, out); err != nil {
			return dagerrors.MarkTransient(err)
		}
		return nil
	})
}

func (c *Client) generate(ctx context.Context, system, prompt string, extra ...llms.CallOption) (string, error) {
	if c.model == nil {
		return "", dagerrors.MarkPermanent(errors.New("llm: no model configured"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	opts := append([]llms.CallOption{llms.WithTemperature(c.temperature)}, extra...)
	resp, err := c.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", dagerrors.MarkTransient(ErrEmptyCompletion)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (c *Client) retryConfig(op string) retry.Config {
	cfg := c.retry
	logger := c.logger
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("llm call failed, retrying")
	}
	return cfg
}

// DecodeJSON decodes the first JSON value in text, tolerating markdown fences
// and surrounding prose.
func DecodeJSON(text string, out any) error {
	data := []byte(strings.TrimSpace(text))
	if bytes.HasPrefix(data, []byte("```")) {
		data = bytes.TrimPrefix(data, []byte("```"))
		if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
			data = data[nl+1:]
		}
		data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	start := bytes.IndexAny(data, "{[")
	if start < 0 {
		return fmt.Errorf("llm: no JSON in completion")
	}
	closer := byte('}')
	if data[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(data, closer)
	if end <= start {
		return fmt.Errorf("llm: unterminated JSON in completion")
	}
	if err := json.Unmarshal(data[start:end+1], out); err != nil {
		return fmt.Errorf("llm: invalid JSON in completion: %w", err)
	}
	return nil
}
