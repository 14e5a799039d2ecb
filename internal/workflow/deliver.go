package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/retry"
)

// Deliverer sends a response to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, resp *Response) error
}

// HTTPCallback posts responses as JSON to a callback URL.
type HTTPCallback struct {
	URL    string
	Token  string
	Client *http.Client
	Retry  retry.Config
	Logger zerolog.Logger
}

// NewHTTPCallback creates a callback deliverer with a request timeout.
func NewHTTPCallback(url, token string, timeout time.Duration, cfg retry.Config, logger zerolog.Logger) *HTTPCallback {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCallback{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
		Retry:  cfg,
		Logger: logger,
	}
}

// Deliver posts resp, retrying rate limiting and server errors.
func (h *HTTPCallback) Deliver(ctx context.Context, resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	cfg := h.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		h.Logger.Warn().Err(err).Str("url", h.URL).Int("attempt", attempt).Dur("backoff", delay).Msg("callback failed, retrying")
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
		if err != nil {
			return dagerrors.MarkPermanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if h.Token != "" {
			req.Header.Set("Authorization", "Bearer "+h.Token)
		}
		res, err := h.Client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		if res.StatusCode >= 300 {
			return &dagerrors.StatusError{Code: res.StatusCode, Body: string(bytes.TrimSpace(body))}
		}
		return nil
	})
}

// WriterDeliverer prints responses as indented JSON.
type WriterDeliverer struct {
	W io.Writer
}

// Deliver implements Deliverer.
func (d *WriterDeliverer) Deliver(ctx context.Context, resp *Response) error {
	enc := json.NewEncoder(d.W)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
