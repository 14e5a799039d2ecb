package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/retry"
)

const userAgent = "Mozilla/5.0 (compatible; paworkflow/1.0)"

// DefaultMaxBytes caps the response size fetch accepts.
const DefaultMaxBytes = 5 << 20

// Fetch retrieves a URL and extracts its main text. Responses larger than
// MaxBytes fail the step rather than being cut short.
type Fetch struct {
	Client   *http.Client
	Retry    retry.Config
	Logger   zerolog.Logger
	MaxBytes int64
}

func (f *Fetch) Name() string { return "fetch" }

func (f *Fetch) Description() string {
	return "Download a web page or API URL and extract its readable text. " +
		"Params: url, optional method, headers, body. Outputs: title, text, url, status_code, content_type."
}

type response struct {
	status      int
	contentType string
	body        []byte
	tooLarge    bool
}

func (f *Fetch) Execute(ctx context.Context, params map[string]any) (Result, error) {
	raw := String(params, "url", "link")
	if raw == "" {
		return Fail("fetch: url is required"), nil
	}
	pageURL, err := url.Parse(raw)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return Fail("fetch: invalid url %q", raw), nil
	}

	method := strings.ToUpper(String(params, "method"))
	if method == "" {
		method = http.MethodGet
	}
	body := String(params, "body")
	headers, _ := params["headers"].(map[string]any)

	cfg := f.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		f.Logger.Warn().Err(err).Str("url", raw).Int("attempt", attempt).Dur("backoff", delay).Msg("fetch failed, retrying")
	}
	resp, err := retry.Value(ctx, cfg, func(ctx context.Context) (*response, error) {
		return f.do(ctx, method, raw, body, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", raw, err)
	}
	if resp.tooLarge {
		return Fail("fetch: response from %s exceeds %d bytes", raw, f.maxBytes()), nil
	}

	out := map[string]any{
		"url":          raw,
		"status_code":  resp.status,
		"content_type": resp.contentType,
	}
	if resp.contentType == "text/html" || resp.contentType == "application/xhtml+xml" {
		title, text, err := htmlText(resp.body, pageURL)
		if err != nil {
			return Fail("fetch: extracting content from %s: %v", raw, err), nil
		}
		out["title"] = title
		out["text"] = text
	} else {
		out["title"] = ""
		out["text"] = string(resp.body)
	}
	return OK(out), nil
}

func (f *Fetch) do(ctx context.Context, method, rawURL, body string, headers map[string]any) (*response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, dagerrors.MarkPermanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprint(v))
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := f.maxBytes()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &dagerrors.StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return &response{
		status:      resp.StatusCode,
		contentType: mediaType(resp.Header.Get("Content-Type")),
		body:        data,
		tooLarge:    int64(len(data)) > limit,
	}, nil
}

func (f *Fetch) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
