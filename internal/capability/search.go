package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/pgainullin/pa-workflow/internal/retry"
)

// Search runs a web search through a langchaingo tool.
type Search struct {
	Tool   tools.Tool
	Retry  retry.Config
	Logger zerolog.Logger
}

// NewDuckDuckGo returns the default search tool.
func NewDuckDuckGo(maxResults int, userAgent string) (tools.Tool, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if userAgent == "" {
		userAgent = duckduckgo.DefaultUserAgent
	}
	return duckduckgo.New(maxResults, userAgent)
}

func (s *Search) Name() string { return "search" }

func (s *Search) Description() string {
	return "Search the web for current information. Params: query. Outputs: results, query."
}

func (s *Search) Execute(ctx context.Context, params map[string]any) (Result, error) {
	query := String(params, "query", "q", "topic")
	if query == "" {
		return Fail("search: query is required"), nil
	}
	if s.Tool == nil {
		return Fail("search: no search backend configured"), nil
	}

	cfg := s.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.Logger.Warn().Err(err).Str("query", query).Int("attempt", attempt).Dur("backoff", delay).Msg("search failed, retrying")
	}
	results, err := retry.Value(ctx, cfg, func(ctx context.Context) (string, error) {
		return s.Tool.Call(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return OK(map[string]any{"results": results, "query": query}), nil
}
