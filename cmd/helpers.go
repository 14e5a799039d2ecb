package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/pgainullin/pa-workflow/internal/attachment"
	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/config"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/logging"
)

// env bundles what every command needs.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	llm    *llm.Client
}

// setup loads configuration, the logger and, when credentials are present,
// the LLM client.
func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	e := &env{cfg: cfg, logger: logger}
	if cfg.LLM.APIKey == "" {
		logger.Warn().Msg("no LLM API key configured; language capabilities will fail")
		return e, nil
	}
	model, err := llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}
	e.llm = llm.New(model,
		llm.WithRetry(cfg.RetryConfig()),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithLogger(logger),
	)
	return e, nil
}

// deps returns the capability dependencies for the configuration.
func (e *env) deps() capability.Deps {
	d := capability.Deps{
		LLM:    e.llm,
		Retry:  e.cfg.RetryConfig(),
		Logger: e.logger,
		Limits: capability.Limits{
			Summarize: e.cfg.Batch.SummarizeMaxChars,
			Translate: e.cfg.Batch.TranslateMaxChars,
			Extract:   e.cfg.Batch.ExtractMaxChars,
		},
	}
	if e.cfg.Attachments.Dir != "" {
		d.Attachments = &attachment.DirResolver{Dir: e.cfg.Attachments.Dir}
	}
	if tool, err := capability.NewDuckDuckGo(e.cfg.Search.MaxResults, e.cfg.Search.UserAgent); err != nil {
		e.logger.Warn().Err(err).Msg("web search unavailable")
	} else {
		d.Search = tool
	}
	return d
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncateLine(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
