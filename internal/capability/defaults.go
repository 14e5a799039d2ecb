package capability

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/tools"

	"github.com/pgainullin/pa-workflow/internal/attachment"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/retry"
)

// Limits are the per-call size ceilings, in characters, of the chunked
// text capabilities.
type Limits struct {
	Summarize int
	Translate int
	Extract   int
}

// DefaultLimits returns the ceilings used when none are configured.
func DefaultLimits() Limits {
	return Limits{Summarize: 12000, Translate: 8000, Extract: 4000}
}

// Deps are the shared resources injected into built-in capabilities.
type Deps struct {
	LLM         *llm.Client
	Attachments attachment.Resolver
	HTTP        *http.Client
	Search      tools.Tool
	Retry       retry.Config
	Limits      Limits
	Logger      zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry = retry.DefaultConfig()
	}
	def := DefaultLimits()
	if d.Limits.Summarize <= 0 {
		d.Limits.Summarize = def.Summarize
	}
	if d.Limits.Translate <= 0 {
		d.Limits.Translate = def.Translate
	}
	if d.Limits.Extract <= 0 {
		d.Limits.Extract = def.Extract
	}
	return d
}

// NewDefaultRegistry returns a registry with every built-in capability wired
// to d.
func NewDefaultRegistry(d Deps) *Registry {
	d = d.withDefaults()
	r := NewRegistry()
	r.Register(&Parse{Attachments: d.Attachments})
	r.Register(&Fetch{Client: d.HTTP, Retry: d.Retry, Logger: d.Logger})
	r.Register(&Summarize{LLM: d.LLM, MaxChars: d.Limits.Summarize})
	r.Register(&Translate{LLM: d.LLM, MaxChars: d.Limits.Translate})
	r.Register(&Extract{LLM: d.LLM, MaxChars: d.Limits.Extract})
	r.Register(&Search{Tool: d.Search, Retry: d.Retry, Logger: d.Logger})
	r.Register(&Chart{})
	r.Register(&Compose{LLM: d.LLM})
	return r
}
