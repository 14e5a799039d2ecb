// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Call records one GenerateContent invocation.
type Call struct {
	System string
	Prompt string
}

// Model replays scripted answers. Handler, when set, takes precedence over
// Responses. Errors[i], when non-nil, fails call i.
type Model struct {
	Responses []string
	Errors    []error
	Handler   func(system, prompt string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// GenerateContent implements llms.Model.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var call Call
	for _, msg := range messages {
		var parts []string
		for _, p := range msg.Parts {
			if t, ok := p.(llms.TextContent); ok {
				parts = append(parts, t.Text)
			}
		}
		text := strings.Join(parts, "\n")
		if msg.Role == schema.ChatMessageTypeSystem {
			call.System = text
		} else {
			call.Prompt = text
		}
	}

	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if n < len(m.Errors) && m.Errors[n] != nil {
		return nil, m.Errors[n]
	}

	var content string
	switch {
	case m.Handler != nil:
		out, err := m.Handler(call.System, call.Prompt)
		if err != nil {
			return nil, err
		}
		content = out
	case len(m.Responses) > 0:
		i := n
		if i >= len(m.Responses) {
			i = len(m.Responses) - 1
		}
		content = m.Responses[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

// Call implements llms.Model.
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the recorded invocations.
func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
