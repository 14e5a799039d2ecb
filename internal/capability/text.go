package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgainullin/pa-workflow/internal/batch"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/template"
)

var errNoLLM = errors.New("no language model configured")

// Summarize condenses text, one model call per chunk when the text exceeds
// MaxChars.
type Summarize struct {
	LLM      *llm.Client
	MaxChars int
}

func (s *Summarize) Name() string { return "summarize" }

func (s *Summarize) Description() string {
	return "Summarize text. Params: text, optional instructions. Outputs: summary, chunks."
}

func (s *Summarize) Execute(ctx context.Context, params map[string]any) (Result, error) {
	text := String(params, "text", "content")
	if text == "" {
		return Fail("summarize: text is required"), nil
	}
	if s.LLM == nil {
		return nil, errNoLLM
	}
	instructions := String(params, "instructions", "focus")

	const system = "You summarize emails, documents and web pages for a busy reader. " +
		"Answer with the summary only, in plain text."
	chunks := 0
	summary, err := batch.ProcessText(ctx, text, s.MaxChars, func(ctx context.Context, chunk string, i, total int) (string, error) {
		chunks = total
		var b strings.Builder
		if instructions != "" {
			fmt.Fprintf(&b, "Instructions: %s\n\n", instructions)
		}
		if total > 1 {
			fmt.Fprintf(&b, "This is part %d of %d of a longer text.\n\n", i+1, total)
		}
		b.WriteString("Summarize:\n")
		b.WriteString(chunk)
		return s.LLM.Complete(ctx, system, b.String())
	}, "")
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return OK(map[string]any{"summary": summary, "chunks": chunks}), nil
}

// Translate translates text into a target language chunk by chunk.
type Translate struct {
	LLM      *llm.Client
	MaxChars int
}

func (t *Translate) Name() string { return "translate" }

func (t *Translate) Description() string {
	return "Translate text into another language. Params: text, target_lang, optional source_lang. " +
		"Outputs: translated_text, target_lang, chunks."
}

func (t *Translate) Execute(ctx context.Context, params map[string]any) (Result, error) {
	text := String(params, "text", "content")
	if text == "" {
		return Fail("translate: text is required"), nil
	}
	target := String(params, "target_lang", "target_language", "language", "to")
	if target == "" {
		return Fail("translate: target_lang is required"), nil
	}
	if t.LLM == nil {
		return nil, errNoLLM
	}
	source := String(params, "source_lang", "source_language", "from")

	system := "You are a professional translator. Reply with the translation only, preserving formatting."
	chunks := 0
	out, err := batch.ProcessText(ctx, text, t.MaxChars, func(ctx context.Context, chunk string, i, total int) (string, error) {
		chunks = total
		prompt := fmt.Sprintf("Translate the following text into %s", target)
		if source != "" {
			prompt += fmt.Sprintf(" from %s", source)
		}
		return t.LLM.Complete(ctx, system, prompt+":\n\n"+chunk)
	}, "\n")
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	return OK(map[string]any{"translated_text": out, "target_lang": target, "chunks": chunks}), nil
}

// Compose drafts free text such as a reply or a report section.
type Compose struct {
	LLM *llm.Client
}

func (c *Compose) Name() string { return "compose" }

func (c *Compose) Description() string {
	return "Draft free text such as a reply, report or note. Params: instructions, optional context. Outputs: text."
}

func (c *Compose) Execute(ctx context.Context, params map[string]any) (Result, error) {
	instructions := String(params, "instructions", "prompt", "task")
	if instructions == "" {
		return Fail("compose: instructions are required"), nil
	}
	if c.LLM == nil {
		return nil, errNoLLM
	}
	prompt := instructions
	if v, ok := params["context"]; ok && v != nil {
		prompt += "\n\nContext:\n" + template.Stringify(v)
	}
	text, err := c.LLM.Complete(ctx, "You write clear, concise business text. Reply with the text only.", prompt)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	return OK(map[string]any{"text": text}), nil
}
