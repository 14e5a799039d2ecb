package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pgainullin/pa-workflow/internal/batch"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/template"
)

// Extract pulls structured fields out of text with the model's JSON mode.
type Extract struct {
	LLM      *llm.Client
	MaxChars int
}

func (e *Extract) Name() string { return "extract" }

func (e *Extract) Description() string {
	return "Extract structured data from text as JSON. Params: text, fields (list of names or name->description map) " +
		"or schema. Outputs: extracted_data (object), chunks."
}

func (e *Extract) Execute(ctx context.Context, params map[string]any) (Result, error) {
	text := String(params, "text", "content")
	if text == "" {
		return Fail("extract: text is required"), nil
	}
	if e.LLM == nil {
		return nil, errNoLLM
	}
	fields := describeFields(params)

	const system = "You extract structured data from documents. Reply with a single JSON object and nothing else. " +
		"Use null for fields that are not present. Use arrays for repeated values and numbers for numeric values."
	parts, err := batch.Process(ctx, text, e.MaxChars, func(ctx context.Context, chunk string, i, total int) (map[string]any, error) {
		var b strings.Builder
		if fields != "" {
			fmt.Fprintf(&b, "Fields to extract:\n%s\n\n", fields)
		} else {
			b.WriteString("Extract the key facts, figures and entities.\n\n")
		}
		if total > 1 {
			fmt.Fprintf(&b, "This is part %d of %d of a longer document.\n\n", i+1, total)
		}
		b.WriteString("Text:\n")
		b.WriteString(chunk)

		var out map[string]any
		if err := e.LLM.CompleteJSON(ctx, system, b.String(), &out); err != nil {
			return nil, err
		}
		return out, nil
	}, batch.Collect[map[string]any])
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return OK(map[string]any{"extracted_data": MergeMaps(parts.Items), "chunks": parts.Count}), nil
}

func describeFields(params map[string]any) string {
	v, ok := params["fields"]
	if !ok {
		v = params["schema"]
	}
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, template.Stringify(t[k]))
		}
		return b.String()
	default:
		names := Strings(map[string]any{"f": t}, "f")
		if len(names) == 0 {
			return template.Stringify(t)
		}
		return "- " + strings.Join(names, "\n- ")
	}
}

// MergeMaps combines per-chunk extraction results. List values are
// concatenated, nested maps are merged and the first non-empty scalar wins.
func MergeMaps(parts []map[string]any) map[string]any {
	out := map[string]any{}
	for _, p := range parts {
		for k, v := range p {
			out[k] = mergeValue(out[k], v)
		}
	}
	return out
}

func mergeValue(cur, next any) any {
	switch n := next.(type) {
	case []any:
		if c, ok := cur.([]any); ok {
			return append(append([]any{}, c...), n...)
		}
		if isEmpty(cur) {
			return n
		}
		return append([]any{cur}, n...)
	case map[string]any:
		if c, ok := cur.(map[string]any); ok {
			return MergeMaps([]map[string]any{c, n})
		}
		if isEmpty(cur) {
			return n
		}
		return cur
	default:
		if isEmpty(cur) {
			return next
		}
		return cur
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
