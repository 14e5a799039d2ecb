package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a plan file (JSON or YAML).
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes planner output. The shape is never trusted: anything that
// decodes is normalized by FromValue, so the only error is undecodable input.
func Parse(data []byte) (*Plan, error) {
	data = bytes.TrimSpace(stripFences(data))
	if len(data) == 0 {
		return &Plan{}, nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err == nil {
		return FromValue(raw), nil
	}

	// A YAML document that yields steps wins. Otherwise the input may be
	// JSON wrapped in prose, which YAML reads as a scalar or rejects.
	var doc any
	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		if p := FromValue(doc); p.Len() > 0 {
			return p, nil
		}
	}
	if p := fromSpan(data); p != nil {
		return p, nil
	}
	if yamlErr != nil {
		return nil, fmt.Errorf("parsing plan: %w", yamlErr)
	}
	return FromValue(doc), nil
}

// fromSpan decodes the JSON span embedded in data, or returns nil.
func fromSpan(data []byte) *Plan {
	inner := jsonSpan(data)
	if inner == nil {
		return nil
	}
	var raw any
	if err := json.Unmarshal(inner, &raw); err != nil {
		return nil
	}
	if p := FromValue(raw); p.Len() > 0 {
		return p
	}
	return nil
}

// FromValue normalizes an already decoded plan. A list is taken as the steps;
// an object is searched for a steps list; anything else is an empty plan.
func FromValue(v any) *Plan {
	switch t := v.(type) {
	case []any:
		p := &Plan{Steps: make([]Step, 0, len(t))}
		for _, raw := range t {
			p.Steps = append(p.Steps, normalizeStep(raw))
		}
		return p
	case map[string]any:
		for _, key := range []string{"steps", "plan", "execution_plan"} {
			if inner, ok := t[key]; ok {
				return FromValue(inner)
			}
		}
		if firstString(t, capabilityKeys...) != "" {
			return &Plan{Steps: []Step{normalizeStep(t)}}
		}
	}
	return &Plan{}
}

var capabilityKeys = []string{"capability", "capability_name", "tool", "action", "name"}

func normalizeStep(v any) Step {
	m, ok := v.(map[string]any)
	if !ok {
		return Step{Params: map[string]any{}}
	}
	s := Step{
		Capability:  strings.TrimSpace(firstString(m, capabilityKeys...)),
		Description: firstString(m, "description", "reason", "purpose"),
		Params:      map[string]any{},
	}
	for _, key := range []string{"params", "parameters", "args", "arguments", "inputs"} {
		if p := asParams(m[key]); p != nil {
			s.Params = p
			break
		}
	}
	for _, key := range []string{"foreach", "for_each", "loop"} {
		switch f := m[key].(type) {
		case string:
			if strings.TrimSpace(f) != "" {
				s.Foreach = strings.TrimSpace(f)
			}
		case []any:
			s.Foreach = f
		case nil:
		default:
			s.Foreach = f
		}
		if s.Foreach != nil {
			break
		}
	}
	s.DependsOn = asIndices(m["depends_on"])
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func asParams(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if json.Unmarshal([]byte(t), &m) == nil {
			return m
		}
	}
	return nil
}

// asIndices accepts 2, 2.0, "2", "step_2" or lists of those.
func asIndices(v any) []int {
	var out []int
	add := func(x any) {
		if n := asIndex(x); n > 0 {
			out = append(out, n)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, x := range t {
			add(x)
		}
	case nil:
	default:
		add(t)
	}
	return out
}

func asIndex(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(t), "step_")
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// stripFences removes a surrounding markdown code fence.
func stripFences(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "```") {
		return data
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(s)
}

// jsonSpan returns the outermost [...] or {...} span in data, for planner
// output wrapped in prose.
func jsonSpan(data []byte) []byte {
	start := bytes.IndexAny(data, "[{")
	if start < 0 {
		return nil
	}
	closer := byte(']')
	if data[start] == '{' {
		closer = '}'
	}
	end := bytes.LastIndexByte(data, closer)
	if end <= start {
		return nil
	}
	return data[start : end+1]
}
