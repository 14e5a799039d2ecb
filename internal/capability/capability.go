// Package capability defines the named operations a plan can invoke and the
// registry the executor looks them up in.
package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pgainullin/pa-workflow/internal/template"
)

// Capability is a named operation invoked by plan steps. Expected domain
// failures are reported through a Result built with Fail; unexpected faults
// are returned as errors and converted by the executor.
type Capability interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// Result is the output of one capability invocation. It always carries a
// success flag and, on failure, an error message.
type Result map[string]any

// OK returns a successful result holding fields.
func OK(fields map[string]any) Result {
	r := make(Result, len(fields)+1)
	for k, v := range fields {
		r[k] = v
	}
	r["success"] = true
	return r
}

// Fail returns a failed result with a formatted error message.
func Fail(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Success reports the result's success flag. A result without the flag is
// treated as successful.
func (r Result) Success() bool {
	v, ok := r["success"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return ok && b
}

// Err returns the failure message, if any.
func (r Result) Err() string {
	s, _ := r["error"].(string)
	return s
}

// Func adapts a function into a Capability.
type Func struct {
	name        string
	description string
	fn          func(ctx context.Context, params map[string]any) (Result, error)
}

// NewFunc returns a Capability backed by fn.
func NewFunc(name, description string, fn func(ctx context.Context, params map[string]any) (Result, error)) *Func {
	return &Func{name: name, description: description, fn: fn}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.description }

func (f *Func) Execute(ctx context.Context, params map[string]any) (Result, error) {
	return f.fn(ctx, params)
}

// String returns the first non-empty parameter among keys, rendering
// non-string values as text.
func String(params map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(template.Stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first integer-like parameter among keys, or def.
func Int(params map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		switch v := params[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return def
}

// Strings returns a list parameter as strings. A single string is split on
// commas.
func Strings(params map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := params[k].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s := strings.TrimSpace(template.Stringify(e)); s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
