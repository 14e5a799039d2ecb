package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// refPattern matches a reference body: step_N or item or inputs, followed by
// an optional dotted path.
const refPattern = `(?:step_\d+|item|inputs)(?:\.[A-Za-z0-9_\-]+)*`

var (
	wholeRefRe    = regexp.MustCompile(`^\s*(?:\{\{\s*(` + refPattern + `)\s*\}\}|\{\s*(` + refPattern + `)\s*\})\s*$`)
	bareRefRe     = regexp.MustCompile(`^\s*(` + refPattern + `)\s*$`)
	embeddedRefRe = regexp.MustCompile(`\{\{\s*(` + refPattern + `)\s*\}\}|\{\s*(` + refPattern + `)\s*\}`)
)

// Context holds the values references can point at.
type Context struct {
	Inputs map[string]any            // triggering message fields
	Steps  map[string]map[string]any // step_N → step result map
}

// NewContext returns an empty context.
func NewContext(inputs map[string]any) *Context {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Context{Inputs: inputs, Steps: map[string]map[string]any{}}
}

// Loop binds the item variable inside a foreach expansion.
type Loop struct {
	Item  any
	Index int
}

// Resolution is the outcome of resolving a parameter map.
type Resolution struct {
	Params     map[string]any
	Unresolved []string // missing references, in key order then order of appearance
}

// Resolve substitutes references in params. A string that is exactly one
// reference keeps the referenced value's type; references inside larger
// strings are replaced with their string form. Missing references are left
// as written and reported in Unresolved. params is not modified.
func Resolve(params map[string]any, ctx *Context, loop *Loop) Resolution {
	r := &resolver{ctx: ctx, loop: loop}
	return Resolution{Params: r.object(params), Unresolved: r.missing}
}

// ResolveValue is Resolve for a single value.
func ResolveValue(v any, ctx *Context, loop *Loop) (any, []string) {
	r := &resolver{ctx: ctx, loop: loop}
	return r.value(v), r.missing
}

// Lookup resolves expr when it is a single reference, braced or bare.
func Lookup(expr string, ctx *Context, loop *Loop) (any, bool) {
	ref, ok := wholeRef(expr)
	if !ok {
		m := bareRefRe.FindStringSubmatch(expr)
		if m == nil {
			return nil, false
		}
		ref = m[1]
	}
	return lookup(ref, ctx, loop)
}

// wholeRef returns the reference body when s is exactly one braced reference.
func wholeRef(s string) (string, bool) {
	m := wholeRefRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// IsReference reports whether expr is a single braced or bare reference.
func IsReference(expr string) bool {
	return wholeRefRe.MatchString(expr) || bareRefRe.MatchString(expr)
}

type resolver struct {
	ctx     *Context
	loop    *Loop
	missing []string
}

func (r *resolver) value(v any) any {
	switch t := v.(type) {
	case string:
		return r.str(t)
	case map[string]any:
		return r.object(t)
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.value(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.value(val)
		}
		return out
	default:
		return v
	}
}

// object resolves a map in key order so Unresolved is stable.
func (r *resolver) object(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[k] = r.value(m[k])
	}
	return out
}

func (r *resolver) str(s string) any {
	if ref, ok := wholeRef(s); ok {
		if v, ok := lookup(ref, r.ctx, r.loop); ok {
			return v
		}
		r.missing = append(r.missing, ref)
		return s
	}
	if !strings.Contains(s, "{") {
		return s
	}
	return embeddedRefRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := embeddedRefRe.FindStringSubmatch(match)
		ref := sub[1]
		if ref == "" {
			ref = sub[2]
		}
		v, ok := lookup(ref, r.ctx, r.loop)
		if !ok {
			r.missing = append(r.missing, ref)
			return match
		}
		return Stringify(v)
	})
}

// lookup walks a reference through the context. The first segment selects the
// root (a step result, the loop item or the inputs).
func lookup(ref string, ctx *Context, loop *Loop) (any, bool) {
	root, rest, _ := strings.Cut(ref, ".")
	var cur any
	switch {
	case root == "item":
		if loop == nil {
			return nil, false
		}
		cur = loop.Item
	case root == "inputs":
		if ctx == nil || ctx.Inputs == nil {
			return nil, false
		}
		cur = ctx.Inputs
	default:
		if ctx == nil {
			return nil, false
		}
		step, ok := ctx.Steps[root]
		if !ok {
			return nil, false
		}
		cur = step
	}
	if rest == "" {
		return cur, true
	}
	return Walk(cur, strings.Split(rest, "."))
}

// Walk follows path through nested maps and sequences. Numeric segments
// index into sequences.
func Walk(cur any, path []string) (any, bool) {
	for _, seg := range path {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(cur any, seg string) (any, bool) {
	switch t := cur.(type) {
	case map[string]any:
		v, ok := t[seg]
		return v, ok
	case map[string]string:
		v, ok := t[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// Stringify renders a resolved value for embedding in text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
