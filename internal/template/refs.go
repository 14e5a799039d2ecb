package template

import (
	"sort"
	"strconv"
	"strings"
)

// Ref is a parsed reference such as step_2.extracted_data.total.
type Ref struct {
	Root string
	Path []string
}

func (r Ref) String() string {
	if len(r.Path) == 0 {
		return r.Root
	}
	return r.Root + "." + strings.Join(r.Path, ".")
}

// Step returns the referenced step index, or 0 when the root is not a step.
func (r Ref) Step() int {
	n, ok := strings.CutPrefix(r.Root, "step_")
	if !ok {
		return 0
	}
	i, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return i
}

// ParseRef splits a reference body into its root and path.
func ParseRef(s string) Ref {
	parts := strings.Split(strings.TrimSpace(s), ".")
	return Ref{Root: parts[0], Path: parts[1:]}
}

// References collects every reference found in v, recursing into maps and
// sequences. Whole-value, embedded and (when bare is set) bare references
// are all reported.
func References(v any, bare bool) []Ref {
	var refs []Ref
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if ref, ok := wholeRef(t); ok {
				refs = append(refs, ParseRef(ref))
				return
			}
			if bare {
				if m := bareRefRe.FindStringSubmatch(t); m != nil {
					refs = append(refs, ParseRef(m[1]))
					return
				}
			}
			for _, sub := range embeddedRefRe.FindAllStringSubmatch(t, -1) {
				ref := sub[1]
				if ref == "" {
					ref = sub[2]
				}
				refs = append(refs, ParseRef(ref))
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case []string:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(v)
	return refs
}

// StepDependencies returns the distinct step indices referenced by v, sorted.
func StepDependencies(v any, bare bool) []int {
	seen := map[int]bool{}
	var deps []int
	for _, r := range References(v, bare) {
		if n := r.Step(); n > 0 && !seen[n] {
			seen[n] = true
			deps = append(deps, n)
		}
	}
	sort.Ints(deps)
	return deps
}
