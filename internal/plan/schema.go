package plan

import "fmt"

// Plan is an ordered list of capability invocations authored by the planner.
type Plan struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one capability invocation. Its 1-based position in the plan is its
// index; later steps refer to its output as step_N.
type Step struct {
	Capability  string         `json:"capability" yaml:"capability"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Foreach     any            `json:"foreach,omitempty" yaml:"foreach,omitempty"` // reference expression or literal list
	DependsOn   []int          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Key returns the context key for the step at 1-based index i.
func Key(i int) string {
	return fmt.Sprintf("step_%d", i)
}

// Len returns the number of steps; a nil plan has none.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}
