package engine

import (
	"github.com/google/uuid"

	"github.com/pgainullin/pa-workflow/internal/plan"
	"github.com/pgainullin/pa-workflow/internal/template"
)

// RunContext holds the state of one plan execution. The execution context
// only grows: a step's entry is written once, after it finishes.
type RunContext struct {
	RunID   string
	TmplCtx *template.Context
	failed  map[int]bool
}

// NewRunContext creates a new execution context.
func NewRunContext(inputs map[string]any) *RunContext {
	return &RunContext{
		RunID:   uuid.New().String(),
		TmplCtx: template.NewContext(inputs),
		failed:  map[int]bool{},
	}
}

func (rc *RunContext) record(sr StepResult) {
	rc.TmplCtx.Steps[plan.Key(sr.Step)] = sr.Map()
	if !sr.Success {
		rc.failed[sr.Step] = true
	}
}

// failedDeps returns the dependencies that already ran and failed.
func (rc *RunContext) failedDeps(deps []int) []int {
	var out []int
	for _, d := range deps {
		if rc.failed[d] {
			out = append(out, d)
		}
	}
	return out
}
