package plan

import (
	"fmt"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/template"
)

// Issue is a problem found by Validate. The executor tolerates all of them;
// validation exists for tooling and planner diagnostics.
type Issue struct {
	Step    int    `json:"step"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("step_%d: %s", i.Step, i.Message)
}

// Validate checks step references and capability names. known may be nil to
// skip the capability check.
func Validate(p *Plan, known func(name string) bool) []Issue {
	var issues []Issue
	if p == nil {
		return nil
	}
	for i, s := range p.Steps {
		idx := i + 1

		switch {
		case s.Capability == "":
			issues = append(issues, Issue{Step: idx, Type: dagerrors.ValidationError, Message: "step has no capability"})
		case known != nil && !known(s.Capability):
			issues = append(issues, Issue{Step: idx, Type: dagerrors.UnknownCapability, Message: fmt.Sprintf("unknown capability %q", s.Capability)})
		}

		for _, dep := range Dependencies(s) {
			switch {
			case dep > len(p.Steps):
				issues = append(issues, Issue{Step: idx, Type: dagerrors.UnresolvedReference,
					Message: fmt.Sprintf("reference to unknown step %s", Key(dep))})
			case dep >= idx:
				issues = append(issues, Issue{Step: idx, Type: dagerrors.UnresolvedReference,
					Message: fmt.Sprintf("forward reference to %s", Key(dep))})
			}
		}

		if f, ok := s.Foreach.(string); ok && !template.IsReference(f) {
			issues = append(issues, Issue{Step: idx, Type: dagerrors.ValidationError,
				Message: fmt.Sprintf("foreach %q is not a reference", f)})
		}
	}
	return issues
}

// Dependencies returns every step index the step needs: references in its
// params and foreach expression plus explicit depends_on entries.
func Dependencies(s Step) []int {
	seen := map[int]bool{}
	var deps []int
	add := func(n int) {
		if n > 0 && !seen[n] {
			seen[n] = true
			deps = append(deps, n)
		}
	}
	for _, n := range template.StepDependencies(s.Params, false) {
		add(n)
	}
	for _, n := range template.StepDependencies(s.Foreach, true) {
		add(n)
	}
	for _, n := range s.DependsOn {
		add(n)
	}
	return deps
}
