package engine

import (
	"encoding/json"
	"time"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
)

// Status is the lifecycle state of a plan run.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
)

// Result is the structured output of a plan execution.
type Result struct {
	RunID     string               `json:"run_id"`
	Status    Status               `json:"status"`
	Steps     []StepResult         `json:"steps"`
	Errors    []dagerrors.RunError `json:"errors,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	Duration  string               `json:"duration"`
}

// Maps returns the ordered step result list in its flat form, as handed to
// response synthesis.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Map())
	}
	return out
}

// Failed returns the steps that did not succeed.
func (r *Result) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// StepResult describes the outcome of a single step. For foreach steps,
// Iterations holds one entry per element in order.
type StepResult struct {
	Step        int
	Capability  string
	Description string
	Success     bool
	Error       string
	ErrorType   string
	Output      map[string]any
	Iterations  []StepResult
	Item        any
	Index       int
	Duration    time.Duration
}

// Map returns the result as later steps see it:
// {step, capability, success, ...output, error?}.
func (s StepResult) Map() map[string]any {
	m := make(map[string]any, len(s.Output)+4)
	for k, v := range s.Output {
		m[k] = v
	}
	if s.Iterations != nil {
		results := make([]any, 0, len(s.Iterations))
		for _, it := range s.Iterations {
			im := it.Map()
			im["index"] = it.Index
			im["item"] = it.Item
			results = append(results, im)
		}
		m["results"] = results
	}
	m["step"] = s.Step
	m["capability"] = s.Capability
	m["success"] = s.Success
	if s.Success {
		delete(m, "error")
	} else {
		m["error"] = s.Error
	}
	return m
}

// MarshalJSON flattens the output fields next to the step metadata.
func (s StepResult) MarshalJSON() ([]byte, error) {
	m := s.Map()
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.ErrorType != "" {
		m["error_type"] = s.ErrorType
	}
	m["duration"] = s.Duration.Round(time.Millisecond).String()
	return json.Marshal(m)
}
