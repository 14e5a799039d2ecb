// Package engine executes plans step by step, resolving references between
// steps and recording a structured result for every step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgainullin/pa-workflow/internal/capability"
	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/plan"
	"github.com/pgainullin/pa-workflow/internal/retry"
	"github.com/pgainullin/pa-workflow/internal/template"
)

// Registry looks up capabilities by name.
type Registry interface {
	Get(name string) (capability.Capability, bool)
}

// Executor runs plans against a capability registry.
type Executor struct {
	registry Registry
	logger   zerolog.Logger
	inputs   map[string]any
	hook     func(StepResult)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger for step progress.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithInputs exposes values to step parameters as inputs.*.
func WithInputs(inputs map[string]any) Option {
	return func(e *Executor) { e.inputs = inputs }
}

// WithStepHook registers a callback invoked after every step.
func WithStepHook(fn func(StepResult)) Option {
	return func(e *Executor) { e.hook = fn }
}

// New creates an executor.
func New(registry Registry, opts ...Option) *Executor {
	e := &Executor{registry: registry, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// panicError carries a recovered capability panic.
type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// Execute runs every step of p in order and returns the accumulated results.
// It never fails: unknown capabilities, unresolved references, failed
// dependencies, capability errors and panics are all recorded as failed
// steps. When ctx is done, the run stops before the next step.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (result *Result) {
	rc := NewRunContext(e.inputs)
	start := time.Now()
	result = &Result{RunID: rc.RunID, Status: StatusPending, Steps: []StepResult{}, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("run_id", rc.RunID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("executor fault")
			sr := StepResult{
				Step:      len(result.Steps) + 1,
				Error:     fmt.Sprintf("internal error: %v", r),
				ErrorType: dagerrors.Internal,
			}
			result.Steps = append(result.Steps, sr)
			result.Errors = append(result.Errors, runError(sr))
			result.Status = StatusPartiallyFailed
		}
		result.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	if p == nil {
		p = &plan.Plan{}
	}
	result.Status = StatusRunning
	log := e.logger.With().Str("run_id", rc.RunID).Logger()
	log.Info().Int("steps", len(p.Steps)).Msg("plan started")

	interrupted := false
	for i, step := range p.Steps {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			interrupted = true
			result.Errors = append(result.Errors, dagerrors.RunError{
				Type:    dagerrors.Timeout,
				Step:    idx,
				Message: fmt.Sprintf("run stopped before step_%d: %v (%d step(s) not executed)", idx, err, len(p.Steps)-i),
			})
			log.Warn().Err(err).Int("step", idx).Msg("plan interrupted")
			break
		}

		sr := e.runStep(ctx, rc, idx, step)
		rc.record(sr)
		result.Steps = append(result.Steps, sr)
		if !sr.Success {
			result.Errors = append(result.Errors, runError(sr))
		}

		ev := log.Info()
		if !sr.Success {
			ev = log.Warn().Str("error", sr.Error).Str("error_type", sr.ErrorType)
		}
		ev.Int("step", idx).Str("capability", sr.Capability).Bool("success", sr.Success).
			Dur("duration", sr.Duration).Msg("step finished")

		if e.hook != nil {
			e.hook(sr)
		}
	}

	result.Status = StatusCompleted
	if interrupted || len(result.Errors) > 0 {
		result.Status = StatusPartiallyFailed
	}
	log.Info().Str("status", string(result.Status)).Int("failed", len(result.Failed())).Msg("plan finished")
	return result
}

func runError(sr StepResult) dagerrors.RunError {
	return dagerrors.RunError{
		Type:      sr.ErrorType,
		Step:      sr.Step,
		Message:   sr.Error,
		Retryable: sr.ErrorType == dagerrors.Transient || sr.ErrorType == dagerrors.Timeout,
	}
}

func (e *Executor) runStep(ctx context.Context, rc *RunContext, idx int, step plan.Step) (sr StepResult) {
	start := time.Now()
	sr = StepResult{Step: idx, Capability: step.Capability, Description: step.Description}
	defer func() { sr.Duration = time.Since(start) }()

	c, ok := e.registry.Get(step.Capability)
	if !ok {
		return fail(sr, dagerrors.UnknownCapability, fmt.Sprintf("unknown capability %q", step.Capability))
	}

	if failed := rc.failedDeps(plan.Dependencies(step)); len(failed) > 0 {
		keys := make([]string, len(failed))
		for i, d := range failed {
			keys[i] = plan.Key(d)
		}
		return fail(sr, dagerrors.DependencyFailed, fmt.Sprintf("skipped: dependency %s failed", strings.Join(keys, ", ")))
	}

	if step.Foreach != nil {
		return e.runForeach(ctx, rc, c, step, sr)
	}
	return e.invoke(ctx, rc, c, step.Params, nil, sr)
}

// runForeach invokes c once per element of the foreach source, in order.
// The step succeeds only if every iteration succeeds; zero iterations
// succeed.
func (e *Executor) runForeach(ctx context.Context, rc *RunContext, c capability.Capability, step plan.Step, sr StepResult) StepResult {
	var items []any
	warning := ""
	switch src := step.Foreach.(type) {
	case string:
		if !template.IsReference(src) {
			warning = fmt.Sprintf("foreach %q is not a reference; no iterations run", src)
			break
		}
		val, ok := template.Lookup(src, rc.TmplCtx, nil)
		if !ok {
			sr.Output = map[string]any{"iterations": 0, "succeeded": 0, "failed": 0}
			return fail(sr, dagerrors.UnresolvedReference, fmt.Sprintf("unresolved foreach reference %s", strings.TrimSpace(src)))
		}
		var isSeq bool
		if items, isSeq = sequence(val); !isSeq {
			warning = fmt.Sprintf("foreach source %s is %T, not a sequence; no iterations run", strings.TrimSpace(src), val)
		}
	default:
		var isSeq bool
		if items, isSeq = sequence(src); !isSeq {
			warning = fmt.Sprintf("foreach source is %T, not a sequence; no iterations run", src)
		}
	}
	if warning != "" {
		e.logger.Warn().Int("step", sr.Step).Msg(warning)
	}

	sr.Iterations = make([]StepResult, 0, len(items))
	succeeded := 0
	var firstErr *StepResult
	for j, item := range items {
		if err := ctx.Err(); err != nil {
			it := StepResult{Step: sr.Step, Capability: sr.Capability, Item: item, Index: j}
			it = fail(it, dagerrors.Timeout, fmt.Sprintf("not run: %v", err))
			sr.Iterations = append(sr.Iterations, it)
			if firstErr == nil {
				firstErr = &sr.Iterations[len(sr.Iterations)-1]
			}
			break
		}
		it := StepResult{Step: sr.Step, Capability: sr.Capability, Item: item, Index: j}
		it = e.invoke(ctx, rc, c, step.Params, &template.Loop{Item: item, Index: j}, it)
		sr.Iterations = append(sr.Iterations, it)
		if it.Success {
			succeeded++
		} else if firstErr == nil {
			firstErr = &sr.Iterations[len(sr.Iterations)-1]
		}
	}

	sr.Output = map[string]any{
		"iterations": len(items),
		"succeeded":  succeeded,
		"failed":     len(items) - succeeded,
	}
	if warning != "" {
		sr.Output["warning"] = warning
	}
	if firstErr != nil {
		return fail(sr, firstErr.ErrorType, fmt.Sprintf("%d of %d iterations failed; item %d: %s",
			len(items)-succeeded, len(items), firstErr.Index, firstErr.Error))
	}
	sr.Success = true
	return sr
}

// invoke resolves params and calls the capability. Unresolved references
// fail the step without calling it.
func (e *Executor) invoke(ctx context.Context, rc *RunContext, c capability.Capability, params map[string]any, loop *template.Loop, sr StepResult) StepResult {
	res := template.Resolve(params, rc.TmplCtx, loop)
	if len(res.Unresolved) > 0 {
		return fail(sr, dagerrors.UnresolvedReference, "unresolved reference: "+strings.Join(res.Unresolved, ", "))
	}

	out, err := call(ctx, c, res.Params)
	if err != nil {
		var p *panicError
		if errors.As(err, &p) {
			e.logger.Error().Int("step", sr.Step).Str("capability", sr.Capability).Str("stack", p.stack).Msg("capability panicked")
		}
		return fail(sr, classify(ctx, err), err.Error())
	}

	sr.Output = map[string]any(out)
	if !out.Success() {
		msg := out.Err()
		if msg == "" {
			msg = fmt.Sprintf("%s reported failure", sr.Capability)
		}
		return fail(sr, dagerrors.StepFailed, msg)
	}
	sr.Success = true
	return sr
}

func call(ctx context.Context, c capability.Capability, params map[string]any) (out capability.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return c.Execute(ctx, params)
}

func fail(sr StepResult, typ, msg string) StepResult {
	sr.Success = false
	sr.ErrorType = typ
	sr.Error = msg
	return sr
}

// classify maps a capability error onto the error taxonomy.
func classify(ctx context.Context, err error) string {
	var p *panicError
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &p):
		return dagerrors.Internal
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return dagerrors.Timeout
	case errors.As(err, &exhausted), retry.IsRetryable(err):
		return dagerrors.Transient
	default:
		return dagerrors.Permanent
	}
}

// sequence reports whether v is a list and returns its elements.
func sequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
