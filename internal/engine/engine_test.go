package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pgainullin/pa-workflow/internal/capability"
	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/plan"
)

// recorder is a capability that records the params of every call.
type recorder struct {
	name  string
	calls []map[string]any
	fn    func(params map[string]any) (capability.Result, error)
}

func (r *recorder) Name() string        { return r.name }
func (r *recorder) Description() string { return "test capability " + r.name }
func (r *recorder) Execute(ctx context.Context, params map[string]any) (capability.Result, error) {
	r.calls = append(r.calls, params)
	if r.fn == nil {
		return capability.OK(nil), nil
	}
	return r.fn(params)
}

func newRegistry(caps ...*recorder) *capability.Registry {
	reg := capability.NewRegistry()
	for _, c := range caps {
		reg.Register(c)
	}
	return reg
}

func returns(fields map[string]any) func(map[string]any) (capability.Result, error) {
	return func(map[string]any) (capability.Result, error) { return capability.OK(fields), nil }
}

func TestUnknownCapabilityDoesNotAbortPlan(t *testing.T) {
	summarize := &recorder{name: "summarize", fn: returns(map[string]any{"summary": "ok"})}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "ocr", Params: map[string]any{"file_id": "att-1"}},
		{Capability: "summarize", Params: map[string]any{"text": "hello"}},
	}}

	result := New(newRegistry(summarize)).Execute(context.Background(), p)

	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(result.Steps))
	}
	first := result.Steps[0]
	if first.Success || !strings.Contains(first.Error, "unknown capability") {
		t.Errorf("expected unknown capability failure, got %+v", first)
	}
	if first.ErrorType != dagerrors.UnknownCapability {
		t.Errorf("expected %s, got %s", dagerrors.UnknownCapability, first.ErrorType)
	}
	if !result.Steps[1].Success || len(summarize.calls) != 1 {
		t.Errorf("expected independent step to run, got %+v", result.Steps[1])
	}
	if result.Status != StatusPartiallyFailed {
		t.Errorf("expected partially_failed, got %s", result.Status)
	}
	if len(result.Errors) != 1 || result.Errors[0].Step != 1 {
		t.Errorf("expected one run error for step 1, got %+v", result.Errors)
	}
}

func TestWholeReferenceKeepsStructuredData(t *testing.T) {
	data := map[string]any{"x": []any{1, 2}, "y": []any{3, 4}}
	extract := &recorder{name: "extract", fn: returns(map[string]any{"extracted_data": data})}
	chart := &recorder{name: "chart"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "extract", Params: map[string]any{"text": "numbers"}},
		{Capability: "chart", Params: map[string]any{"data": "{{step_1.extracted_data}}", "title": "Totals for {step_1.extracted_data}"}},
	}}

	result := New(newRegistry(extract, chart)).Execute(context.Background(), p)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", result.Status, result.Errors)
	}
	got := chart.calls[0]["data"]
	if !reflect.DeepEqual(got, data) {
		t.Errorf("expected typed map %v, got %#v", data, got)
	}
	if title := chart.calls[0]["title"]; title != `Totals for {"x":[1,2],"y":[3,4]}` {
		t.Errorf("expected stringified embed, got %q", title)
	}
}

func TestParseThenTranslateReceivesLiteralText(t *testing.T) {
	parse := &recorder{name: "parse", fn: returns(map[string]any{"parsed_text": "Hello world."})}
	translate := &recorder{name: "translate", fn: func(params map[string]any) (capability.Result, error) {
		return capability.OK(map[string]any{"translated_text": "Bonjour le monde."}), nil
	}}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "parse", Params: map[string]any{"file_id": "att-1"}},
		{Capability: "translate", Params: map[string]any{"text": "{{step_1.parsed_text}}", "target_lang": "fr"}},
	}}

	result := New(newRegistry(parse, translate)).Execute(context.Background(), p)

	if len(translate.calls) != 1 {
		t.Fatalf("expected translate to be called once, got %d", len(translate.calls))
	}
	if translate.calls[0]["text"] != "Hello world." {
		t.Errorf("expected literal text, got %#v", translate.calls[0]["text"])
	}
	m := result.Steps[1].Map()
	if m["step"] != 2 || m["capability"] != "translate" || m["success"] != true || m["translated_text"] != "Bonjour le monde." {
		t.Errorf("unexpected step map: %v", m)
	}
	if _, ok := m["error"]; ok {
		t.Error("successful step should not carry an error field")
	}
}

func TestFailedDependencySkipsConsumer(t *testing.T) {
	parse := &recorder{name: "parse", fn: func(map[string]any) (capability.Result, error) {
		return capability.Fail("attachment att-9 not found"), nil
	}}
	translate := &recorder{name: "translate"}
	compose := &recorder{name: "compose"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "parse", Params: map[string]any{"file_id": "att-9"}},
		{Capability: "translate", Params: map[string]any{"text": "{{step_1.parsed_text}}"}},
		{Capability: "compose", Params: map[string]any{"instructions": "reply"}, DependsOn: []int{2}},
		{Capability: "compose", Params: map[string]any{"instructions": "independent"}},
	}}

	result := New(newRegistry(parse, translate, compose)).Execute(context.Background(), p)

	if len(translate.calls) != 0 {
		t.Fatal("translate must not be invoked when its dependency failed")
	}
	second := result.Steps[1]
	if second.Success || second.ErrorType != dagerrors.DependencyFailed || !strings.Contains(second.Error, "step_1") {
		t.Errorf("expected dependency skip, got %+v", second)
	}
	if third := result.Steps[2]; third.Success || !strings.Contains(third.Error, "step_2") {
		t.Errorf("expected depends_on skip, got %+v", third)
	}
	if len(compose.calls) != 1 || compose.calls[0]["instructions"] != "independent" {
		t.Errorf("expected only the independent compose call, got %v", compose.calls)
	}
	if result.Steps[0].Error != "attachment att-9 not found" || result.Steps[0].ErrorType != dagerrors.StepFailed {
		t.Errorf("unexpected first step: %+v", result.Steps[0])
	}
}

func TestForeachInvokesOncePerItemInOrder(t *testing.T) {
	topics := &recorder{name: "extract", fn: returns(map[string]any{"topics": []any{"A", "B", "C"}})}
	search := &recorder{name: "search", fn: func(params map[string]any) (capability.Result, error) {
		return capability.OK(map[string]any{"results": "about " + params["query"].(string)}), nil
	}}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "extract", Params: map[string]any{"text": "x"}},
		{Capability: "search", Params: map[string]any{"query": "news on {{item}}"}, Foreach: "{{step_1.topics}}"},
	}}

	result := New(newRegistry(topics, search)).Execute(context.Background(), p)

	if len(search.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(search.calls))
	}
	for i, want := range []string{"news on A", "news on B", "news on C"} {
		if search.calls[i]["query"] != want {
			t.Errorf("call %d: expected %q, got %v", i, want, search.calls[i]["query"])
		}
	}
	step := result.Steps[1]
	if !step.Success || len(step.Iterations) != 3 {
		t.Fatalf("expected successful aggregate with 3 iterations, got %+v", step)
	}
	m := step.Map()
	if m["iterations"] != 3 || m["succeeded"] != 3 || m["failed"] != 0 {
		t.Errorf("unexpected aggregate counts: %v", m)
	}
	results := m["results"].([]any)
	last := results[2].(map[string]any)
	if last["results"] != "about news on C" || last["item"] != "C" || last["index"] != 2 {
		t.Errorf("unexpected last iteration: %v", last)
	}
}

func TestForeachItemFieldsAndLiteralList(t *testing.T) {
	fetch := &recorder{name: "fetch"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "fetch", Params: map[string]any{"url": "{{item.url}}"}, Foreach: []any{
			map[string]any{"url": "https://a.example"},
			map[string]any{"url": "https://b.example"},
		}},
	}}
	result := New(newRegistry(fetch)).Execute(context.Background(), p)

	if !result.Steps[0].Success || len(fetch.calls) != 2 {
		t.Fatalf("expected 2 successful iterations, got %+v", result.Steps[0])
	}
	if fetch.calls[1]["url"] != "https://b.example" {
		t.Errorf("expected item field, got %v", fetch.calls[1]["url"])
	}
}

func TestForeachEmptyOrNonSequenceIsZeroIterations(t *testing.T) {
	source := &recorder{name: "extract", fn: returns(map[string]any{"topics": []any{}, "title": "plain text"})}
	search := &recorder{name: "search"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "extract"},
		{Capability: "search", Params: map[string]any{"query": "{{item}}"}, Foreach: "{{step_1.topics}}"},
		{Capability: "search", Params: map[string]any{"query": "{{item}}"}, Foreach: "step_1.title"},
		{Capability: "search", Params: map[string]any{"query": "{{item}}"}, Foreach: "every topic"},
	}}

	result := New(newRegistry(source, search)).Execute(context.Background(), p)

	if len(search.calls) != 0 {
		t.Fatalf("expected no invocations, got %d", len(search.calls))
	}
	for _, sr := range result.Steps[1:] {
		if !sr.Success {
			t.Errorf("step %d: expected zero-iteration success, got %+v", sr.Step, sr)
		}
		if sr.Output["iterations"] != 0 {
			t.Errorf("step %d: expected 0 iterations, got %v", sr.Step, sr.Output["iterations"])
		}
	}
	if _, ok := result.Steps[1].Output["warning"]; ok {
		t.Error("empty list should not produce a warning")
	}
	for _, sr := range result.Steps[2:] {
		if sr.Output["warning"] == nil {
			t.Errorf("step %d: expected a warning for non-sequence source", sr.Step)
		}
	}
}

func TestForeachRequiresAllIterationsToSucceed(t *testing.T) {
	source := &recorder{name: "extract", fn: returns(map[string]any{"ids": []any{"a", "bad", "c"}})}
	fetch := &recorder{name: "fetch", fn: func(params map[string]any) (capability.Result, error) {
		if params["id"] == "bad" {
			return capability.Fail("no such document"), nil
		}
		return capability.OK(map[string]any{"text": params["id"]}), nil
	}}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "extract"},
		{Capability: "fetch", Params: map[string]any{"id": "{{item}}"}, Foreach: "{{step_1.ids}}"},
	}}

	result := New(newRegistry(source, fetch)).Execute(context.Background(), p)

	step := result.Steps[1]
	if len(fetch.calls) != 3 {
		t.Errorf("expected every iteration to run, got %d calls", len(fetch.calls))
	}
	if step.Success {
		t.Fatal("expected aggregate failure when one iteration fails")
	}
	if step.Output["succeeded"] != 2 || step.Output["failed"] != 1 {
		t.Errorf("unexpected counts: %v", step.Output)
	}
	if !strings.Contains(step.Error, "1 of 3 iterations failed") || !strings.Contains(step.Error, "no such document") {
		t.Errorf("unexpected aggregate error: %s", step.Error)
	}
}

func TestForeachUnresolvedSourceFailsStep(t *testing.T) {
	search := &recorder{name: "search"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "search", Params: map[string]any{"query": "{{item}}"}, Foreach: "{{step_4.topics}}"},
	}}
	result := New(newRegistry(search)).Execute(context.Background(), p)

	step := result.Steps[0]
	if step.Success || step.ErrorType != dagerrors.UnresolvedReference || !strings.Contains(step.Error, "step_4.topics") {
		t.Errorf("expected unresolved foreach failure, got %+v", step)
	}
}

func TestUnresolvedReferenceFailsBeforeInvocation(t *testing.T) {
	parse := &recorder{name: "parse", fn: returns(map[string]any{"parsed_text": "x"})}
	translate := &recorder{name: "translate"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "parse"},
		{Capability: "translate", Params: map[string]any{"text": "{{step_1.missing_field}}"}},
		{Capability: "translate", Params: map[string]any{"text": "see {step_5.text} and {{item}}"}},
	}}

	result := New(newRegistry(parse, translate)).Execute(context.Background(), p)

	if len(translate.calls) != 0 {
		t.Fatal("translate must not be invoked with unresolved params")
	}
	if !strings.Contains(result.Steps[1].Error, "step_1.missing_field") {
		t.Errorf("expected missing path in error, got %q", result.Steps[1].Error)
	}
	if !strings.Contains(result.Steps[2].Error, "step_5.text") || !strings.Contains(result.Steps[2].Error, "item") {
		t.Errorf("expected both missing references, got %q", result.Steps[2].Error)
	}
	for _, sr := range result.Steps[1:] {
		if sr.ErrorType != dagerrors.UnresolvedReference {
			t.Errorf("expected %s, got %s", dagerrors.UnresolvedReference, sr.ErrorType)
		}
	}
}

func TestCapabilityErrorsAndPanicsBecomeFailedSteps(t *testing.T) {
	perm := &recorder{name: "perm", fn: func(map[string]any) (capability.Result, error) {
		return nil, errors.New("401 unauthorized")
	}}
	transient := &recorder{name: "transient", fn: func(map[string]any) (capability.Result, error) {
		return nil, dagerrors.MarkTransient(errors.New("upstream busy"))
	}}
	boom := &recorder{name: "boom", fn: func(map[string]any) (capability.Result, error) {
		var m map[string]any
		m["x"] = 1
		return nil, nil
	}}
	silent := &recorder{name: "silent", fn: func(map[string]any) (capability.Result, error) {
		return capability.Result{"success": false}, nil
	}}
	after := &recorder{name: "after"}
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "perm"}, {Capability: "transient"}, {Capability: "boom"}, {Capability: "silent"}, {Capability: "after"},
	}}

	result := New(newRegistry(perm, transient, boom, silent, after)).Execute(context.Background(), p)

	want := []string{dagerrors.Permanent, dagerrors.Transient, dagerrors.Internal, dagerrors.StepFailed}
	for i, typ := range want {
		sr := result.Steps[i]
		if sr.Success || sr.ErrorType != typ || sr.Error == "" {
			t.Errorf("step %d: expected %s failure with message, got %+v", i+1, typ, sr)
		}
	}
	if !strings.Contains(result.Steps[2].Error, "panic") {
		t.Errorf("expected panic message, got %q", result.Steps[2].Error)
	}
	if !result.Steps[4].Success || len(after.calls) != 1 {
		t.Error("expected the final step to still run")
	}
	if !result.Errors[1].Retryable || result.Errors[0].Retryable {
		t.Errorf("unexpected retryable flags: %+v", result.Errors)
	}
}

func TestCancellationKeepsAccumulatedResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &recorder{name: "first", fn: returns(map[string]any{"v": 1})}
	slow := &recorder{name: "slow", fn: func(map[string]any) (capability.Result, error) {
		cancel()
		return nil, fmt.Errorf("calling model: %w", context.Canceled)
	}}
	never := &recorder{name: "never"}
	p := &plan.Plan{Steps: []plan.Step{{Capability: "first"}, {Capability: "slow"}, {Capability: "never"}}}

	result := New(newRegistry(first, slow, never)).Execute(ctx, p)

	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 accumulated steps, got %d", len(result.Steps))
	}
	if !result.Steps[0].Success {
		t.Error("expected first step result to be kept")
	}
	if result.Steps[1].Success || result.Steps[1].ErrorType != dagerrors.Timeout {
		t.Errorf("expected interrupted step to fail with timeout, got %+v", result.Steps[1])
	}
	if len(never.calls) != 0 {
		t.Error("no step may start after cancellation")
	}
	if result.Status != StatusPartiallyFailed {
		t.Errorf("expected partially_failed, got %s", result.Status)
	}
	lastErr := result.Errors[len(result.Errors)-1]
	if lastErr.Type != dagerrors.Timeout || lastErr.Step != 3 {
		t.Errorf("expected timeout error before step 3, got %+v", lastErr)
	}
}

func TestEmptyAndNilPlans(t *testing.T) {
	exec := New(capability.NewRegistry())
	for _, p := range []*plan.Plan{nil, {}} {
		result := exec.Execute(context.Background(), p)
		if result.Status != StatusCompleted || len(result.Steps) != 0 || result.RunID == "" {
			t.Errorf("unexpected result for empty plan: %+v", result)
		}
	}
}

func TestInputsAndStepHook(t *testing.T) {
	compose := &recorder{name: "compose"}
	var seen []int
	exec := New(newRegistry(compose),
		WithInputs(map[string]any{"subject": "Q3 report"}),
		WithStepHook(func(sr StepResult) { seen = append(seen, sr.Step) }),
	)
	p := &plan.Plan{Steps: []plan.Step{
		{Capability: "compose", Params: map[string]any{"instructions": "Reply about {{inputs.subject}}"}},
		{Capability: "compose"},
	}}
	result := exec.Execute(context.Background(), p)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if compose.calls[0]["instructions"] != "Reply about Q3 report" {
		t.Errorf("expected inputs substitution, got %v", compose.calls[0]["instructions"])
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Errorf("expected hook for steps 1 and 2, got %v", seen)
	}
}

func TestExecutorFaultBecomesSyntheticStep(t *testing.T) {
	compose := &recorder{name: "compose"}
	exec := New(newRegistry(compose), WithStepHook(func(StepResult) { panic("hook exploded") }))
	result := exec.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{{Capability: "compose"}, {Capability: "compose"}}})

	if result.Status != StatusPartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", result.Status)
	}
	last := result.Steps[len(result.Steps)-1]
	if last.Success || last.ErrorType != dagerrors.Internal || !strings.Contains(last.Error, "hook exploded") {
		t.Errorf("expected synthetic internal failure, got %+v", last)
	}
	if result.Duration == "" {
		t.Error("expected duration to be set")
	}
}

func TestStepResultJSONIsFlat(t *testing.T) {
	sr := StepResult{
		Step:        2,
		Capability:  "summarize",
		Description: "Summarize the report",
		Success:     false,
		Error:       "boom",
		ErrorType:   dagerrors.StepFailed,
		Output:      map[string]any{"summary": "", "success": true},
	}
	data, err := json.Marshal(sr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["step"] != 2.0 || m["success"] != false || m["error"] != "boom" || m["error_type"] != dagerrors.StepFailed {
		t.Errorf("unexpected JSON: %s", data)
	}
	if _, ok := m["summary"]; !ok {
		t.Errorf("expected output fields at top level: %s", data)
	}
	if m["description"] != "Summarize the report" {
		t.Errorf("expected description: %s", data)
	}
}
