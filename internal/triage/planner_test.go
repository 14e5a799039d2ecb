package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgainullin/pa-workflow/internal/attachment"
	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/email"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/llm/llmtest"
	"github.com/pgainullin/pa-workflow/internal/retry"
)

func testEmail() *email.Email {
	return &email.Email{
		ID:      "m-1",
		From:    "ana@example.com",
		Subject: "Please translate",
		Body:    "Could you translate the attached letter into French?",
		Attachments: []*attachment.File{
			{ID: "att-1", Filename: "letter.txt", Text: "Hello world."},
		},
	}
}

func newPlanner(model *llmtest.Model) *Planner {
	client := llm.New(model, llm.WithRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}))
	return NewPlanner(client, capability.NewDefaultRegistry(capability.Deps{}), zerolog.Nop())
}

func TestPromptIncludesCatalogEmailAndRules(t *testing.T) {
	p := newPlanner(&llmtest.Model{})
	prompt := p.Prompt(testEmail())

	assert.Contains(t, prompt, "parse: Extract plain text")
	assert.Contains(t, prompt, "translate: Translate text")
	assert.Contains(t, prompt, "Subject: Please translate")
	assert.Contains(t, prompt, "- id: att-1, filename: letter.txt, type: text/plain")
	assert.Contains(t, prompt, "{{step_N.field}}")
	assert.Contains(t, prompt, "into French?")
}

func TestPlanParsesModelAnswer(t *testing.T) {
	model := &llmtest.Model{Responses: []string{"```json\n" + `{"steps": [
		{"capability": "parse", "params": {"file_id": "att-1"}, "description": "read the letter"},
		{"capability": "translate", "params": {"text": "{{step_1.parsed_text}}", "target_lang": "fr"}}
	]}` + "\n```"}}
	p := newPlanner(model)

	pl, issues, err := p.Plan(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Equal(t, 2, pl.Len())
	assert.Equal(t, "parse", pl.Steps[0].Capability)
	assert.Equal(t, "{{step_1.parsed_text}}", pl.Steps[1].Params["text"])

	calls := model.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, `{"steps": [...]}`)
}

func TestPlanReportsIssuesButKeepsPlan(t *testing.T) {
	model := &llmtest.Model{Responses: []string{`{"steps": [
		{"capability": "ocr", "params": {"file_id": "att-1"}},
		{"capability": "summarize", "params": {"text": "{{step_3.text}}"}}
	]}`}}
	pl, issues, err := newPlanner(model).Plan(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, 2, pl.Len())
	assert.Len(t, issues, 2)
}

func TestPlanToleratesOddShapes(t *testing.T) {
	model := &llmtest.Model{Responses: []string{`{"plan": null}`}}
	pl, _, err := newPlanner(model).Plan(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, 0, pl.Len())
}

func TestPlanRetriesUnparseableAnswer(t *testing.T) {
	model := &llmtest.Model{Responses: []string{"I think you should translate it.", `[{"tool": "compose", "args": {"instructions": "reply"}}]`}}
	pl, _, err := newPlanner(model).Plan(context.Background(), testEmail())
	require.NoError(t, err)
	require.Equal(t, 1, pl.Len())
	assert.Equal(t, "compose", pl.Steps[0].Capability)
	assert.Len(t, model.Calls(), 2)
}

func TestPlanPropagatesModelFailure(t *testing.T) {
	model := &llmtest.Model{Errors: []error{errors.New("invalid api key")}}
	_, _, err := newPlanner(model).Plan(context.Background(), testEmail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triage")
}
