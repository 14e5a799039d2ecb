// Package triage asks the language model to turn an inbound email into an
// execution plan over the registered capabilities.
package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pgainullin/pa-workflow/internal/email"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/plan"
)

// Catalog describes the capabilities a plan may use.
type Catalog interface {
	DescribeAll() string
	Known(name string) bool
}

// Planner produces plans for inbound emails.
type Planner struct {
	llm     *llm.Client
	catalog Catalog
	logger  zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client *llm.Client, catalog Catalog, logger zerolog.Logger) *Planner {
	return &Planner{llm: client, catalog: catalog, logger: logger}
}

const systemPrompt = `You are the triage step of an email automation assistant.
Read the email and decide which capabilities to run, in order, to fulfil the sender's request.
Reply with a JSON object of the form {"steps": [...]} and nothing else.`

const rules = `Each step is an object with:
- "capability": one of the capability names above
- "params": an object of parameters for that capability
- "description": a short note on why the step is needed
- "foreach" (optional): a reference to a list produced by an earlier step; the step then runs once per element

Steps are numbered from 1 in order. A parameter may refer to the output of an EARLIER step:
- "{{step_N.field}}" as the whole value passes the field unchanged (objects and lists stay structured; use this for chart data)
- "Text with {{step_N.field}} inside" inserts the field as text
- "{{item}}" or "{{item.field}}" is the current element inside a foreach step
- "{{inputs.subject}}", "{{inputs.body}}" and "{{inputs.from}}" are fields of the email
Never refer to the current or a later step. Use attachment ids exactly as listed.
If nothing needs to be done, reply with {"steps": []}.`

// Prompt renders the planning prompt for e.
func (p *Planner) Prompt(e *email.Email) string {
	var b strings.Builder
	b.WriteString("Available capabilities:\n")
	b.WriteString(p.catalog.DescribeAll())
	b.WriteString("\n")
	b.WriteString(rules)
	b.WriteString("\n\nEmail:\n")
	fmt.Fprintf(&b, "From: %s\n", e.From)
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	if len(e.Attachments) > 0 {
		b.WriteString("Attachments:\n")
		for _, a := range e.Attachments {
			fmt.Fprintf(&b, "- id: %s, filename: %s, type: %s\n", a.ID, a.Filename, a.MediaType())
		}
	}
	b.WriteString("\n")
	b.WriteString(e.Body)
	return b.String()
}

// Plan asks the model for a plan. Shape problems in the answer are
// normalized away; validation issues are returned for reporting only.
func (p *Planner) Plan(ctx context.Context, e *email.Email) (*plan.Plan, []plan.Issue, error) {
	var raw any
	if err := p.llm.CompleteJSON(ctx, systemPrompt, p.Prompt(e), &raw); err != nil {
		return nil, nil, fmt.Errorf("triage: %w", err)
	}
	pl := plan.FromValue(raw)
	issues := plan.Validate(pl, p.catalog.Known)
	for _, is := range issues {
		p.logger.Warn().Int("step", is.Step).Str("type", is.Type).Msg(is.Message)
	}
	p.logger.Info().Str("email_id", e.ID).Int("steps", pl.Len()).Msg("plan created")
	return pl, issues, nil
}
