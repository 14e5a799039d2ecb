// Package workflow handles one inbound email end to end: triage, plan
// execution, response synthesis and delivery.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pgainullin/pa-workflow/internal/artifact"
	"github.com/pgainullin/pa-workflow/internal/attachment"
	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/email"
	"github.com/pgainullin/pa-workflow/internal/engine"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/plan"
	"github.com/pgainullin/pa-workflow/internal/triage"
)

// DefaultTimeout bounds a plan run when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Response is the reply produced for an email.
type Response struct {
	EmailID string           `json:"email_id"`
	RunID   string           `json:"run_id,omitempty"`
	To      string           `json:"to"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Status  engine.Status    `json:"status"`
	Charts  []map[string]any `json:"charts,omitempty"`
	Steps   []map[string]any `json:"steps"`
	Issues  []plan.Issue     `json:"plan_issues,omitempty"`
}

// Workflow wires the planner, executor and deliverer for inbound emails.
type Workflow struct {
	LLM       *llm.Client
	Deps      capability.Deps
	Extra     []capability.Capability // registered after the built-ins
	Deliverer Deliverer
	Timeout   time.Duration
	Logger    zerolog.Logger
	Artifacts string // artifact root; empty disables run records
}

// Registry returns the capabilities available while handling e. The email's
// own attachments are searched before the configured resolver.
func (w *Workflow) Registry(e *email.Email) *capability.Registry {
	deps := w.Deps
	deps.LLM = w.LLM
	deps.Logger = w.Logger
	resolvers := attachment.Chain{e.Resolver()}
	if w.Deps.Attachments != nil {
		resolvers = append(resolvers, w.Deps.Attachments)
	}
	deps.Attachments = resolvers
	reg := capability.NewDefaultRegistry(deps)
	for _, c := range w.Extra {
		reg.Register(c)
	}
	return reg
}

// Handle processes e and delivers the reply. The response is returned even
// when delivery fails.
func (w *Workflow) Handle(ctx context.Context, e *email.Email) (*Response, error) {
	log := w.Logger.With().Str("email_id", e.ID).Logger()
	reg := w.Registry(e)

	pl, issues, err := triage.NewPlanner(w.LLM, reg, log).Plan(ctx, e)
	if err != nil {
		log.Error().Err(err).Msg("triage failed")
		pl = &plan.Plan{}
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	result := engine.New(reg, engine.WithLogger(log), engine.WithInputs(e.Inputs())).Execute(runCtx, pl)
	cancel()

	resp := &Response{
		EmailID: e.ID,
		RunID:   result.RunID,
		To:      e.From,
		Subject: replySubject(e.Subject),
		Status:  result.Status,
		Steps:   result.Maps(),
		Issues:  issues,
		Charts:  charts(result),
	}

	body, synthErr := w.synthesize(ctx, e, result, err != nil)
	if synthErr != nil {
		log.Warn().Err(synthErr).Msg("response synthesis failed, using fallback")
	}
	resp.Body = verify(body, e, result, err != nil)

	if w.Artifacts != "" {
		w.save(log, pl, result, resp)
	}

	if w.Deliverer != nil {
		if err := w.Deliverer.Deliver(ctx, resp); err != nil {
			return resp, fmt.Errorf("delivering response: %w", err)
		}
		log.Info().Str("run_id", result.RunID).Msg("response delivered")
	}
	return resp, nil
}

const synthesisPrompt = `You write the reply to an email on behalf of an automation assistant.
Use the step results to answer the sender's request. Include the useful content (summaries, translations,
extracted figures) rather than describing it. If some steps failed, say briefly which parts could not be
completed. Reply with the email body only.`

func (w *Workflow) synthesize(ctx context.Context, e *email.Email, result *engine.Result, triageFailed bool) (string, error) {
	if w.LLM == nil {
		return "", fmt.Errorf("no language model configured")
	}
	if triageFailed {
		return "", fmt.Errorf("no plan")
	}
	steps, err := json.MarshalIndent(result.Maps(), "", "  ")
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Original email from %s\nSubject: %s\n\n%s\n\nStep results:\n%s",
		e.From, e.Subject, e.Body, steps)
	return w.LLM.Complete(ctx, synthesisPrompt, prompt)
}

// verify returns body when it is usable and a deterministic summary of the
// run otherwise.
func verify(body string, e *email.Email, result *engine.Result, triageFailed bool) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	if triageFailed {
		fmt.Fprintf(&b, "I could not work out how to handle your request %q. Please rephrase it or contact support.\n", e.Subject)
		return b.String()
	}
	if len(result.Steps) == 0 {
		fmt.Fprintf(&b, "I read your message %q but found nothing to do.\n", e.Subject)
		return b.String()
	}
	fmt.Fprintf(&b, "Here is what I did for your request %q:\n\n", e.Subject)
	for _, s := range result.Steps {
		if s.Success {
			fmt.Fprintf(&b, "- step %d (%s): done\n", s.Step, s.Capability)
		} else {
			fmt.Fprintf(&b, "- step %d (%s): could not be completed: %s\n", s.Step, s.Capability, s.Error)
		}
	}
	for _, s := range result.Steps {
		if !s.Success {
			continue
		}
		for _, key := range []string{"summary", "translated_text", "text"} {
			if v, ok := s.Output[key].(string); ok && strings.TrimSpace(v) != "" {
				fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(v))
				break
			}
		}
	}
	return b.String()
}

func charts(result *engine.Result) []map[string]any {
	var out []map[string]any
	add := func(s engine.StepResult) {
		if spec, ok := s.Output["chart_spec"].(map[string]any); ok && s.Success {
			out = append(out, spec)
		}
	}
	for _, s := range result.Steps {
		add(s)
		for _, it := range s.Iterations {
			add(it)
		}
	}
	return out
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func (w *Workflow) save(log zerolog.Logger, pl *plan.Plan, result *engine.Result, resp *Response) {
	store, err := artifact.New(w.Artifacts, result.RunID)
	if err != nil {
		log.Warn().Err(err).Msg("cannot store run artifacts")
		return
	}
	for _, s := range result.Steps {
		if err := store.WriteStep(s.Step, s); err != nil {
			log.Warn().Err(err).Int("step", s.Step).Msg("cannot store step artifact")
		}
	}
	for _, write := range []func() error{
		func() error { return store.WritePlan(pl) },
		func() error { return store.WriteResult(result) },
		func() error { return store.WriteResponse(resp) },
	} {
		if err := write(); err != nil {
			log.Warn().Err(err).Msg("cannot store run artifact")
		}
	}
}
