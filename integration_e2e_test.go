package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/engine"
	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
	"github.com/pgainullin/pa-workflow/internal/llm"
	"github.com/pgainullin/pa-workflow/internal/llm/llmtest"
	"github.com/pgainullin/pa-workflow/internal/plan"
)

const articleHTML = `<html><head><title>Quarterly outlook</title></head><body>
<nav>Home | About</nav>
<article><h1>Quarterly outlook</h1>
<p>Revenue grew by twelve percent in the third quarter, driven by new accounts in the north region.</p>
<p>Logistics costs rose slightly, while headcount stayed flat across all offices.</p>
<p>The board expects similar growth next quarter &amp; will review pricing in January.</p>
</article><footer>Copyright</footer></body></html>`

// startTestAPI creates a test HTTP server with the routes the fetch scenarios use.
func startTestAPI(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var flakyHits atomic.Int32
	mux := http.NewServeMux()

	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, articleHTML)
	})

	mux.HandleFunc("/figures", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"north": 120, "south": 80}`)
	})

	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"token":  r.Header.Get("X-Token"),
			"body":   string(body),
		})
	})

	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if flakyHits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "finally up")
	})

	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &flakyHits
}

func parsePlan(t *testing.T, data string) *plan.Plan {
	t.Helper()
	p, err := plan.Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFetchAndSummarizeE2E(t *testing.T) {
	srv, _ := startTestAPI(t)
	model := &llmtest.Model{Responses: []string{"Revenue is up twelve percent."}}
	result := run(t, parsePlan(t, fmt.Sprintf(`
steps:
  - capability: fetch
    params:
      url: %s/article
  - capability: summarize
    params:
      text: "{{step_1.text}}"
      instructions: focus on revenue
`, srv.URL)), capability.Deps{LLM: llm.New(model)}, nil)

	if result.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s: %+v", result.Status, result.Errors)
	}
	fetched := result.Steps[0].Output
	text, _ := fetched["text"].(string)
	if !strings.Contains(text, "twelve percent") || strings.Contains(text, "<p>") {
		t.Fatalf("expected readable article text, got %q", text)
	}
	if !strings.Contains(text, "growth next quarter & will review") {
		t.Fatalf("entities should be unescaped, got %q", text)
	}
	if fetched["status_code"] != 200 || fetched["content_type"] != "text/html" {
		t.Fatalf("unexpected fetch metadata: %v", fetched)
	}
	prompt := model.Calls()[0].Prompt
	if !strings.Contains(prompt, "twelve percent") || !strings.Contains(prompt, "focus on revenue") {
		t.Fatalf("summary prompt should carry the article and instructions: %q", prompt)
	}
}

func TestFetchJSONIntoChartE2E(t *testing.T) {
	srv, _ := startTestAPI(t)
	result := run(t, parsePlan(t, fmt.Sprintf(`[
  {"capability": "fetch", "params": {"url": "%s/figures"}},
  {"capability": "parse", "params": {"text": "{{step_1.text}}"}},
  {"capability": "chart", "params": {"data": {"north": 120, "south": 80}, "chart_type": "pie"}}
]`, srv.URL)), capability.Deps{}, nil)

	if result.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s: %+v", result.Status, result.Errors)
	}
	if result.Steps[1].Output["parsed_text"] != `{"north": 120, "south": 80}` {
		t.Fatalf("unexpected parse output: %v", result.Steps[1].Output)
	}
	spec := result.Steps[2].Output["chart_spec"].(map[string]any)
	if spec["mark"] != "arc" {
		t.Fatalf("pie should render as an arc mark, got %v", spec["mark"])
	}
}

func TestFetchPostWithHeadersE2E(t *testing.T) {
	srv, _ := startTestAPI(t)
	result := run(t, parsePlan(t, fmt.Sprintf(`
steps:
  - capability: fetch
    params:
      url: %s/echo
      method: post
      headers:
        X-Token: secret
      body: '{"subject": "{{inputs.subject}}"}'
`, srv.URL)), capability.Deps{}, map[string]any{"subject": "Invoice"})

	if !result.Steps[0].Success {
		t.Fatalf("fetch failed: %+v", result.Steps[0])
	}
	var echoed map[string]string
	if err := json.Unmarshal([]byte(result.Steps[0].Output["text"].(string)), &echoed); err != nil {
		t.Fatal(err)
	}
	if echoed["method"] != "POST" || echoed["token"] != "secret" || echoed["body"] != `{"subject": "Invoice"}` {
		t.Fatalf("unexpected echo: %v", echoed)
	}
}

func TestFetchRetriesTransientFailuresE2E(t *testing.T) {
	srv, hits := startTestAPI(t)
	result := run(t, parsePlan(t, fmt.Sprintf(`[{"capability": "fetch", "params": {"url": "%s/flaky"}}]`, srv.URL)),
		capability.Deps{}, nil)

	if !result.Steps[0].Success || result.Steps[0].Output["text"] != "finally up" {
		t.Fatalf("expected success after retries: %+v", result.Steps[0])
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestFetchExhaustedRetriesIsTransientE2E(t *testing.T) {
	srv, _ := startTestAPI(t)
	result := run(t, parsePlan(t, fmt.Sprintf(`[
  {"capability": "fetch", "params": {"url": "%s/down"}},
  {"capability": "summarize", "params": {"text": "{{step_1.text}}"}}
]`, srv.URL)), capability.Deps{}, nil)

	first := result.Steps[0]
	if first.Success || first.ErrorType != dagerrors.Transient {
		t.Fatalf("expected a transient failure, got %+v", first)
	}
	if !strings.Contains(first.Error, "502") {
		t.Fatalf("error should carry the status: %q", first.Error)
	}
	if result.Steps[1].ErrorType != dagerrors.DependencyFailed {
		t.Fatalf("summarize should be skipped: %+v", result.Steps[1])
	}
	if len(result.Errors) == 0 || !result.Errors[0].Retryable {
		t.Fatalf("run errors should mark the fetch failure retryable: %+v", result.Errors)
	}
}

func TestFetchNotFoundIsPermanentE2E(t *testing.T) {
	srv, _ := startTestAPI(t)
	result := run(t, parsePlan(t, fmt.Sprintf(`[{"capability": "fetch", "params": {"url": "%s/missing"}}]`, srv.URL)),
		capability.Deps{}, nil)

	if result.Steps[0].ErrorType != dagerrors.Permanent {
		t.Fatalf("expected a permanent failure, got %+v", result.Steps[0])
	}
}

func TestFetchRejectsBadURLE2E(t *testing.T) {
	result := run(t, parsePlan(t, `[{"capability": "fetch", "params": {"url": "ftp://example.com/file"}}]`), capability.Deps{}, nil)
	step := result.Steps[0]
	if step.Success || step.ErrorType != dagerrors.StepFailed || !strings.Contains(step.Error, "invalid url") {
		t.Fatalf("expected a step failure for the bad url: %+v", step)
	}
}
