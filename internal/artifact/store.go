// Package artifact persists run records under <root>/runs/<run_id>.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRoot is the artifact root used when none is configured.
const DefaultRoot = ".paworkflow"

// Store manages artifact storage for a run.
type Store struct {
	RunID   string
	BaseDir string // <root>/runs/<run_id>
}

// New creates a store for a given run ID under root.
func New(root, runID string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if runID == "" {
		return nil, fmt.Errorf("creating artifact dir: empty run id")
	}
	base := filepath.Join(root, "runs", runID)
	if err := os.MkdirAll(filepath.Join(base, "steps"), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Store{RunID: runID, BaseDir: base}, nil
}

// WriteStep writes one step record as steps/step_N.json.
func (s *Store) WriteStep(step int, v any) error {
	return writeJSON(filepath.Join(s.BaseDir, "steps", fmt.Sprintf("step_%d.json", step)), v)
}

// WritePlan writes the executed plan.
func (s *Store) WritePlan(v any) error {
	return writeJSON(filepath.Join(s.BaseDir, "plan.json"), v)
}

// WriteResult writes the final result JSON.
func (s *Store) WriteResult(v any) error {
	return writeJSON(filepath.Join(s.BaseDir, "result.json"), v)
}

// WriteResponse writes the synthesized response.
func (s *Store) WriteResponse(v any) error {
	return writeJSON(filepath.Join(s.BaseDir, "response.json"), v)
}

// ReadResult decodes result.json into v.
func (s *Store) ReadResult(v any) error {
	data, err := os.ReadFile(filepath.Join(s.BaseDir, "result.json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Runs lists the run ids stored under root, sorted.
func Runs(root string) ([]string, error) {
	if root == "" {
		root = DefaultRoot
	}
	entries, err := os.ReadDir(filepath.Join(root, "runs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
