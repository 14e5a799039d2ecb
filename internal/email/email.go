// Package email models the inbound message that triggers a workflow.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pgainullin/pa-workflow/internal/attachment"
)

// Email is an inbound message. Attachment paths are relative to the file the
// email was loaded from.
type Email struct {
	ID          string             `json:"id" yaml:"id"`
	From        string             `json:"from" yaml:"from"`
	To          string             `json:"to,omitempty" yaml:"to,omitempty"`
	Subject     string             `json:"subject" yaml:"subject"`
	Body        string             `json:"body" yaml:"body"`
	Attachments []*attachment.File `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Load reads an email from a JSON or YAML file.
func Load(path string) (*Email, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading email: %w", err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for _, a := range e.Attachments {
		if a.Path != "" && !filepath.IsAbs(a.Path) {
			a.Path = filepath.Join(base, a.Path)
		}
	}
	return e, nil
}

// Parse decodes an email from JSON or YAML and fills in missing ids.
func Parse(data []byte) (*Email, error) {
	var e Email
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, fmt.Errorf("parsing email JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing email YAML: %w", err)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	for i, a := range e.Attachments {
		if a == nil {
			e.Attachments[i] = &attachment.File{}
			a = e.Attachments[i]
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("att-%d", i+1)
		}
		if a.Filename == "" && a.Path != "" {
			a.Filename = filepath.Base(a.Path)
		}
	}
	return &e, nil
}

// Inputs returns the fields exposed to step parameters as inputs.*.
func (e *Email) Inputs() map[string]any {
	atts := make([]any, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		atts = append(atts, map[string]any{
			"id":           a.ID,
			"file_id":      a.FileID,
			"filename":     a.Filename,
			"content_type": a.MediaType(),
		})
	}
	return map[string]any{
		"id":          e.ID,
		"from":        e.From,
		"to":          e.To,
		"subject":     e.Subject,
		"body":        e.Body,
		"attachments": atts,
	}
}

// Resolver returns an attachment resolver over the email's attachments.
func (e *Email) Resolver() *attachment.MemoryResolver {
	return attachment.NewMemoryResolver(e.Attachments...)
}
