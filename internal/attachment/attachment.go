// Package attachment resolves attachment references used by plan steps into
// file contents.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no attachment matches a reference.
var ErrNotFound = errors.New("attachment not found")

// File is a resolved attachment.
type File struct {
	ID          string `json:"id" yaml:"id"`
	FileID      string `json:"file_id,omitempty" yaml:"file_id,omitempty"`
	Filename    string `json:"filename" yaml:"filename"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Content     []byte `json:"-" yaml:"-"`
	Text        string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Data returns the attachment bytes, reading Path when Content is empty.
func (f *File) Data() ([]byte, error) {
	if len(f.Content) > 0 {
		return f.Content, nil
	}
	if f.Text != "" {
		return []byte(f.Text), nil
	}
	if f.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %q: %w", f.Filename, err)
	}
	return data, nil
}

// MediaType returns the declared content type, falling back to the filename
// extension and finally to sniffing the content.
func (f *File) MediaType() string {
	if f.ContentType != "" {
		mt, _, err := mime.ParseMediaType(f.ContentType)
		if err == nil {
			return mt
		}
		return strings.ToLower(f.ContentType)
	}
	ext := strings.ToLower(filepath.Ext(f.Filename))
	if mt, ok := knownTypes[ext]; ok {
		return mt
	}
	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			mt, _, _ = mime.ParseMediaType(mt)
			return mt
		}
	}
	data, err := f.Data()
	if err != nil || len(data) == 0 {
		return "application/octet-stream"
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// knownTypes covers extensions that are missing from some system mime tables.
var knownTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".pdf":  "application/pdf",
}

// Resolver maps a reference (attachment id, file id or filename) to a File.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*File, error)
}

// MemoryResolver serves attachments carried with the triggering email.
type MemoryResolver struct {
	Files []*File
}

// NewMemoryResolver returns a resolver over files.
func NewMemoryResolver(files ...*File) *MemoryResolver {
	return &MemoryResolver{Files: files}
}

// Resolve matches ref against id, file id and filename, in that order.
func (m *MemoryResolver) Resolve(ctx context.Context, ref string) (*File, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty attachment reference: %w", ErrNotFound)
	}
	for _, f := range m.Files {
		if f.ID == ref {
			return f, nil
		}
	}
	for _, f := range m.Files {
		if f.FileID != "" && f.FileID == ref {
			return f, nil
		}
	}
	for _, f := range m.Files {
		if strings.EqualFold(f.Filename, ref) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
}

// DirResolver serves files from a directory by name.
type DirResolver struct {
	Dir string
}

// Resolve reads ref as a file name relative to Dir. Paths escaping Dir are
// rejected.
func (d *DirResolver) Resolve(ctx context.Context, ref string) (*File, error) {
	name := filepath.Clean(strings.TrimSpace(ref))
	if name == "." || name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
		return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
	}
	path := filepath.Join(d.Dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
	}
	return &File{ID: name, Filename: filepath.Base(name), Path: path}, nil
}

// Chain tries each resolver in turn and returns the first match.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, ref string) (*File, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		f, err := r.Resolve(ctx, ref)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
}
