// Package web renders the login pages served on /login.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.html
var content embed.FS

// ErrUnknownTemplate is returned when a site names a template that was never loaded.
var ErrUnknownTemplate = errors.New("unknown template")

// Page is the data handed to a login template.
type Page struct {
	Hostname   string
	FollowPage string
	Error      bool
}

// Renderer holds parsed login templates keyed by name (the file name
// without its .html extension).
type Renderer struct {
	templates map[string]*template.Template
}

// New parses the built-in templates and, when dir is non-empty, every
// *.html file in dir. Templates from dir replace built-ins of the same name.
func New(dir string) (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}

	builtin, err := fs.Sub(content, "templates")
	if err != nil {
		return nil, fmt.Errorf("loading embedded templates: %w", err)
	}
	if err := r.load(builtin); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := r.load(os.DirFS(dir)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Renderer) load(fsys fs.FS) error {
	matches, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return fmt.Errorf("listing templates: %w", err)
	}
	for _, file := range matches {
		name := strings.TrimSuffix(filepath.Base(file), ".html")
		t, err := template.ParseFS(fsys, file)
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", file, err)
		}
		r.templates[name] = t
	}
	return nil
}

// Has reports whether a template called name is loaded.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render executes the named template.
func (r *Renderer) Render(name string, page Page) ([]byte, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownTemplate)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("rendering template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
