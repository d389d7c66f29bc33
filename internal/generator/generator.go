// Package generator renders personalized letter content from stored
// templates.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// TemplateGenerator renders letters with text/template. Templates are
// registered by ID and parsed once.
type TemplateGenerator struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	logger    *slog.Logger
}

// NewTemplateGenerator creates an empty generator.
func NewTemplateGenerator(logger *slog.Logger) *TemplateGenerator {
	return &TemplateGenerator{
		templates: make(map[string]*template.Template),
		logger:    logger,
	}
}

// Register parses and stores a template under the given ID.
func (g *TemplateGenerator) Register(id, body string) error {
	tmpl, err := template.New(id).Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", id, err)
	}
	g.mu.Lock()
	g.templates[id] = tmpl
	g.mu.Unlock()
	return nil
}

// LoadDir registers every .tmpl file in dir. The template ID is the file
// name without its extension.
func (g *TemplateGenerator) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return fmt.Errorf("failed to scan template dir %s: %w", dir, err)
	}

	for _, path := range matches {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".tmpl")
		if err := g.Register(id, string(body)); err != nil {
			return err
		}
	}

	g.logger.Info("Templates loaded",
		slog.String("dir", dir),
		slog.Int("count", len(matches)),
	)
	return nil
}

// letterData is what templates can reference.
type letterData struct {
	CompanyName string
	CompanyID   string
	ContactURL  string
	DMHandle    string
}

// Generate renders the task's template against its company fields.
func (g *TemplateGenerator) Generate(ctx context.Context, task *domain.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.RLock()
	tmpl, ok := g.templates[task.TemplateID]
	g.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %s not registered", task.TemplateID)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, letterData{
		CompanyName: task.CompanyName,
		CompanyID:   task.CompanyID,
		ContactURL:  task.ContactURL,
		DMHandle:    task.DMHandle,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", task.TemplateID, err)
	}

	g.logger.Debug("Letter generated",
		slog.String("task_id", task.ID),
		slog.String("template_id", task.TemplateID),
		slog.Int("length", buf.Len()),
	)
	return buf.String(), nil
}
