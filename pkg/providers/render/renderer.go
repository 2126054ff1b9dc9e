// Package render provides the built-in template renderer: content templates
// registered under a content ref, personalized per recipient at dispatch
// time.
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/heraldkit/herald/pkg/protocol"
	"github.com/heraldkit/herald/pkg/template"
)

// Content is one registered message template set.
type Content struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// TemplateRenderer implements protocol.Renderer over an in-memory content
// catalog.
type TemplateRenderer struct {
	mu      sync.RWMutex
	catalog map[string]Content
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{catalog: make(map[string]Content)}
}

// RegisterContent binds templates to a content ref, replacing any previous
// registration.
func (r *TemplateRenderer) RegisterContent(contentRef string, content Content) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.catalog[contentRef] = content
}

func (r *TemplateRenderer) Render(_ context.Context, contentRef string, attributes map[string]any) (*protocol.RenderedMessage, error) {
	r.mu.RLock()
	content, ok := r.catalog[contentRef]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("content %q not registered", contentRef)
	}

	data := map[string]any{"recipient": attributes}

	subject, err := template.Render(content.Subject, data)
	if err != nil {
		return nil, err
	}

	htmlBody, err := template.Render(content.HTMLBody, data)
	if err != nil {
		return nil, err
	}

	textBody, err := template.Render(content.TextBody, data)
	if err != nil {
		return nil, err
	}

	return &protocol.RenderedMessage{
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}
