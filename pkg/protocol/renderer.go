package protocol

import "context"

// RenderedMessage is the output of the external content renderer.
type RenderedMessage struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// Renderer personalizes message content for one recipient.
type Renderer interface {
	Render(ctx context.Context, contentRef string, attributes map[string]any) (*RenderedMessage, error)
}
