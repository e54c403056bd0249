package message

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Rendered is the final content handed to a transport.
type Rendered struct {
	From           string
	ReplyTo        string
	To             string
	Subject        string
	TextBody       string
	HTMLBody       string
	UnsubscribeURL string
}

// HasUnsubscribe reports whether a real unsubscribe URL was rendered.
func (r Rendered) HasUnsubscribe() bool {
	return r.UnsubscribeURL != "" && r.UnsubscribeURL != FallbackUnsubscribeURL
}

// Renderer substitutes the placeholders of a request's bodies. It holds no
// per-request state and is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer returns a renderer. With sanitize set, custom content placed
// into the HTML body is filtered through a UGC policy first.
func NewRenderer(sanitize bool) *Renderer {
	r := &Renderer{}
	if sanitize {
		r.policy = bluemonday.UGCPolicy()
	}
	return r
}

// Render replaces the custom-content and unsubscribe placeholders in both
// bodies. An empty unsubscribeURL renders as the fallback "#".
func (r *Renderer) Render(req *Request, unsubscribeURL string) Rendered {
	if unsubscribeURL == "" {
		unsubscribeURL = FallbackUnsubscribeURL
	}

	htmlContent := req.CustomContent
	if r.policy != nil {
		htmlContent = r.policy.Sanitize(htmlContent)
	}

	text := strings.ReplaceAll(req.TextBody, CustomContentPlaceholder, req.CustomContent)
	text = strings.ReplaceAll(text, UnsubscribePlaceholder, unsubscribeURL)

	body := strings.ReplaceAll(req.HtmlBody, CustomContentPlaceholder, htmlContent)
	body = strings.ReplaceAll(body, UnsubscribePlaceholder, html.EscapeString(unsubscribeURL))

	return Rendered{
		From:           req.From,
		ReplyTo:        req.ReplyTo,
		To:             req.To,
		Subject:        req.Subject,
		TextBody:       text,
		HTMLBody:       body,
		UnsubscribeURL: unsubscribeURL,
	}
}
