// Package message holds the email request under construction and renders
// it into transport-agnostic text, HTML and MIME content.
package message

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// CustomContentPlaceholder is replaced by the request's custom content.
	CustomContentPlaceholder = "_PLACEHOLDER_"
	// UnsubscribePlaceholder is replaced by the unsubscribe URL.
	UnsubscribePlaceholder = "_UNSUBSCRIBE_"
	// FallbackUnsubscribeURL is used when no unsubscribe flow applies.
	FallbackUnsubscribeURL = "#"
	// MaxCustomContentLength bounds CustomContent, counted in characters.
	MaxCustomContentLength = 5000
)

// Request is the email under construction. Field names match the JSON
// body and query parameters accepted by the send endpoints.
type Request struct {
	Mode          Mode   `json:"Type"`
	From          string `json:"From"`
	ReplyTo       string `json:"ReplyTo"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	TextBody      string `json:"TextBody"`
	HtmlBody      string `json:"HtmlBody"`
	CustomContent string `json:"CustomContent"`
}

// Defaults are the configured values a new request starts from.
type Defaults struct {
	Sender    string
	Recipient string
	ReplyTo   string
}

// NewRequest builds a request from defaults. The subject is stamped with now.
func NewRequest(d Defaults, now time.Time) *Request {
	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = d.Sender
	}
	return &Request{
		Mode:     ModeSendMail,
		From:     d.Sender,
		ReplyTo:  replyTo,
		To:       d.Recipient,
		Subject:  "Test message sent on " + now.Format("2006-01-02 at 15:04:05"),
		TextBody: DefaultTextBody,
		HtmlBody: DefaultHTMLBody,
	}
}

// ApplyQuery overrides fields from query parameters. Empty values are
// ignored. An unparseable Type is an error and leaves r unchanged.
func (r *Request) ApplyQuery(q url.Values) error {
	if t := q.Get("Type"); t != "" {
		mode, err := ParseMode(t)
		if err != nil {
			return err
		}
		r.Mode = mode
	}
	set(&r.From, q.Get("From"))
	set(&r.ReplyTo, q.Get("ReplyTo"))
	set(&r.To, q.Get("To"))
	set(&r.Subject, q.Get("Subject"))
	set(&r.TextBody, q.Get("TextBody"))
	set(&r.HtmlBody, q.Get("HtmlBody"))
	set(&r.CustomContent, q.Get("CustomContent"))
	return nil
}

// CustomContentTooLong reports whether CustomContent exceeds the limit.
func (r *Request) CustomContentTooLong() bool {
	return utf8.RuneCountInString(r.CustomContent) > MaxCustomContentLength
}

// ErrInvalidAddress is wrapped by Validate for bad or missing addresses.
var ErrInvalidAddress = errors.New("invalid email address")

// Validate checks that From and To are present and well formed, and that
// ReplyTo is well formed when set.
func (r *Request) Validate() error {
	if err := ValidateAddress(r.From); err != nil {
		return fmt.Errorf("From: %w", err)
	}
	if err := ValidateAddress(r.To); err != nil {
		return fmt.Errorf("To: %w", err)
	}
	if strings.TrimSpace(r.ReplyTo) != "" {
		if err := ValidateAddress(r.ReplyTo); err != nil {
			return fmt.Errorf("ReplyTo: %w", err)
		}
	}
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
