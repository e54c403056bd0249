// Package policy applies the content policy selected by a request's mode
// to its custom content: PII detection or redaction, harmful-content
// scoring, or body generation.
package policy

import (
	"context"
	"fmt"
	"strings"
)

// SafeSeverityThreshold is the highest harm severity that still passes.
const SafeSeverityThreshold = 2

// SystemPrompt instructs the generator when a body is generated.
const SystemPrompt = "You are a professional business-email assistant. " +
	"Write the body of a courteous, concise business email based on the user's request. " +
	"Return only the email body text without a subject line, greeting placeholders or signature placeholders."

// Entity is one PII match found in the scanned text.
type Entity struct {
	Text     string
	Category string
	Score    float64
}

// PIIResult is the outcome of a PII scan.
type PIIResult struct {
	Entities     []Entity
	RedactedText string
}

// CategoryScore is the severity assigned to one harm category.
type CategoryScore struct {
	Category string
	Severity int
}

// PIIDetector finds personal data in text.
type PIIDetector interface {
	DetectPII(ctx context.Context, text string) (PIIResult, error)
}

// HarmScorer rates text against harmful-content categories.
type HarmScorer interface {
	ScoreHarmfulContent(ctx context.Context, text string) ([]CategoryScore, error)
}

// TextGenerator produces text from a system and a user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Backends holds the optional capabilities. A nil field means the backend
// is not configured and any stage needing it fails closed.
type Backends struct {
	PII       PIIDetector
	Harm      HarmScorer
	Generator TextGenerator
}

// Reason identifies why a request failed the policy stage.
type Reason string

const (
	ReasonContentTooLong       Reason = "content_too_long"
	ReasonUnsupportedMode      Reason = "unsupported_mode"
	ReasonBackendNotConfigured Reason = "backend_not_configured"
	ReasonPIIDetected          Reason = "pii_detected"
	ReasonHarmfulContent       Reason = "harmful_content"
	ReasonEmptyGeneration      Reason = "empty_generation"
)

// Outcome is the result of Process. A failed outcome names every check
// that failed; Details carries human-readable findings.
type Outcome struct {
	Success bool
	Reasons []Reason
	Details []string
}

func pass() Outcome { return Outcome{Success: true} }

func fail(reason Reason, details ...string) Outcome {
	return Outcome{Reasons: []Reason{reason}, Details: details}
}

// Has reports whether reason is among the outcome's failures.
func (o Outcome) Has(reason Reason) bool {
	for _, r := range o.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Summary joins the failure reasons, or returns "passed".
func (o Outcome) Summary() string {
	if o.Success {
		return "passed"
	}
	parts := make([]string, len(o.Reasons))
	for i, r := range o.Reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// BackendError wraps a failed backend call.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("policy backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
