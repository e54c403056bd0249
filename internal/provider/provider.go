// Package provider implements the outbound transports a rendered message
// can be sent through: Azure Communication Services Email over REST,
// Amazon SES v2, SMTP submission relays, and stdout for development.
package provider

import (
	"context"
	"time"
)

// Provider defines the interface for sending email through one transport.
type Provider interface {
	// Send delivers a message and returns the transport's delivery result.
	Send(ctx context.Context, msg *Message) (*DeliveryResult, error)
	// GetName returns the provider's identifier (e.g., "acs-email", "exchange-smtp").
	GetName() string
	// HealthCheck verifies the provider is reachable and its credentials work.
	HealthCheck(ctx context.Context) error
}

// Message represents a rendered email ready for delivery.
type Message struct {
	ID       string
	From     string
	ReplyTo  string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
	// Raw is the full RFC 5322 message, required by the SMTP transports
	// and used by SES when extra headers must be preserved.
	Raw []byte
}

// DeliveryResult contains the outcome of a delivery attempt.
type DeliveryResult struct {
	ProviderMessageID string
	// Status is the transport's own wording, e.g. "Succeeded" for ACS or
	// the final SMTP reply for a relay.
	Status    string
	Timestamp time.Time
	Metadata  map[string]string
}

// StatusSent is reported by transports that have no richer status.
const StatusSent = "Sent"
