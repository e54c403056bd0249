// Package dispatch sequences a send request through the allow-list, rate
// limit, content policy, unsubscribe link, rendering, archive and exactly
// one transport. It also resolves unsubscribe tokens.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/archive"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/metrics"
	"github.com/sungwon/mail-dispatch/internal/policy"
	"github.com/sungwon/mail-dispatch/internal/provider"
	"github.com/sungwon/mail-dispatch/internal/ratelimit"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

// Transport selects the send endpoint's delivery path.
type Transport int

const (
	TransportREST Transport = iota
	TransportACSSMTP
	TransportExchange
)

func (t Transport) String() string {
	switch t {
	case TransportREST:
		return "rest"
	case TransportACSSMTP:
		return "acs-smtp"
	case TransportExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

func (t Transport) description() string {
	switch t {
	case TransportREST:
		return "Azure Communication Services Email using REST API"
	case TransportACSSMTP:
		return "Azure Communication Services Email using SMTP Submission Client"
	case TransportExchange:
		return "Exchange Server using SMTP Submission Client with Basic Authentication"
	default:
		return t.String()
	}
}

// AllowList decides whether a caller may send.
type AllowList interface {
	IsAllowed(ctx context.Context, callerIP string) bool
}

// RateLimiter enforces a per-caller send quota.
type RateLimiter interface {
	Check(ctx context.Context, callerIP string) error
	Record(ctx context.Context, callerIP string) error
}

// ContentPolicy applies the request's processing mode.
type ContentPolicy interface {
	Process(ctx context.Context, req *message.Request) (policy.Outcome, error)
}

// Deps are the collaborators of an Orchestrator. Limiter, Archive and
// Suppression may be nil.
type Deps struct {
	Config      *config.Config
	AllowList   AllowList
	Limiter     RateLimiter
	Policy      ContentPolicy
	Renderer    *message.Renderer
	Transports  provider.Transports
	Archive     archive.Store
	Suppression unsubscribe.SuppressionWriter
	Log         zerolog.Logger
}

// Orchestrator runs send and unsubscribe requests.
type Orchestrator struct {
	cfg         *config.Config
	allow       AllowList
	limiter     RateLimiter
	policy      ContentPolicy
	renderer    *message.Renderer
	transports  provider.Transports
	archive     archive.Store
	suppression unsubscribe.SuppressionWriter
	log         zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:         d.Config,
		allow:       d.AllowList,
		limiter:     d.Limiter,
		policy:      d.Policy,
		renderer:    d.Renderer,
		transports:  d.Transports,
		archive:     d.Archive,
		suppression: d.Suppression,
		log:         d.Log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if o.renderer == nil {
		o.renderer = message.NewRenderer(false)
	}
	if o.archive == nil {
		o.archive = archive.Nop{}
	}
	return o
}

// SendInput is one parsed send request.
type SendInput struct {
	Transport Transport
	Request   *message.Request
	CallerIP  string
	// Scheme and Host of the inbound request, used for unsubscribe links.
	Scheme string
	Host   string
}

// Result describes an accepted message.
type Result struct {
	Transport      Transport
	MessageID      string
	Status         string
	CorrelationID  string
	UnsubscribeURL string
}

// Message is the caller-facing summary of an accepted message.
func (r *Result) Message() string {
	return fmt.Sprintf("Email message processed successfully. The status is: %s. The CorrelationID is %s.",
		r.Status, r.CorrelationID)
}

// Send validates, processes, renders and delivers one message. Every
// failure is an *Error and nothing is sent after a failed step.
func (o *Orchestrator) Send(ctx context.Context, in SendInput) (*Result, error) {
	start := time.Now()
	res, err := o.send(ctx, in)

	outcome := "sent"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.DispatchTotal.WithLabelValues(in.Transport.String(), outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(in.Transport.String()).Observe(time.Since(start).Seconds())

	return res, err
}

func (o *Orchestrator) send(ctx context.Context, in SendInput) (*Result, error) {
	log := o.logger(ctx).With().
		Str("transport", in.Transport.String()).
		Str("caller_ip", in.CallerIP).
		Logger()

	if missing := o.cfg.Missing(o.requirements(in.Transport)...); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("transport configuration incomplete")
		return nil, newError(KindConfiguration, nil,
			"One or more of the following environment variables are missing: %s.", strings.Join(missing, ","))
	}
	transport := o.transport(in.Transport)
	if transport == nil {
		return nil, newError(KindConfiguration, nil, "The %s transport could not be initialized.", in.Transport)
	}

	if !o.allow.IsAllowed(ctx, in.CallerIP) {
		log.Warn().Msg("caller not in allow-list")
		return nil, newError(KindAuthorization, nil, "Requests coming from IP %s are not allowed.", in.CallerIP)
	}

	if o.limiter != nil {
		if err := o.limiter.Check(ctx, in.CallerIP); err != nil {
			if errors.Is(err, ratelimit.ErrLimitExceeded) {
				metrics.RateLimitedTotal.Inc()
				log.Warn().Err(err).Msg("daily send limit reached")
				return nil, newError(KindRateLimited, err, "Daily send limit reached for IP %s.", in.CallerIP)
			}
			// Redis being unavailable does not stop mail.
			log.Warn().Err(err).Msg("rate limit check failed, continuing")
		}
	}

	req := in.Request
	if req == nil {
		return nil, newError(KindValidation, nil, "Unable to deserialize request body.")
	}
	if err := req.Validate(); err != nil {
		return nil, newError(KindValidation, err, "Invalid email address: %v", err)
	}

	log = log.With().Str("mode", req.Mode.String()).Logger()

	outcome, err := o.policy.Process(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("content processing failed")
		return nil, newError(KindBackend, err,
			"An error occurred while preparing the message content. Exception: %v", err)
	}
	if !outcome.Success {
		if outcome.Has(policy.ReasonBackendNotConfigured) {
			e := newError(KindConfiguration, nil,
				"Processing mode %s requires a content backend that is not configured.", req.Mode)
			e.Details = outcome.Details
			return nil, e
		}
		e := newError(KindValidation, nil, "Failed to process message.")
		e.Details = outcome.Details
		if len(e.Details) == 0 {
			e.Details = []string{outcome.Summary()}
		}
		return nil, e
	}

	link, err := o.unsubscribeLink(in, req)
	if err != nil {
		return nil, newError(KindConfiguration, err, "Failed to generate the unsubscribe link.")
	}

	now := o.now()
	msgID := o.newID()
	rendered := o.renderer.Render(req, link)
	raw, err := rendered.MIME(msgID, now)
	if err != nil {
		return nil, newError(KindBackend, err, "Failed to render the email message.")
	}

	if err := o.archive.Put(ctx, archive.Key(msgID, now), raw); err != nil {
		metrics.ArchiveErrorsTotal.Inc()
		log.Warn().Err(err).Str("message_id", msgID).Msg("failed to archive message")
	}

	msg := &provider.Message{
		ID:       msgID,
		From:     message.AddressOnly(rendered.From),
		To:       []string{message.AddressOnly(rendered.To)},
		Subject:  rendered.Subject,
		TextBody: rendered.TextBody,
		HTMLBody: rendered.HTMLBody,
		Headers:  rendered.Headers(),
		Raw:      raw,
	}
	if rendered.ReplyTo != "" {
		msg.ReplyTo = message.AddressOnly(rendered.ReplyTo)
	}

	result, err := transport.Send(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("provider", transport.GetName()).Str("message_id", msgID).Msg("provider send failed")
		return nil, newError(KindBackend, err,
			"An error occurred while sending the email message via %s. Exception: %v", in.Transport.description(), err)
	}

	if o.limiter != nil {
		if err := o.limiter.Record(ctx, in.CallerIP); err != nil {
			log.Warn().Err(err).Msg("failed to record send for rate limit")
		}
	}

	correlationID := result.ProviderMessageID
	if correlationID == "" {
		correlationID = msgID
	}

	log.Info().
		Str("provider", transport.GetName()).
		Str("message_id", msgID).
		Str("status", result.Status).
		Str("correlation_id", correlationID).
		Bool("unsubscribe", rendered.HasUnsubscribe()).
		Msg("message delivered")

	return &Result{
		Transport:      in.Transport,
		MessageID:      msgID,
		Status:         result.Status,
		CorrelationID:  correlationID,
		UnsubscribeURL: rendered.UnsubscribeURL,
	}, nil
}

// logger prefers the request-scoped logger carrying the correlation id.
func (o *Orchestrator) logger(ctx context.Context) zerolog.Logger {
	return logger.FromContextOr(ctx, o.log)
}

func (o *Orchestrator) requirements(t Transport) []string {
	switch t {
	case TransportREST:
		return o.cfg.RESTKeys()
	case TransportACSSMTP:
		return config.ACSSMTPKeys
	case TransportExchange:
		return config.ExchangeKeys
	default:
		return nil
	}
}

func (o *Orchestrator) transport(t Transport) provider.Provider {
	switch t {
	case TransportREST:
		return o.transports.REST
	case TransportACSSMTP:
		return o.transports.ACSSMTP
	case TransportExchange:
		return o.transports.Exchange
	default:
		return nil
	}
}

func (o *Orchestrator) target() unsubscribe.Target {
	u := o.cfg.Unsubscribe
	return unsubscribe.Target{
		Subscription:    u.Subscription,
		ResourceGroup:   u.ResourceGroup,
		EmailService:    u.EmailService,
		Domain:          u.Domain,
		SuppressionList: u.SuppressionList,
	}
}

// unsubscribeLink returns the link for the transport. Exchange always gets
// one; REST only when the suppression target is configured; ACS SMTP never.
func (o *Orchestrator) unsubscribeLink(in SendInput, req *message.Request) (string, error) {
	switch in.Transport {
	case TransportExchange:
	case TransportREST:
		if !o.target().Complete() {
			return message.FallbackUnsubscribeURL, nil
		}
	default:
		return message.FallbackUnsubscribeURL, nil
	}

	link, rec, err := unsubscribe.NewLink(o.target(), message.AddressOnly(req.To), in.Scheme, in.Host)
	if err != nil {
		return "", err
	}
	o.log.Debug().Str("operation_id", rec.OperationID).Msg("unsubscribe link generated")
	return link, nil
}

// Unsubscribe decodes token and adds its recipient to the suppression list.
func (o *Orchestrator) Unsubscribe(ctx context.Context, token string) (unsubscribe.Record, error) {
	rec, err := o.unsubscribe(ctx, token)

	outcome := "suppressed"
	switch {
	case err == nil:
	case KindOf(err) == KindCodec:
		outcome = "invalid_token"
	default:
		outcome = "error"
	}
	metrics.UnsubscribeTotal.WithLabelValues(outcome).Inc()

	return rec, err
}

func (o *Orchestrator) unsubscribe(ctx context.Context, token string) (unsubscribe.Record, error) {
	log := o.logger(ctx)
	if missing := o.cfg.Missing(config.UnsubscribeKeys...); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("unsubscribe configuration incomplete")
		return unsubscribe.Record{}, newError(KindConfiguration, nil,
			"One or more of the following environment variables are missing: %s.", strings.Join(missing, ","))
	}
	if o.suppression == nil {
		return unsubscribe.Record{}, newError(KindConfiguration, nil, "The suppression list writer could not be initialized.")
	}

	if strings.TrimSpace(token) == "" {
		return unsubscribe.Record{}, newError(KindCodec, nil, "UnsubscribeKey is either missing or empty")
	}

	rec, err := unsubscribe.Decode(token)
	if err != nil {
		log.Warn().Err(err).Msg("invalid unsubscribe token")
		return unsubscribe.Record{}, newError(KindCodec, err,
			"Failed to decode Unsubscribe parameters from the UnsubscribeKey key.")
	}

	if err := o.suppression.WriteSuppressionEntry(ctx, rec); err != nil {
		log.Error().Err(err).Str("operation_id", rec.OperationID).Msg("failed to update the suppression list")
		return unsubscribe.Record{}, newError(KindBackend, err, "Failed to update the suppression list.")
	}

	log.Info().
		Str("operation_id", rec.OperationID).
		Str("suppression_list", rec.SuppressionList).
		Msg("recipient added to suppression list")
	return rec, nil
}

// UnsubscribeMessage is the caller-facing confirmation for rec.
func UnsubscribeMessage(rec unsubscribe.Record) string {
	return fmt.Sprintf("The email address %s has been added to the Suppression List.", rec.EmailRecipient)
}
