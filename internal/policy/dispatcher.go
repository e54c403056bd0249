package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/metrics"
)

const (
	backendPII       = "pii"
	backendHarm      = "content_safety"
	backendGenerator = "generator"
)

// Dispatcher routes a request to the policy for its mode.
type Dispatcher struct {
	backends Backends
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(backends Backends, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{backends: backends, log: log}
}

// Process applies the policy for req.Mode. A policy rejection is reported
// in the Outcome; a failed backend call is returned as an error and never
// counts as a pass. req.CustomContent is changed only on success.
func (d *Dispatcher) Process(ctx context.Context, req *message.Request) (Outcome, error) {
	out, err := d.process(ctx, req)

	result := out.Summary()
	if err != nil {
		result = "error"
	}
	metrics.PolicyOutcomesTotal.WithLabelValues(req.Mode.String(), result).Inc()

	ev := d.log.Debug()
	if err != nil || !out.Success {
		ev = d.log.Warn()
	}
	ev.Err(err).
		Str("mode", req.Mode.String()).
		Str("result", result).
		Strs("details", out.Details).
		Msg("content policy evaluated")

	return out, err
}

func (d *Dispatcher) process(ctx context.Context, req *message.Request) (Outcome, error) {
	if req.CustomContentTooLong() {
		return fail(ReasonContentTooLong,
			fmt.Sprintf("CustomContent exceeds %d characters", message.MaxCustomContentLength)), nil
	}

	switch req.Mode {
	case message.ModeSendMail:
		return pass(), nil

	case message.ModeSendMailWithPIIScan:
		if d.backends.PII == nil {
			return notConfigured(backendPII), nil
		}
		res, err := d.detectPII(ctx, req.CustomContent)
		if err != nil {
			return Outcome{}, err
		}
		if len(res.Entities) > 0 {
			return fail(ReasonPIIDetected, entityDetails(res.Entities)...), nil
		}
		return pass(), nil

	case message.ModeSendWithPIIRedacted:
		if d.backends.PII == nil {
			return notConfigured(backendPII), nil
		}
		res, err := d.detectPII(ctx, req.CustomContent)
		if err != nil {
			return Outcome{}, err
		}
		req.CustomContent = res.RedactedText
		return pass(), nil

	case message.ModeSendMailWithHarmfulContentScan:
		if d.backends.Harm == nil {
			return notConfigured(backendHarm), nil
		}
		scores, err := d.scoreHarm(ctx, req.CustomContent)
		if err != nil {
			return Outcome{}, err
		}
		if unsafe := unsafeDetails(scores); len(unsafe) > 0 {
			return fail(ReasonHarmfulContent, unsafe...), nil
		}
		return pass(), nil

	case message.ModeSendMailWithPIIAndHarmfulContentScan:
		return d.dualScan(ctx, req.CustomContent)

	case message.ModeSendMailWithGeneratedBody:
		if d.backends.Generator == nil {
			return notConfigured(backendGenerator), nil
		}
		text, err := d.generate(ctx, req.CustomContent)
		if err != nil {
			return Outcome{}, err
		}
		if text == "" {
			return fail(ReasonEmptyGeneration, "generator returned no text"), nil
		}
		req.CustomContent = text
		return pass(), nil

	default:
		return fail(ReasonUnsupportedMode, fmt.Sprintf("unsupported mode %s", req.Mode)), nil
	}
}

// dualScan runs the PII and harm scans concurrently. Both backends must be
// present before either is called.
func (d *Dispatcher) dualScan(ctx context.Context, text string) (Outcome, error) {
	switch {
	case d.backends.PII == nil && d.backends.Harm == nil:
		return notConfigured(backendPII, backendHarm), nil
	case d.backends.PII == nil:
		return notConfigured(backendPII), nil
	case d.backends.Harm == nil:
		return notConfigured(backendHarm), nil
	}

	var (
		pii    PIIResult
		scores []CategoryScore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pii, err = d.detectPII(gctx, text)
		return err
	})
	g.Go(func() error {
		var err error
		scores, err = d.scoreHarm(gctx, text)
		return err
	})
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	if len(pii.Entities) > 0 {
		out.Reasons = append(out.Reasons, ReasonPIIDetected)
		out.Details = append(out.Details, entityDetails(pii.Entities)...)
	}
	if unsafe := unsafeDetails(scores); len(unsafe) > 0 {
		out.Reasons = append(out.Reasons, ReasonHarmfulContent)
		out.Details = append(out.Details, unsafe...)
	}
	if len(out.Reasons) == 0 {
		return pass(), nil
	}
	return out, nil
}

func (d *Dispatcher) detectPII(ctx context.Context, text string) (PIIResult, error) {
	var res PIIResult
	err := observe(backendPII, func() error {
		var err error
		res, err = d.backends.PII.DetectPII(ctx, text)
		return err
	})
	return res, err
}

func (d *Dispatcher) scoreHarm(ctx context.Context, text string) ([]CategoryScore, error) {
	var scores []CategoryScore
	err := observe(backendHarm, func() error {
		var err error
		scores, err = d.backends.Harm.ScoreHarmfulContent(ctx, text)
		return err
	})
	return scores, err
}

func (d *Dispatcher) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := observe(backendGenerator, func() error {
		var err error
		text, err = d.backends.Generator.GenerateText(ctx, SystemPrompt, prompt)
		return err
	})
	return text, err
}

func observe(backend string, call func() error) error {
	start := time.Now()
	err := call()
	metrics.BackendCallDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues(backend).Inc()
		return &BackendError{Backend: backend, Err: err}
	}
	return nil
}

func notConfigured(backends ...string) Outcome {
	details := make([]string, len(backends))
	for i, b := range backends {
		details[i] = b + " backend is not configured"
	}
	return fail(ReasonBackendNotConfigured, details...)
}

// entityDetails lists categories only so matched text stays out of logs
// and responses.
func entityDetails(entities []Entity) []string {
	details := make([]string, len(entities))
	for i, e := range entities {
		details[i] = fmt.Sprintf("PII entity %s (confidence %.2f)", e.Category, e.Score)
	}
	return details
}

func unsafeDetails(scores []CategoryScore) []string {
	var details []string
	for _, s := range scores {
		if s.Severity > SafeSeverityThreshold {
			details = append(details, fmt.Sprintf("%s severity %d", s.Category, s.Severity))
		}
	}
	return details
}
