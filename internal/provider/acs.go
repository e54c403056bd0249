package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/azure"
)

const (
	acsDefaultAPIVersion   = "2023-03-31"
	acsDefaultPollInterval = 2 * time.Second
	acsDefaultPollTimeout  = 60 * time.Second
)

// ACS long-running operation states.
const (
	ACSStatusNotStarted = "NotStarted"
	ACSStatusRunning    = "Running"
	ACSStatusSucceeded  = "Succeeded"
	ACSStatusFailed     = "Failed"
	ACSStatusCanceled   = "Canceled"
)

// ACSEmailConfig configures the ACS Email REST transport.
type ACSEmailConfig struct {
	Endpoint     string
	APIVersion   string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// ACSEmail sends through the Azure Communication Services Email REST API
// and follows the returned operation until it reaches a terminal state.
type ACSEmail struct {
	endpoint     string
	apiVersion   string
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       azure.HTTPClient
	tokens       *azure.TokenManager
	log          zerolog.Logger
}

// NewACSEmail creates the transport. tokens must be scoped to
// azure.ScopeCommunication.
func NewACSEmail(cfg ACSEmailConfig, client azure.HTTPClient, tokens *azure.TokenManager, log zerolog.Logger) (*ACSEmail, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("acs-email: endpoint is required")
	}
	if tokens == nil {
		return nil, errors.New("acs-email: token manager is required")
	}
	a := &ACSEmail{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiVersion:   cfg.APIVersion,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		client:       client,
		tokens:       tokens,
		log:          log,
	}
	if a.apiVersion == "" {
		a.apiVersion = acsDefaultAPIVersion
	}
	if a.pollInterval <= 0 {
		a.pollInterval = acsDefaultPollInterval
	}
	if a.pollTimeout <= 0 {
		a.pollTimeout = acsDefaultPollTimeout
	}
	return a, nil
}

func (a *ACSEmail) GetName() string { return "acs-email" }

type acsAddress struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

type acsSendRequest struct {
	SenderAddress string `json:"senderAddress"`
	Content       struct {
		Subject   string `json:"subject"`
		PlainText string `json:"plainText,omitempty"`
		HTML      string `json:"html,omitempty"`
	} `json:"content"`
	Recipients struct {
		To []acsAddress `json:"to"`
	} `json:"recipients"`
	ReplyTo []acsAddress      `json:"replyTo,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type acsOperation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Send submits the message and polls its operation. The returned status is
// the last one observed; if polling times out the result carries the
// non-terminal status and Metadata["poll"] is "timed_out".
func (a *ACSEmail) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	var req acsSendRequest
	req.SenderAddress = msg.From
	req.Content.Subject = msg.Subject
	req.Content.PlainText = msg.TextBody
	req.Content.HTML = msg.HTMLBody
	for _, to := range msg.To {
		req.Recipients.To = append(req.Recipients.To, acsAddress{Address: to})
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = []acsAddress{{Address: msg.ReplyTo}}
	}
	if len(msg.Headers) > 0 {
		req.Headers = msg.Headers
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("acs-email: marshal request: %w", err)
	}

	resp, err := a.do(ctx, http.MethodPost, a.endpoint+"/emails:send?api-version="+url.QueryEscape(a.apiVersion), body, map[string]string{
		"Operation-Id": msg.ID,
	})
	if err != nil {
		return nil, err
	}

	var op acsOperation
	if err := json.Unmarshal(resp.Body, &op); err != nil {
		return nil, fmt.Errorf("acs-email: parse send response: %w", err)
	}
	if op.ID == "" {
		return nil, errors.New("acs-email: send response has no operation id")
	}

	a.log.Debug().Str("operation_id", op.ID).Str("status", op.Status).Msg("acs email accepted")

	return a.poll(ctx, op)
}

// poll follows the operation until a terminal state, the poll timeout, or
// ctx ends. Each request reads state; nothing is resubmitted.
func (a *ACSEmail) poll(ctx context.Context, op acsOperation) (*DeliveryResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.pollTimeout)
	defer cancel()

	timer := time.NewTimer(a.pollInterval)
	defer timer.Stop()

	for !isTerminal(op.Status) {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("acs-email: waiting for operation %s: %w", op.ID, ctx.Err())
			}
			a.log.Warn().Str("operation_id", op.ID).Str("status", op.Status).Msg("acs email status polling timed out")
			return result(op, map[string]string{"poll": "timed_out"}), nil
		case <-timer.C:
		}

		next, err := a.operationStatus(pollCtx, op.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("acs-email: waiting for operation %s: %w", op.ID, ctx.Err())
			}
			// An accepted send is never reported as failed.
			poll := "error"
			if pollCtx.Err() != nil {
				poll = "timed_out"
			}
			a.log.Warn().Err(err).Str("operation_id", op.ID).Str("status", op.Status).Msg("acs email status polling failed")
			return result(op, map[string]string{"poll": poll}), nil
		}
		if next.ID == "" {
			next.ID = op.ID
		}
		op = next
		timer.Reset(a.pollInterval)
	}

	if op.Status != ACSStatusSucceeded {
		reason := op.Status
		if op.Error != nil {
			reason = fmt.Sprintf("%s: %s: %s", op.Status, op.Error.Code, op.Error.Message)
		}
		return nil, fmt.Errorf("acs-email: operation %s ended %s", op.ID, reason)
	}
	return result(op, nil), nil
}

func (a *ACSEmail) operationStatus(ctx context.Context, id string) (acsOperation, error) {
	resp, err := a.do(ctx, http.MethodGet,
		a.endpoint+"/emails/operations/"+url.PathEscape(id)+"?api-version="+url.QueryEscape(a.apiVersion), nil, nil)
	if err != nil {
		return acsOperation{}, err
	}
	var op acsOperation
	if err := json.Unmarshal(resp.Body, &op); err != nil {
		return acsOperation{}, fmt.Errorf("acs-email: parse operation status: %w", err)
	}
	return op, nil
}

func (a *ACSEmail) do(ctx context.Context, method, target string, body []byte, extra map[string]string) (*azure.Response, error) {
	token, err := a.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acs-email: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}
	for k, v := range extra {
		if v != "" {
			headers[k] = v
		}
	}

	resp, err := a.client.Do(ctx, &azure.Request{Method: method, URL: target, Headers: headers, Body: body})
	if err != nil {
		return nil, fmt.Errorf("acs-email: request: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.InvalidateToken()
	}
	if err := azure.CheckResponse("acs-email", resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthCheck verifies that a communication-scoped token can be obtained.
func (a *ACSEmail) HealthCheck(ctx context.Context) error {
	if _, err := a.tokens.GetToken(ctx); err != nil {
		return fmt.Errorf("acs-email: health check: %w", err)
	}
	return nil
}

func isTerminal(status string) bool {
	switch status {
	case ACSStatusSucceeded, ACSStatusFailed, ACSStatusCanceled:
		return true
	}
	return false
}

func result(op acsOperation, metadata map[string]string) *DeliveryResult {
	return &DeliveryResult{
		ProviderMessageID: op.ID,
		Status:            op.Status,
		Timestamp:         time.Now(),
		Metadata:          metadata,
	}
}
