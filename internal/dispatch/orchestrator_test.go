package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/policy"
	"github.com/sungwon/mail-dispatch/internal/provider"
	"github.com/sungwon/mail-dispatch/internal/ratelimit"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

// --- fakes ---

type fakeAllowList struct {
	allowed bool
	calls   int
}

func (f *fakeAllowList) IsAllowed(context.Context, string) bool {
	f.calls++
	return f.allowed
}

type fakeLimiter struct {
	checkErr  error
	recordErr error
	recorded  []string
}

func (f *fakeLimiter) Check(context.Context, string) error { return f.checkErr }

func (f *fakeLimiter) Record(_ context.Context, ip string) error {
	f.recorded = append(f.recorded, ip)
	return f.recordErr
}

type fakePolicy struct {
	outcome policy.Outcome
	err     error
	calls   int
}

func (f *fakePolicy) Process(context.Context, *message.Request) (policy.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeProvider struct {
	name   string
	result *provider.DeliveryResult
	err    error
	sent   []*provider.Message
}

func (f *fakeProvider) Send(_ context.Context, msg *provider.Message) (*provider.DeliveryResult, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) GetName() string { return f.name }
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

type memArchive struct {
	mu     sync.Mutex
	items  map[string][]byte
	putErr error
}

func (m *memArchive) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.items == nil {
		m.items = map[string][]byte{}
	}
	m.items[key] = data
	return nil
}

func (m *memArchive) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memArchive) Delete(context.Context, string) error { return nil }

type fakeSuppression struct {
	err     error
	written []unsubscribe.Record
}

func (f *fakeSuppression) WriteSuppressionEntry(_ context.Context, rec unsubscribe.Record) error {
	f.written = append(f.written, rec)
	return f.err
}

// --- harness ---

type harness struct {
	cfg      *config.Config
	allow    *fakeAllowList
	limiter  *fakeLimiter
	policy   *fakePolicy
	rest     *fakeProvider
	acsSMTP  *fakeProvider
	exchange *fakeProvider
	archive  *memArchive
	suppress *fakeSuppression
}

func testConfig() *config.Config {
	return &config.Config{
		AllowList: config.AllowListConfig{Hosts: "relay.example.com"},
		Defaults:  config.DefaultsConfig{Sender: "noreply@example.com", Recipient: "ops@example.com"},
		Azure:     config.AzureConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"},
		REST:      config.RESTConfig{Provider: "stdout"},
		SMTP: config.SMTPConfig{
			ACS:      config.RelayConfig{Host: "smtp.azurecomm.net", Port: 587, Username: "u", Password: "p"},
			Exchange: config.RelayConfig{Host: "smtp.office365.com", Port: 587, Username: "u", Password: "p"},
		},
		Unsubscribe: config.UnsubscribeConfig{
			Subscription:    "sub-1",
			ResourceGroup:   "rg-1",
			EmailService:    "svc-1",
			Domain:          "example.com",
			SuppressionList: "list-1",
		},
	}
}

func newHarness() *harness {
	return &harness{
		cfg:      testConfig(),
		allow:    &fakeAllowList{allowed: true},
		limiter:  &fakeLimiter{},
		policy:   &fakePolicy{outcome: policy.Outcome{Success: true}},
		rest:     &fakeProvider{name: "stdout", result: &provider.DeliveryResult{ProviderMessageID: "op-1", Status: "Succeeded"}},
		acsSMTP:  &fakeProvider{name: "acs-smtp", result: &provider.DeliveryResult{Status: "250 2.6.0 Queued"}},
		exchange: &fakeProvider{name: "exchange-smtp", result: &provider.DeliveryResult{Status: "250 2.0.0 OK"}},
		archive:  &memArchive{},
		suppress: &fakeSuppression{},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	o := New(Deps{
		Config:    h.cfg,
		AllowList: h.allow,
		Limiter:   h.limiter,
		Policy:    h.policy,
		Transports: provider.Transports{
			REST:     h.rest,
			ACSSMTP:  h.acsSMTP,
			Exchange: h.exchange,
		},
		Archive:     h.archive,
		Suppression: h.suppress,
		Log:         zerolog.Nop(),
	})
	o.now = func() time.Time { return time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC) }
	o.newID = func() string { return "msg-1" }
	return o
}

func newRequest() *message.Request {
	req := message.NewRequest(message.Defaults{
		Sender:    "Mailer <noreply@example.com>",
		Recipient: "ops@example.com",
	}, time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC))
	req.CustomContent = "Hello"
	return req
}

func sendInput(t Transport) SendInput {
	return SendInput{
		Transport: t,
		Request:   newRequest(),
		CallerIP:  "10.0.0.1",
		Scheme:    "https",
		Host:      "dispatch.example.com",
	}
}

func wantKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.Kind != kind {
		t.Fatalf("kind = %s, want %s (%v)", de.Kind, kind, err)
	}
	return de
}

// --- tests ---

func TestSend_REST(t *testing.T) {
	h := newHarness()
	h.cfg.Unsubscribe = config.UnsubscribeConfig{}

	res, err := h.orchestrator().Send(context.Background(), sendInput(TransportREST))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if res.Status != "Succeeded" || res.CorrelationID != "op-1" || res.MessageID != "msg-1" {
		t.Errorf("unexpected result: %+v", res)
	}
	want := "Email message processed successfully. The status is: Succeeded. The CorrelationID is op-1."
	if res.Message() != want {
		t.Errorf("Message() = %q", res.Message())
	}

	if len(h.rest.sent) != 1 {
		t.Fatalf("expected one REST send, got %d", len(h.rest.sent))
	}
	msg := h.rest.sent[0]
	if msg.From != "noreply@example.com" {
		t.Errorf("From = %q, want bare address", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "ops@example.com" {
		t.Errorf("To = %v", msg.To)
	}
	if !strings.Contains(msg.TextBody, "Hello") || !strings.Contains(msg.HTMLBody, "Hello") {
		t.Error("custom content not rendered into both bodies")
	}
	// No suppression target configured, so the link falls back.
	if res.UnsubscribeURL != "#" || !strings.Contains(msg.HTMLBody, `href="#"`) {
		t.Errorf("expected fallback unsubscribe link, got %q", res.UnsubscribeURL)
	}
	if _, ok := msg.Headers["List-Unsubscribe"]; ok {
		t.Error("fallback link must not produce List-Unsubscribe")
	}

	if len(h.acsSMTP.sent)+len(h.exchange.sent) != 0 {
		t.Error("message handed to more than one transport")
	}
	if len(h.limiter.recorded) != 1 {
		t.Errorf("expected send recorded for rate limit, got %v", h.limiter.recorded)
	}
	if data, _ := h.archive.Get(context.Background(), "2025/06/07/msg-1.eml"); !strings.Contains(string(data), "Subject:") {
		t.Error("rendered message not archived")
	}
}

func TestSend_UnsubscribeLinks(t *testing.T) {
	tests := []struct {
		name      string
		transport Transport
		wantLink  bool
	}{
		{"rest with target", TransportREST, true},
		{"exchange", TransportExchange, true},
		{"acs smtp never", TransportACSSMTP, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			res, err := h.orchestrator().Send(context.Background(), sendInput(tt.transport))
			if err != nil {
				t.Fatalf("Send: %v", err)
			}

			if !tt.wantLink {
				if res.UnsubscribeURL != "#" {
					t.Errorf("UnsubscribeURL = %q, want #", res.UnsubscribeURL)
				}
				return
			}

			u, err := url.Parse(res.UnsubscribeURL)
			if err != nil {
				t.Fatalf("parse link: %v", err)
			}
			if u.Scheme != "https" || u.Host != "dispatch.example.com" || u.Path != unsubscribe.EndpointPath {
				t.Errorf("unexpected link: %s", res.UnsubscribeURL)
			}
			rec, err := unsubscribe.Decode(u.Query().Get(unsubscribe.QueryKey))
			if err != nil {
				t.Fatalf("decode token: %v", err)
			}
			if rec.EmailRecipient != "ops@example.com" || rec.SuppressionList != "list-1" {
				t.Errorf("unexpected record: %+v", rec)
			}
		})
	}
}

func TestSend_ExchangeCarriesListUnsubscribe(t *testing.T) {
	h := newHarness()
	res, err := h.orchestrator().Send(context.Background(), sendInput(TransportExchange))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := h.exchange.sent[0]
	if got := msg.Headers["List-Unsubscribe"]; got != "<"+res.UnsubscribeURL+">" {
		t.Errorf("List-Unsubscribe = %q", got)
	}
	if !strings.Contains(string(msg.Raw), "List-Unsubscribe: <") {
		t.Error("raw message lacks List-Unsubscribe header")
	}
	if res.CorrelationID != "msg-1" {
		t.Errorf("CorrelationID = %q, want message id fallback", res.CorrelationID)
	}
}

func TestSend_ExchangeRequiresUnsubscribeTarget(t *testing.T) {
	h := newHarness()
	h.cfg.Unsubscribe.SuppressionList = ""

	_, err := h.orchestrator().Send(context.Background(), sendInput(TransportExchange))
	de := wantKind(t, err, KindConfiguration)
	if !strings.Contains(de.Msg, "UNSUB_SUPPRESSION_LIST") {
		t.Errorf("message does not name the missing key: %q", de.Msg)
	}
	if h.allow.calls != 0 || len(h.exchange.sent) != 0 {
		t.Error("configuration failure must stop before the allow-list and send")
	}
}

func TestSend_MissingTransport(t *testing.T) {
	h := newHarness()
	o := h.orchestrator()
	o.transports.ACSSMTP = nil

	_, err := o.Send(context.Background(), sendInput(TransportACSSMTP))
	wantKind(t, err, KindConfiguration)
}

func TestSend_Denied(t *testing.T) {
	h := newHarness()
	h.allow.allowed = false

	_, err := h.orchestrator().Send(context.Background(), sendInput(TransportREST))
	de := wantKind(t, err, KindAuthorization)
	if de.Msg != "Requests coming from IP 10.0.0.1 are not allowed." {
		t.Errorf("Msg = %q", de.Msg)
	}
	if de.Kind.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("status = %d", de.Kind.HTTPStatus())
	}
	if h.policy.calls != 0 || len(h.rest.sent) != 0 {
		t.Error("denied request must not reach policy or transport")
	}
}

func TestSend_RateLimited(t *testing.T) {
	h := newHarness()
	h.limiter.checkErr = ratelimit.ErrLimitExceeded

	_, err := h.orchestrator().Send(context.Background(), sendInput(TransportREST))
	de := wantKind(t, err, KindRateLimited)
	if de.Kind.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("status = %d", de.Kind.HTTPStatus())
	}
	if h.policy.calls != 0 {
		t.Error("rate limited request must not reach policy")
	}
}

func TestSend_RateLimiterFailureDoesNotBlock(t *testing.T) {
	h := newHarness()
	h.limiter.checkErr = errors.New("redis: connection refused")

	if _, err := h.orchestrator().Send(context.Background(), sendInput(TransportREST)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_InvalidAddress(t *testing.T) {
	h := newHarness()
	in := sendInput(TransportREST)
	in.Request.To = "not an address"

	_, err := h.orchestrator().Send(context.Background(), in)
	wantKind(t, err, KindValidation)
	if h.policy.calls != 0 {
		t.Error("invalid request must not reach policy")
	}
}

func TestSend_PolicyOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome policy.Outcome
		err     error
		want    Kind
	}{
		{
			name:    "rejected",
			outcome: policy.Outcome{Reasons: []policy.Reason{policy.ReasonPIIDetected}, Details: []string{"Email (confidence 0.99)"}},
			want:    KindValidation,
		},
		{
			name:    "backend not configured",
			outcome: policy.Outcome{Reasons: []policy.Reason{policy.ReasonBackendNotConfigured}},
			want:    KindConfiguration,
		},
		{
			name: "backend error",
			err:  &policy.BackendError{Backend: "pii", Err: errors.New("503")},
			want: KindBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.policy.outcome = tt.outcome
			h.policy.err = tt.err

			_, err := h.orchestrator().Send(context.Background(), sendInput(TransportREST))
			de := wantKind(t, err, tt.want)
			if len(h.rest.sent) != 0 {
				t.Error("message sent after policy failure")
			}
			if len(h.limiter.recorded) != 0 {
				t.Error("failed request counted against the rate limit")
			}
			if tt.want == KindValidation {
				if de.Msg != "Failed to process message." || len(de.Details) != 1 {
					t.Errorf("unexpected error: %+v", de)
				}
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Error("backend error not wrapped")
			}
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	h := newHarness()
	h.exchange.err = errors.New("535 5.7.3 Authentication unsuccessful")

	_, err := h.orchestrator().Send(context.Background(), sendInput(TransportExchange))
	de := wantKind(t, err, KindBackend)
	want := "An error occurred while sending the email message via Exchange Server using SMTP Submission Client with Basic Authentication. Exception: 535 5.7.3 Authentication unsuccessful"
	if de.Msg != want {
		t.Errorf("Msg = %q", de.Msg)
	}
	if len(h.limiter.recorded) != 0 {
		t.Error("failed send counted against the rate limit")
	}
}

func TestSend_ArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.archive.putErr = errors.New("disk full")

	if _, err := h.orchestrator().Send(context.Background(), sendInput(TransportACSSMTP)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(h.acsSMTP.sent) != 1 {
		t.Error("message not sent after archive failure")
	}
}

func TestSend_EndToEndWithDispatcher(t *testing.T) {
	h := newHarness()
	o := h.orchestrator()
	o.policy = policy.NewDispatcher(policy.Backends{}, zerolog.Nop())

	in := sendInput(TransportACSSMTP)
	res, err := o.Send(context.Background(), in)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := h.acsSMTP.sent[0]
	if strings.Contains(msg.TextBody, message.CustomContentPlaceholder) || strings.Contains(msg.HTMLBody, message.UnsubscribePlaceholder) {
		t.Error("placeholders left in rendered bodies")
	}
	if !strings.Contains(msg.TextBody, "Hello") || !strings.Contains(msg.TextBody, "visit: #") {
		t.Errorf("unexpected text body: %q", msg.TextBody)
	}
	if res.Status != "250 2.6.0 Queued" {
		t.Errorf("Status = %q", res.Status)
	}

	// A mode needing an unconfigured backend fails closed.
	in = sendInput(TransportACSSMTP)
	in.Request.Mode = message.ModeSendMailWithPIIScan
	_, err = o.Send(context.Background(), in)
	wantKind(t, err, KindConfiguration)
}

func TestUnsubscribe(t *testing.T) {
	rec := unsubscribe.NewRecord(unsubscribe.Target{
		Subscription: "sub-1", ResourceGroup: "rg-1", EmailService: "svc-1",
		Domain: "example.com", SuppressionList: "list-1",
	}, "ops@example.com")
	token, err := unsubscribe.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		h := newHarness()
		got, err := h.orchestrator().Unsubscribe(context.Background(), token)
		if err != nil {
			t.Fatalf("Unsubscribe: %v", err)
		}
		if got != rec || len(h.suppress.written) != 1 || h.suppress.written[0] != rec {
			t.Errorf("unexpected record: %+v", got)
		}
		if msg := UnsubscribeMessage(got); msg != "The email address ops@example.com has been added to the Suppression List." {
			t.Errorf("UnsubscribeMessage() = %q", msg)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		h := newHarness()
		_, err := h.orchestrator().Unsubscribe(context.Background(), "not-base64!")
		de := wantKind(t, err, KindCodec)
		if !errors.Is(err, unsubscribe.ErrInvalidToken) {
			t.Error("codec error not wrapped")
		}
		if de.Kind.HTTPStatus() != http.StatusBadRequest || len(h.suppress.written) != 0 {
			t.Error("invalid token must be a 400 without a write")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		h := newHarness()
		_, err := h.orchestrator().Unsubscribe(context.Background(), " ")
		wantKind(t, err, KindCodec)
	})

	t.Run("writer error", func(t *testing.T) {
		h := newHarness()
		h.suppress.err = errors.New("403 AuthorizationFailed")
		_, err := h.orchestrator().Unsubscribe(context.Background(), token)
		de := wantKind(t, err, KindBackend)
		if de.Msg != "Failed to update the suppression list." {
			t.Errorf("Msg = %q", de.Msg)
		}
	})

	t.Run("missing configuration", func(t *testing.T) {
		h := newHarness()
		h.cfg.Azure.ClientSecret = ""
		_, err := h.orchestrator().Unsubscribe(context.Background(), token)
		wantKind(t, err, KindConfiguration)
		if len(h.suppress.written) != 0 {
			t.Error("write attempted without configuration")
		}
	})
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConfiguration, http.StatusInternalServerError},
		{KindAuthorization, http.StatusUnauthorized},
		{KindValidation, http.StatusBadRequest},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindBackend, http.StatusInternalServerError},
		{KindCodec, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
	if KindOf(errors.New("plain")) != KindBackend {
		t.Error("foreign errors should classify as backend")
	}
}
