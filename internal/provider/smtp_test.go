package provider

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

// fakeSMTPConn records the conversation and writes server replies to the
// protocol log the way the real client's debug writer does.
type fakeSMTPConn struct {
	log       io.Writer
	calls     []string
	noTLS     bool
	tlsConfig *tls.Config
	authMech  string
	failAt    string
	data      bytes.Buffer
	block     chan struct{}

	mu     sync.Mutex
	closed bool
}

func (f *fakeSMTPConn) step(name, reply string) error {
	f.calls = append(f.calls, name)
	if f.failAt == name {
		fmt.Fprintf(f.log, "550 5.7.1 %s rejected\r\n", name)
		return &gosmtp.SMTPError{Code: 550, Message: name + " rejected"}
	}
	if reply != "" {
		fmt.Fprintf(f.log, "%s\r\n", reply)
	}
	return nil
}

// startTLS stands in for the upgrade dialSMTP performs before handing
// the connection over.
func (f *fakeSMTPConn) startTLS(cfg *tls.Config) error {
	f.tlsConfig = cfg
	if f.noTLS {
		f.calls = append(f.calls, "STARTTLS")
		return errors.New("smtp: server doesn't support STARTTLS")
	}
	return f.step("STARTTLS", "220 2.0.0 Ready to start TLS")
}

func (f *fakeSMTPConn) Hello(string) error {
	if f.block != nil {
		<-f.block
		return errors.New("use of closed network connection")
	}
	return f.step("EHLO", "250-relay.example.com\r\n250 AUTH LOGIN PLAIN")
}

// Auth replays the client side of a SASL exchange into the protocol log
// the way the real client's debug writer sees it.
func (f *fakeSMTPConn) Auth(a sasl.Client) error {
	mech, ir, _ := a.Start()
	f.authMech = mech
	fmt.Fprintf(f.log, "AUTH %s %s\r\n", mech, base64.StdEncoding.EncodeToString(ir))
	if mech == "LOGIN" {
		fmt.Fprintf(f.log, "334 %s\r\n", base64.StdEncoding.EncodeToString([]byte("Password:")))
		resp, err := a.Next([]byte("Password:"))
		if err != nil {
			return err
		}
		fmt.Fprintf(f.log, "%s\r\n", base64.StdEncoding.EncodeToString(resp))
	}
	return f.step("AUTH", "235 2.7.0 Authentication successful")
}

func (f *fakeSMTPConn) Mail(from string, _ *gosmtp.MailOptions) error {
	return f.step("MAIL "+from, "250 2.1.0 Sender OK")
}

func (f *fakeSMTPConn) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	return f.step("RCPT "+to, "250 2.1.5 Recipient OK")
}

func (f *fakeSMTPConn) Data() (io.WriteCloser, error) {
	if err := f.step("DATA", "354 Start mail input"); err != nil {
		return nil, err
	}
	return &fakeDataWriter{conn: f}, nil
}

func (f *fakeSMTPConn) Noop() error { return f.step("NOOP", "250 2.0.0 OK") }
func (f *fakeSMTPConn) Quit() error { return f.step("QUIT", "221 2.0.0 Bye") }

func (f *fakeSMTPConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed && f.block != nil {
		close(f.block)
	}
	f.closed = true
	return nil
}

func (f *fakeSMTPConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDataWriter struct{ conn *fakeSMTPConn }

func (w *fakeDataWriter) Write(p []byte) (int, error) { return w.conn.data.Write(p) }
func (w *fakeDataWriter) Close() error {
	return w.conn.step("END", "250 2.6.0 <abc@relay> [InternalId=1] Queued mail for delivery")
}

func newTestRelay(t *testing.T, cfg SMTPConfig, conn *fakeSMTPConn) *SMTPRelay {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "exchange-smtp"
	}
	if cfg.Host == "" {
		cfg.Host, cfg.Port, cfg.Username, cfg.Password = "smtp.office365.com", 587, "user", "pass"
	}
	r, err := NewSMTPRelay(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSMTPRelay() error = %v", err)
	}
	r.dial = func(_ context.Context, addr string, tlsConfig *tls.Config, log io.Writer) (smtpConn, error) {
		if addr != "smtp.office365.com:587" {
			t.Errorf("dial addr = %s", addr)
		}
		conn.log = log
		if err := conn.startTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %w", errNoStartTLS, err)
		}
		return conn, nil
	}
	return r
}

func testSMTPMessage() *Message {
	return &Message{
		ID:   "msg-1",
		From: "sender@example.com",
		To:   []string{"a@example.com", "b@example.com"},
		Raw:  []byte("Subject: hi\r\n\r\nbody\r\n"),
	}
}

func TestNewSMTPRelay_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
	}{
		{"no name", SMTPConfig{Host: "h", Port: 587, Username: "u", Password: "p"}},
		{"no host", SMTPConfig{Name: "x", Port: 587, Username: "u", Password: "p"}},
		{"zero port", SMTPConfig{Name: "x", Host: "h", Username: "u", Password: "p"}},
		{"no password", SMTPConfig{Name: "x", Host: "h", Port: 587, Username: "u"}},
		{"bad auth", SMTPConfig{Name: "x", Host: "h", Port: 587, Username: "u", Password: "p", Auth: "cram-md5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSMTPRelay(tt.cfg, zerolog.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSMTPRelay_Send(t *testing.T) {
	conn := &fakeSMTPConn{}
	r := newTestRelay(t, SMTPConfig{}, conn)

	result, err := r.Send(context.Background(), testSMTPMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	wantCalls := []string{"STARTTLS", "EHLO", "AUTH", "MAIL sender@example.com",
		"RCPT a@example.com", "RCPT b@example.com", "DATA", "END", "QUIT"}
	if strings.Join(conn.calls, "|") != strings.Join(wantCalls, "|") {
		t.Errorf("calls = %v, want %v", conn.calls, wantCalls)
	}
	if conn.data.String() != "Subject: hi\r\n\r\nbody\r\n" {
		t.Errorf("data = %q", conn.data.String())
	}
	if result.Status != "2.6.0 <abc@relay> [InternalId=1] Queued mail for delivery" {
		t.Errorf("Status = %q", result.Status)
	}
	if result.ProviderMessageID != "msg-1" {
		t.Errorf("ProviderMessageID = %q", result.ProviderMessageID)
	}
	if !conn.isClosed() {
		t.Error("connection not closed")
	}
}

func TestSMTPRelay_TLSAndAuthSettings(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SMTPConfig
		wantMech string
		wantSkip bool
	}{
		{"login default", SMTPConfig{}, "LOGIN", false},
		{"plain", SMTPConfig{Auth: "PLAIN"}, "PLAIN", false},
		{"insecure", SMTPConfig{InsecureSkipVerify: true}, "LOGIN", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeSMTPConn{}
			cfg := tt.cfg
			cfg.Host, cfg.Port, cfg.Username, cfg.Password = "smtp.office365.com", 587, "user", "pass"
			r := newTestRelay(t, cfg, conn)

			if _, err := r.Send(context.Background(), testSMTPMessage()); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if conn.authMech != tt.wantMech {
				t.Errorf("auth mechanism = %s, want %s", conn.authMech, tt.wantMech)
			}
			if conn.tlsConfig.MinVersion != tls.VersionTLS12 {
				t.Error("expected TLS 1.2 minimum")
			}
			if conn.tlsConfig.ServerName != "smtp.office365.com" {
				t.Errorf("ServerName = %s", conn.tlsConfig.ServerName)
			}
			if conn.tlsConfig.InsecureSkipVerify != tt.wantSkip {
				t.Errorf("InsecureSkipVerify = %v", conn.tlsConfig.InsecureSkipVerify)
			}
		})
	}
}

func TestSMTPRelay_RequiresSTARTTLS(t *testing.T) {
	conn := &fakeSMTPConn{noTLS: true}
	r := newTestRelay(t, SMTPConfig{}, conn)

	_, err := r.Send(context.Background(), testSMTPMessage())
	if !errors.Is(err, errNoStartTLS) {
		t.Fatalf("expected errNoStartTLS, got %v", err)
	}
	for _, c := range conn.calls {
		if c == "AUTH" {
			t.Error("credentials sent without TLS")
		}
	}
}

func TestSMTPRelay_StepFailures(t *testing.T) {
	for _, step := range []string{"STARTTLS", "EHLO", "AUTH", "MAIL sender@example.com", "RCPT b@example.com", "DATA", "END"} {
		t.Run(step, func(t *testing.T) {
			conn := &fakeSMTPConn{failAt: step}
			r := newTestRelay(t, SMTPConfig{}, conn)

			_, err := r.Send(context.Background(), testSMTPMessage())
			var smtpErr *gosmtp.SMTPError
			if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
				t.Fatalf("expected wrapped SMTPError, got %v", err)
			}
			if !conn.isClosed() {
				t.Error("connection not closed after failure")
			}
		})
	}
}

func TestSMTPRelay_RejectsIncompleteMessage(t *testing.T) {
	r := newTestRelay(t, SMTPConfig{}, &fakeSMTPConn{})

	if _, err := r.Send(context.Background(), &Message{To: []string{"a@example.com"}}); err == nil {
		t.Error("expected error without raw content")
	}
	if _, err := r.Send(context.Background(), &Message{Raw: []byte("x")}); err == nil {
		t.Error("expected error without recipients")
	}
}

func TestSMTPRelay_ContextCancelClosesConnection(t *testing.T) {
	conn := &fakeSMTPConn{block: make(chan struct{})}
	r := newTestRelay(t, SMTPConfig{Timeout: 50 * time.Millisecond}, conn)

	start := time.Now()
	_, err := r.Send(context.Background(), testSMTPMessage())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("send did not abort on timeout")
	}
}

func TestSMTPRelay_HealthCheck(t *testing.T) {
	conn := &fakeSMTPConn{}
	r := newTestRelay(t, SMTPConfig{}, conn)

	if err := r.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if strings.Join(conn.calls, "|") != "STARTTLS|EHLO|AUTH|NOOP|QUIT" {
		t.Errorf("calls = %v", conn.calls)
	}
}

func TestLastReply(t *testing.T) {
	log := "250-relay\r\n250 SIZE 1000\r\nMAIL FROM:<a>\r\n250 2.1.0 OK\r\n250 2.6.0 queued\r\n221 bye\r\n"
	if got := lastReply(log, "250"); got != "2.6.0 queued" {
		t.Errorf("lastReply() = %q", got)
	}
	if got := lastReply("221 bye\r\n", "250"); got != "" {
		t.Errorf("lastReply() = %q, want empty", got)
	}
}

func TestSMTPRelay_ProtocolLogHidesCredentials(t *testing.T) {
	for _, mech := range []string{"login", "plain"} {
		t.Run(mech, func(t *testing.T) {
			var out bytes.Buffer
			conn := &fakeSMTPConn{}
			r := newTestRelay(t, SMTPConfig{
				Host: "smtp.office365.com", Port: 587,
				Username: "relay-user", Password: "s3cret-pass", Auth: mech,
			}, conn)
			r.log = zerolog.New(&out).Level(zerolog.DebugLevel)

			if _, err := r.Send(context.Background(), testSMTPMessage()); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			logged := out.String()
			if !strings.Contains(logged, "smtp conversation") {
				t.Fatalf("protocol log not written: %s", logged)
			}
			secrets := []string{
				"s3cret-pass",
				base64.StdEncoding.EncodeToString([]byte("s3cret-pass")),
				base64.StdEncoding.EncodeToString([]byte("relay-user")),
				base64.StdEncoding.EncodeToString([]byte("\x00relay-user\x00s3cret-pass")),
			}
			for _, secret := range secrets {
				if strings.Contains(logged, secret) {
					t.Errorf("log contains credential %q: %s", secret, logged)
				}
			}
			if !strings.Contains(logged, "235 2.7.0 Authentication successful") {
				t.Error("expected the AUTH result to stay visible")
			}
			if !strings.Contains(logged, "Queued mail for delivery") {
				t.Error("expected the DATA reply to stay visible")
			}
		})
	}
}

func TestProtocolLog_MasksAuthExchange(t *testing.T) {
	user := base64.StdEncoding.EncodeToString([]byte("relay-user"))
	pass := base64.StdEncoding.EncodeToString([]byte("s3cret-pass"))
	transcript := "EHLO localhost\r\n250-relay\r\n250 AUTH LOGIN\r\n" +
		"AUTH LOGIN " + user + "\r\n" +
		"334 UGFzc3dvcmQ6\r\n" +
		pass + "\r\n" +
		"235 2.7.0 Authentication successful\r\n" +
		"MAIL FROM:<a@example.com>\r\n250 2.1.0 OK\r\n"
	want := "EHLO localhost\r\n250-relay\r\n250 AUTH LOGIN\r\n" +
		"AUTH LOGIN [redacted]\r\n" +
		"334 [redacted]\r\n" +
		"[redacted]\r\n" +
		"235 2.7.0 Authentication successful\r\n" +
		"MAIL FROM:<a@example.com>\r\n250 2.1.0 OK\r\n"

	tests := []struct {
		name  string
		chunk int
	}{
		{"whole", len(transcript)},
		{"byte at a time", 1},
		{"odd chunks", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newProtocolLog()
			for i := 0; i < len(transcript); i += tt.chunk {
				end := min(i+tt.chunk, len(transcript))
				l.Write([]byte(transcript[i:end]))
			}
			if got := l.String(); got != want {
				t.Errorf("String() =\n%q\nwant\n%q", got, want)
			}
		})
	}
}

func TestProtocolLog_PendingAuthLineMasked(t *testing.T) {
	l := newProtocolLog()
	l.Write([]byte("AUTH LOGIN\r\n334 VXNlcm5hbWU6\r\ncmVsYXktdXNl"))

	got := l.String()
	if strings.Contains(got, "cmVsYXktdXNl") {
		t.Errorf("unterminated credential line leaked: %q", got)
	}
	if !strings.HasSuffix(got, redacted) {
		t.Errorf("String() = %q, want trailing %s", got, redacted)
	}
}

// serveSMTP accepts one connection and answers EHLO with the given
// extensions. It never completes a TLS handshake.
func serveSMTP(t *testing.T, greet bool, extensions ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if !greet {
			io.Copy(io.Discard, conn)
			return
		}
		fmt.Fprintf(conn, "220 relay.example.com ESMTP\r\n")
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				fmt.Fprintf(conn, "250-relay.example.com\r\n")
				for _, ext := range extensions {
					fmt.Fprintf(conn, "250-%s\r\n", ext)
				}
				fmt.Fprintf(conn, "250 8BITMIME\r\n")
			case strings.HasPrefix(line, "STARTTLS"):
				fmt.Fprintf(conn, "454 4.7.0 TLS not available\r\n")
			default:
				fmt.Fprintf(conn, "502 5.5.2 not implemented\r\n")
			}
		}
	}()
	return ln.Addr().String()
}

func TestDialSMTP_WithoutSTARTTLS(t *testing.T) {
	addr := serveSMTP(t, true, "AUTH LOGIN")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := dialSMTP(ctx, addr, &tls.Config{ServerName: "relay.example.com"}, io.Discard)
	if !errors.Is(err, errNoStartTLS) {
		t.Fatalf("expected errNoStartTLS, got %v", err)
	}
}

func TestDialSMTP_STARTTLSRejected(t *testing.T) {
	addr := serveSMTP(t, true, "STARTTLS")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := dialSMTP(ctx, addr, &tls.Config{ServerName: "relay.example.com"}, io.Discard)
	if !errors.Is(err, errNoStartTLS) {
		t.Fatalf("expected errNoStartTLS, got %v", err)
	}
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 454 {
		t.Errorf("expected wrapped 454 SMTPError, got %v", err)
	}
}

func TestDialSMTP_ContextBoundsGreeting(t *testing.T) {
	addr := serveSMTP(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dialSMTP(ctx, addr, &tls.Config{}, io.Discard)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("dial did not abort on timeout")
	}
}
