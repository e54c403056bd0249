package provider

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

const defaultSMTPTimeout = 30 * time.Second

var errNoStartTLS = errors.New("STARTTLS negotiation failed")

// SMTPConfig configures one submission relay.
type SMTPConfig struct {
	// Name is the provider name, e.g. "acs-smtp" or "exchange-smtp".
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	// Auth selects the SASL mechanism: "login" (default) or "plain".
	Auth string
	// InsecureSkipVerify accepts any server certificate.
	InsecureSkipVerify bool
	Timeout            time.Duration
	// HeloName is sent in EHLO; defaults to "localhost".
	HeloName string
}

// smtpConn is the part of *gosmtp.Client the relay uses once the
// connection has been upgraded with STARTTLS.
type smtpConn interface {
	Hello(localName string) error
	Auth(a sasl.Client) error
	Mail(from string, opts *gosmtp.MailOptions) error
	Rcpt(to string, opts *gosmtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Noop() error
	Quit() error
	Close() error
}

// dialFunc connects to addr and completes STARTTLS before returning.
type dialFunc func(ctx context.Context, addr string, tlsConfig *tls.Config, protocolLog io.Writer) (smtpConn, error)

// SMTPRelay submits messages to a relay over STARTTLS with authentication.
type SMTPRelay struct {
	cfg  SMTPConfig
	dial dialFunc
	log  zerolog.Logger
}

// NewSMTPRelay creates a relay transport.
func NewSMTPRelay(cfg SMTPConfig, log zerolog.Logger) (*SMTPRelay, error) {
	if cfg.Name == "" {
		return nil, errors.New("smtp: name is required")
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%s: host and a positive port are required", cfg.Name)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%s: username and password are required", cfg.Name)
	}
	switch strings.ToLower(cfg.Auth) {
	case "", "login", "plain":
	default:
		return nil, fmt.Errorf("%s: unsupported auth mechanism %q", cfg.Name, cfg.Auth)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPRelay{cfg: cfg, dial: dialSMTP, log: log}, nil
}

func (s *SMTPRelay) GetName() string { return s.cfg.Name }

func (s *SMTPRelay) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Send runs one SMTP transaction for msg.Raw. The final DATA reply is
// returned as the status. The protocol conversation is logged at debug.
func (s *SMTPRelay) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	if len(msg.Raw) == 0 {
		return nil, fmt.Errorf("%s: message has no raw content", s.cfg.Name)
	}
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("%s: message has no recipients", s.cfg.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	protocolLog := newProtocolLog()
	defer func() {
		s.log.Debug().Str("provider", s.cfg.Name).Str("protocol_log", protocolLog.String()).Msg("smtp conversation")
	}()

	c, stop, err := s.open(ctx, protocolLog)
	if err != nil {
		return nil, err
	}
	defer stop()
	defer c.Close()

	if err := c.Mail(msg.From, nil); err != nil {
		return nil, fmt.Errorf("%s: MAIL FROM: %w", s.cfg.Name, err)
	}
	for _, to := range msg.To {
		if err := c.Rcpt(to, nil); err != nil {
			return nil, fmt.Errorf("%s: RCPT TO %s: %w", s.cfg.Name, to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return nil, fmt.Errorf("%s: DATA: %w", s.cfg.Name, err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s: write message: %w", s.cfg.Name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: end DATA: %w", s.cfg.Name, err)
	}

	status := lastReply(protocolLog.String(), "250")
	if err := c.Quit(); err != nil {
		s.log.Warn().Err(err).Str("provider", s.cfg.Name).Msg("smtp QUIT failed after accepted message")
	}
	if status == "" {
		status = StatusSent
	}

	return &DeliveryResult{
		ProviderMessageID: msg.ID,
		Status:            status,
		Timestamp:         time.Now(),
	}, nil
}

// open dials, upgrades with STARTTLS and authenticates. The connection is
// closed if ctx ends before the returned stop func is called.
func (s *SMTPRelay) open(ctx context.Context, protocolLog io.Writer) (smtpConn, func() bool, error) {
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	c, err := s.dial(ctx, s.addr(), tlsConfig, protocolLog)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: connect %s: %w", s.cfg.Name, s.addr(), err)
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	fail := func(format string, err error) (smtpConn, func() bool, error) {
		stop()
		c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, nil, fmt.Errorf(format, s.cfg.Name, err)
	}

	// STARTTLS resets the session, so this is the EHLO the relay
	// authenticates against.
	if err := c.Hello(s.cfg.HeloName); err != nil {
		return fail("%s: EHLO: %w", err)
	}
	if err := c.Auth(s.saslClient()); err != nil {
		return fail("%s: AUTH: %w", err)
	}
	return c, stop, nil
}

func (s *SMTPRelay) saslClient() sasl.Client {
	if strings.EqualFold(s.cfg.Auth, "plain") {
		return sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}
	return sasl.NewLoginClient(s.cfg.Username, s.cfg.Password)
}

// HealthCheck connects, upgrades, authenticates and quits without sending.
func (s *SMTPRelay) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	c, stop, err := s.open(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer stop()
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("%s: NOOP: %w", s.cfg.Name, err)
	}
	return c.Quit()
}

// goSMTPConn adapts *gosmtp.Client to smtpConn.
type goSMTPConn struct {
	*gosmtp.Client
}

func (c goSMTPConn) Data() (io.WriteCloser, error) {
	return c.Client.Data()
}

// dialSMTP connects under ctx and upgrades with STARTTLS. Any failure
// before the upgrade completes is reported as errNoStartTLS so that
// credentials are never sent in the clear.
func dialSMTP(ctx context.Context, addr string, tlsConfig *tls.Config, protocolLog io.Writer) (smtpConn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := gosmtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", errNoStartTLS, err)
	}
	c.DebugWriter = protocolLog
	return goSMTPConn{c}, nil
}

// lastReply returns the text of the last server reply line with the given
// code in a protocol log, without the code.
func lastReply(protocolLog, code string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(protocolLog))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) > len(code) && strings.HasPrefix(line, code) && line[len(code)] == ' ' {
			last = strings.TrimSpace(line[len(code)+1:])
		}
	}
	return last
}
