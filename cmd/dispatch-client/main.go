// Package main provides a CLI for exercising a running dispatch server.
// It sends a message through one of the send endpoints, or decodes an
// unsubscribe token locally without contacting the server.
//
// Usage:
//
//	dispatch-client --transport rest --to user@example.com --type SendMailWithPIIScan --content "Hello"
//	dispatch-client --method GET --transport smtp --count 5 --rate 2
//	dispatch-client --decode U3Vic2NyaXB0aW9uPS4uLg==
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

type config struct {
	server    string
	transport string
	method    string
	mode      string
	from      string
	replyTo   string
	to        stringSlice
	subject   string
	textBody  string
	htmlBody  string
	content   string
	count     int
	rate      float64
	timeout   time.Duration
	decode    string
}

// stringSlice implements flag.Value for repeatable --to flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var endpoints = map[string]string{
	"rest": "/api/SendMailViaREST",
	"smtp": "/api/SendMailViaSMTP",
	"exch": "/api/SendMailViaEXCH",
}

func main() {
	cfg := parseFlags()

	if cfg.decode != "" {
		os.Exit(decodeToken(cfg.decode))
	}

	path, ok := endpoints[strings.ToLower(cfg.transport)]
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown transport %q (use rest, smtp or exch)\n", cfg.transport)
		os.Exit(2)
	}
	method := strings.ToUpper(cfg.method)
	if method != http.MethodGet && method != http.MethodPost {
		fmt.Fprintf(os.Stderr, "error: unsupported method %q (use GET or POST)\n", cfg.method)
		os.Exit(2)
	}
	if cfg.mode != "" {
		if _, err := message.ParseMode(cfg.mode); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}

	endpoint := strings.TrimRight(cfg.server, "/") + path
	recipients := []string(cfg.to)
	if len(recipients) == 0 {
		// The server falls back to its default recipient.
		recipients = []string{""}
	}

	fmt.Printf("Dispatch Client\n")
	fmt.Printf("  Endpoint: %s %s\n", method, endpoint)
	if cfg.mode != "" {
		fmt.Printf("  Type:     %s\n", cfg.mode)
	}
	fmt.Printf("  To:       %s\n", displayRecipients(cfg.to))
	fmt.Printf("  Count:    %d\n", cfg.count)
	if cfg.count > 1 {
		fmt.Printf("  Rate:     %.1f requests/sec\n", cfg.rate)
	}
	fmt.Println()

	client := &http.Client{Timeout: cfg.timeout}

	interval := time.Duration(0)
	if cfg.count > 1 && cfg.rate > 0 {
		interval = time.Duration(float64(time.Second) / cfg.rate)
	}

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	total := cfg.count * len(recipients)
	seq := 0
	for i := 0; i < cfg.count; i++ {
		for _, rcpt := range recipients {
			if seq > 0 && interval > 0 {
				time.Sleep(interval)
			}
			seq++

			fields := cfg.fields(rcpt)
			if cfg.count > 1 && fields["Subject"] != "" {
				fields["Subject"] = fmt.Sprintf("%s [%d/%d]", fields["Subject"], i+1, cfg.count)
			}

			start := time.Now()
			status, body, err := send(client, method, endpoint, fields)
			elapsed := time.Since(start)
			totalSend += elapsed

			switch {
			case err != nil:
				failCount++
				fmt.Printf("  [%d/%d] FAIL (%s): %v\n", seq, total, elapsed, err)
			case status >= 300:
				failCount++
				fmt.Printf("  [%d/%d] FAIL (%s): HTTP %d %s\n", seq, total, elapsed, status, body)
			default:
				successCount++
				fmt.Printf("  [%d/%d] OK   (%s): %s\n", seq, total, elapsed, body)
			}
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d sent, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.server, "server", "http://localhost:8080", "Dispatch server base URL")
	flag.StringVar(&cfg.transport, "transport", "rest", "Send endpoint: rest, smtp, exch")
	flag.StringVar(&cfg.method, "method", "POST", "HTTP method: GET (query parameters) or POST (JSON body)")
	flag.StringVar(&cfg.mode, "type", "", "Processing mode name or number (server default when empty)")
	flag.StringVar(&cfg.from, "from", "", "Sender address")
	flag.StringVar(&cfg.replyTo, "reply-to", "", "Reply-To address")
	flag.Var(&cfg.to, "to", "Recipient address (can be specified multiple times, one request each)")
	flag.StringVar(&cfg.subject, "subject", "", "Subject")
	flag.StringVar(&cfg.textBody, "text", "", "Plain text body template")
	flag.StringVar(&cfg.htmlBody, "html", "", "HTML body template")
	flag.StringVar(&cfg.content, "content", "", "Custom content substituted into the templates")
	flag.IntVar(&cfg.count, "count", 1, "Number of requests to send per recipient")
	flag.Float64Var(&cfg.rate, "rate", 1, "Requests per second when sending more than one")
	flag.DurationVar(&cfg.timeout, "timeout", 2*time.Minute, "HTTP request timeout")
	flag.StringVar(&cfg.decode, "decode", "", "Decode an unsubscribe token and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dispatch-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "A CLI tool for sending requests to the mail dispatch server.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  dispatch-client --to recipient@example.com --content \"Hello\"\n")
		fmt.Fprintf(os.Stderr, "  dispatch-client --transport exch --type SendMailWithHarmfulContentScan --content \"Hello\"\n")
		fmt.Fprintf(os.Stderr, "  dispatch-client --method GET --transport smtp --count 10 --rate 5\n")
		fmt.Fprintf(os.Stderr, "  dispatch-client --decode <UnsubscribeKey>\n")
	}

	flag.Parse()
	return cfg
}

// fields returns the non-empty request fields. Omitted fields keep the
// server's defaults.
func (c config) fields(recipient string) map[string]string {
	all := map[string]string{
		"Type":          c.mode,
		"From":          c.from,
		"ReplyTo":       c.replyTo,
		"To":            recipient,
		"Subject":       c.subject,
		"TextBody":      c.textBody,
		"HtmlBody":      c.htmlBody,
		"CustomContent": c.content,
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func send(client *http.Client, method, endpoint string, fields map[string]string) (int, string, error) {
	var req *http.Request
	var err error

	if method == http.MethodGet {
		q := url.Values{}
		for k, v := range fields {
			q.Set(k, v)
		}
		target := endpoint
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
		req, err = http.NewRequest(http.MethodGet, target, nil)
	} else {
		var body []byte
		body, err = json.Marshal(fields)
		if err != nil {
			return 0, "", fmt.Errorf("encode body: %w", err)
		}
		req, err = http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, summarize(raw), nil
}

// summarize prefers the message or error field of a JSON response.
func summarize(raw []byte) string {
	var body struct {
		Message string   `json:"message"`
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch {
	case body.Error != "" && len(body.Details) > 0:
		return body.Error + " (" + strings.Join(body.Details, "; ") + ")"
	case body.Error != "":
		return body.Error
	case body.Message != "":
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}

func decodeToken(token string) int {
	// Accept a full unsubscribe link as well as the bare token.
	if u, err := url.Parse(token); err == nil && u.RawQuery != "" {
		if v := u.Query().Get(unsubscribe.QueryKey); v != "" {
			token = v
		}
	}

	rec, err := unsubscribe.Decode(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("Unsubscribe Token\n")
	fmt.Printf("  Subscription:    %s\n", rec.Subscription)
	fmt.Printf("  ResourceGroup:   %s\n", rec.ResourceGroup)
	fmt.Printf("  EmailService:    %s\n", rec.EmailService)
	fmt.Printf("  Domain:          %s\n", rec.Domain)
	fmt.Printf("  SuppressionList: %s\n", rec.SuppressionList)
	fmt.Printf("  EmailRecipient:  %s\n", rec.EmailRecipient)
	fmt.Printf("  OperationId:     %s\n", rec.OperationID)
	return 0
}

func displayRecipients(to []string) string {
	if len(to) == 0 {
		return "(server default)"
	}
	return strings.Join(to, ", ")
}
