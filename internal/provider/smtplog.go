package provider

import (
	"bytes"
	"strings"
	"sync"
)

const redacted = "[redacted]"

// protocolLog collects an SMTP conversation for logging. SASL exchanges
// carry base64 credentials, so everything from an AUTH command up to the
// server's final reply is masked as it is written.
type protocolLog struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	pending []byte
	inAuth  bool
}

func newProtocolLog() *protocolLog { return &protocolLog{} }

// Write accepts arbitrary chunks; lines are masked once complete.
func (l *protocolLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		line := string(l.pending[:i+1])
		l.pending = l.pending[i+1:]
		l.buf.WriteString(l.mask(line))
	}
	return len(p), nil
}

// String returns the conversation so far. An unterminated trailing line
// inside an AUTH exchange is masked.
func (l *protocolLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.buf.String()
	if len(l.pending) > 0 {
		if l.inAuth {
			return out + redacted
		}
		return out + string(l.pending)
	}
	return out
}

func (l *protocolLog) mask(line string) string {
	text := strings.TrimRight(line, "\r\n")
	eol := line[len(text):]

	if fields := strings.Fields(text); len(fields) > 0 && strings.EqualFold(fields[0], "AUTH") {
		l.inAuth = true
		if len(fields) > 2 {
			return fields[0] + " " + fields[1] + " " + redacted + eol
		}
		return text + eol
	}
	if !l.inAuth {
		return line
	}

	code, ok := replyCode(text)
	switch {
	case !ok:
		// A client response to a challenge.
		return redacted + eol
	case code == "334":
		return "334 " + redacted + eol
	default:
		l.inAuth = false
		return line
	}
}

// replyCode returns the three-digit code of a server reply line.
func replyCode(line string) (string, bool) {
	if len(line) < 3 {
		return "", false
	}
	for _, c := range line[:3] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	if len(line) > 3 && line[3] != ' ' && line[3] != '-' {
		return "", false
	}
	return line[:3], true
}
