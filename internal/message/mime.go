package message

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"time"
)

// Headers returns the extra headers every transport should attach.
func (r Rendered) Headers() map[string]string {
	h := map[string]string{}
	if r.HasUnsubscribe() {
		h["List-Unsubscribe"] = "<" + r.UnsubscribeURL + ">"
	}
	return h
}

// MIME encodes r as an RFC 5322 multipart/alternative message with
// quoted-printable text and HTML parts.
func (r Rendered) MIME(messageID string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", r.From)
	writeHeader(&buf, "To", r.To)
	if r.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", r.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("UTF-8", r.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	if messageID != "" {
		writeHeader(&buf, "Message-ID", "<"+messageID+"@"+messageIDDomain(r.From)+">")
	}
	for k, v := range r.Headers() {
		writeHeader(&buf, k, v)
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writePart(writer, "text/plain; charset=UTF-8", r.TextBody); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := writePart(writer, "text/html; charset=UTF-8", r.HTMLBody); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writePart(w *multipart.Writer, contentType, body string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "quoted-printable")

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func messageIDDomain(from string) string {
	if d := Domain(from); d != "" {
		return d
	}
	return "mail-dispatch.local"
}
