// Package unsubscribe encodes the stateless unsubscribe token carried in
// mail links and writes decoded requests to an ACS suppression list.
package unsubscribe

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// EndpointPath is where unsubscribe links point.
	EndpointPath = "/api/Unsubscribe"
	// QueryKey is the query parameter that carries the token.
	QueryKey = "UnsubscribeKey"
)

// ErrInvalidToken is wrapped by every token encoding and decoding failure.
var ErrInvalidToken = errors.New("invalid unsubscribe token")

// Target identifies the suppression list a recipient is added to.
type Target struct {
	Subscription    string
	ResourceGroup   string
	EmailService    string
	Domain          string
	SuppressionList string
}

// Complete reports whether every field is set.
func (t Target) Complete() bool {
	return t.Subscription != "" && t.ResourceGroup != "" && t.EmailService != "" &&
		t.Domain != "" && t.SuppressionList != ""
}

// Record is everything needed to suppress one recipient.
type Record struct {
	Subscription    string
	ResourceGroup   string
	EmailService    string
	Domain          string
	SuppressionList string
	EmailRecipient  string
	OperationID     string
}

// NewRecord creates a record for recipient with a fresh operation ID.
func NewRecord(t Target, recipient string) Record {
	return Record{
		Subscription:    t.Subscription,
		ResourceGroup:   t.ResourceGroup,
		EmailService:    t.EmailService,
		Domain:          t.Domain,
		SuppressionList: t.SuppressionList,
		EmailRecipient:  recipient,
		OperationID:     uuid.NewString(),
	}
}

// Field keys in their fixed wire order.
const (
	keySubscription    = "Subscription"
	keyResourceGroup   = "ResourceGroup"
	keyEmailService    = "EmailService"
	keyDomain          = "Domain"
	keySuppressionList = "SuppressionList"
	keyEmailRecipient  = "EmailRecipient"
	keyOperationID     = "OperationId"
)

var fieldOrder = []string{
	keySubscription, keyResourceGroup, keyEmailService, keyDomain,
	keySuppressionList, keyEmailRecipient, keyOperationID,
}

func (r Record) fields() map[string]string {
	return map[string]string{
		keySubscription:    r.Subscription,
		keyResourceGroup:   r.ResourceGroup,
		keyEmailService:    r.EmailService,
		keyDomain:          r.Domain,
		keySuppressionList: r.SuppressionList,
		keyEmailRecipient:  r.EmailRecipient,
		keyOperationID:     r.OperationID,
	}
}

// Encode serializes r as "Key=value&..." in the fixed field order and
// base64-encodes the UTF-8 bytes. Values are not escaped, so a value
// holding '&' or '=' will not survive Decode.
func Encode(r Record) (string, error) {
	fields := r.fields()
	pairs := make([]string, 0, len(fieldOrder))
	for _, k := range fieldOrder {
		if fields[k] == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrInvalidToken, k)
		}
		pairs = append(pairs, k+"="+fields[k])
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(pairs, "&"))), nil
}

// Decode reverses Encode. It fails on malformed base64 or UTF-8, on a pair
// without '=', on a repeated key, and on a missing or empty field.
// Unknown keys are ignored.
func Decode(token string) (Record, error) {
	// A '+' in an unescaped query string arrives as a space.
	token = strings.ReplaceAll(strings.TrimSpace(token), " ", "+")
	if token == "" {
		return Record{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !utf8.Valid(raw) {
		return Record{}, fmt.Errorf("%w: not valid UTF-8", ErrInvalidToken)
	}

	values := make(map[string]string, len(fieldOrder))
	for _, pair := range strings.Split(string(raw), "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Record{}, fmt.Errorf("%w: malformed pair %q", ErrInvalidToken, pair)
		}
		if _, dup := values[k]; dup {
			return Record{}, fmt.Errorf("%w: duplicate key %s", ErrInvalidToken, k)
		}
		values[k] = v
	}

	for _, k := range fieldOrder {
		if values[k] == "" {
			return Record{}, fmt.Errorf("%w: missing %s", ErrInvalidToken, k)
		}
	}

	return Record{
		Subscription:    values[keySubscription],
		ResourceGroup:   values[keyResourceGroup],
		EmailService:    values[keyEmailService],
		Domain:          values[keyDomain],
		SuppressionList: values[keySuppressionList],
		EmailRecipient:  values[keyEmailRecipient],
		OperationID:     values[keyOperationID],
	}, nil
}

// BuildLink returns the unsubscribe URL for token on the given scheme and host.
func BuildLink(scheme, host, token string) string {
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host + EndpointPath + "?" + QueryKey + "=" + url.QueryEscape(token)
}

// NewLink creates a record for recipient, encodes it, and returns the link
// together with the record.
func NewLink(t Target, recipient, scheme, host string) (string, Record, error) {
	rec := NewRecord(t, recipient)
	token, err := Encode(rec)
	if err != nil {
		return "", Record{}, err
	}
	return BuildLink(scheme, host, token), rec, nil
}
