package azure

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx answer from an Azure REST API.
type APIError struct {
	// Service names the API that answered, e.g. "content-safety".
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
}

// Throttled reports whether the service rejected the call for rate reasons.
func (e *APIError) Throttled() bool {
	return e.StatusCode == 429
}

// CheckResponse returns nil for 2xx responses and an *APIError otherwise.
// The standard {"error":{"code","message"}} envelope is decoded when present.
func CheckResponse(service string, resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(resp.Body)),
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = "empty response body"
	}

	return apiErr
}

// IsThrottled reports whether err is an *APIError with status 429.
func IsThrottled(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Throttled()
	}
	return false
}
