// Package cognitive implements the policy backends on Azure AI services:
// Language PII detection, Content Safety text analysis, and Azure OpenAI
// chat completions. All three share one multi-service endpoint and key
// unless a per-service endpoint is configured.
package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sungwon/mail-dispatch/internal/azure"
)

// ErrNotConfigured is returned by constructors when endpoint or key is unset.
var ErrNotConfigured = errors.New("cognitive: endpoint and key are required")

// Credentials locate an Azure AI services resource.
type Credentials struct {
	Endpoint string
	Key      string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Endpoint) == "" || strings.TrimSpace(c.Key) == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c Credentials) baseURL() string {
	return strings.TrimRight(c.Endpoint, "/")
}

// postJSON sends body to url with the given key header and decodes a 2xx
// answer into out.
func postJSON(ctx context.Context, client azure.HTTPClient, service, url, keyHeader, key string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", service, err)
	}

	resp, err := client.Do(ctx, &azure.Request{
		Method: "POST",
		URL:    url,
		Headers: map[string]string{
			keyHeader:      key,
			"Content-Type": "application/json",
		},
		Body: payload,
	})
	if err != nil {
		return fmt.Errorf("%s: request: %w", service, err)
	}
	if err := azure.CheckResponse(service, resp); err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", service, err)
	}
	return nil
}
