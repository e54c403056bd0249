package unsubscribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sungwon/mail-dispatch/internal/azure"
)

const (
	defaultManagementEndpoint = "https://management.azure.com"
	defaultARMAPIVersion      = "2023-06-01-preview"
)

// SuppressionWriter adds a decoded record's recipient to its suppression list.
type SuppressionWriter interface {
	WriteSuppressionEntry(ctx context.Context, rec Record) error
}

// ARMWriterConfig configures an ARMWriter.
type ARMWriterConfig struct {
	Endpoint   string
	APIVersion string
}

// ARMWriter writes suppression-list addresses through Azure Resource Manager.
// The resource path comes from the record itself; whether the caller may
// write there is decided by ARM against the service principal's roles.
type ARMWriter struct {
	client     azure.HTTPClient
	tokens     *azure.TokenManager
	endpoint   string
	apiVersion string
	now        func() time.Time
}

// NewARMWriter creates a writer. tokens must be scoped to azure.ScopeManagement.
func NewARMWriter(cfg ARMWriterConfig, client azure.HTTPClient, tokens *azure.TokenManager) *ARMWriter {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultManagementEndpoint
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultARMAPIVersion
	}
	return &ARMWriter{
		client:     client,
		tokens:     tokens,
		endpoint:   endpoint,
		apiVersion: apiVersion,
		now:        time.Now,
	}
}

type suppressionAddress struct {
	Properties suppressionAddressProperties `json:"properties"`
}

type suppressionAddressProperties struct {
	Email string `json:"email"`
	Notes string `json:"notes"`
}

// WriteSuppressionEntry PUTs the recipient under the record's operation ID.
func (w *ARMWriter) WriteSuppressionEntry(ctx context.Context, rec Record) error {
	token, err := w.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("suppression list: %w", err)
	}

	body, err := json.Marshal(suppressionAddress{Properties: suppressionAddressProperties{
		Email: rec.EmailRecipient,
		Notes: "Added via Unsubscribe on " + w.now().UTC().Format("2006-01-02 at 15:04:05"),
	}})
	if err != nil {
		return fmt.Errorf("suppression list: marshal: %w", err)
	}

	resp, err := w.client.Do(ctx, &azure.Request{
		Method: http.MethodPut,
		URL:    w.resourceURL(rec),
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("suppression list: request: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		w.tokens.InvalidateToken()
	}
	if err := azure.CheckResponse("suppression-list", resp); err != nil {
		return err
	}
	return nil
}

func (w *ARMWriter) resourceURL(rec Record) string {
	segments := []string{
		"subscriptions", rec.Subscription,
		"resourceGroups", rec.ResourceGroup,
		"providers", "Microsoft.Communication",
		"emailServices", rec.EmailService,
		"domains", rec.Domain,
		"suppressionLists", rec.SuppressionList,
		"suppressionListAddresses", rec.OperationID,
	}
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return w.endpoint + "/" + strings.Join(segments, "/") + "?api-version=" + url.QueryEscape(w.apiVersion)
}
