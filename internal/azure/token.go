package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	tokenExpiryBuffer = 5 * time.Minute

	// ScopeCommunication is the token scope for ACS Email data-plane calls.
	ScopeCommunication = "https://communication.azure.com/.default"
	// ScopeManagement is the token scope for Azure Resource Manager calls.
	ScopeManagement = "https://management.azure.com/.default"
)

// ErrNoCredentials is returned when client credentials are incomplete.
var ErrNoCredentials = errors.New("azure: tenant_id, client_id and client_secret are required")

// Credentials identify an Entra ID application.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Complete reports whether every field is set.
func (c Credentials) Complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// TokenManager hands out bearer tokens for a single scope. The token is
// kept until it is about to expire or a caller reports it rejected.
type TokenManager struct {
	mu    sync.Mutex
	cred  azcore.TokenCredential
	scope string
	now   func() time.Time

	token azcore.AccessToken
}

// NewTokenManager creates a token manager that runs the client credentials
// flow through azidentity. A positive timeout bounds each token request.
func NewTokenManager(creds Credentials, scope string, timeout time.Duration) (*TokenManager, error) {
	if !creds.Complete() {
		return nil, ErrNoCredentials
	}

	opts := &azidentity.ClientSecretCredentialOptions{}
	if timeout > 0 {
		opts.Transport = &http.Client{Timeout: timeout}
	}
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, opts)
	if err != nil {
		return nil, fmt.Errorf("azure auth: %w", err)
	}
	return NewTokenManagerFromCredential(cred, scope), nil
}

// NewTokenManagerFromCredential wraps any azcore credential.
func NewTokenManagerFromCredential(cred azcore.TokenCredential, scope string) *TokenManager {
	return &TokenManager{cred: cred, scope: scope, now: time.Now}
}

// Scope returns the scope tokens are requested for.
func (tm *TokenManager) Scope() string { return tm.scope }

// GetToken returns a valid access token, requesting a new one if none is
// held or the held one expires within five minutes.
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token.Token != "" && tm.now().Before(tm.token.ExpiresOn.Add(-tokenExpiryBuffer)) {
		return tm.token.Token, nil
	}

	tok, err := tm.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{tm.scope}})
	if err != nil {
		return "", fmt.Errorf("azure auth: %w", err)
	}
	if tok.Token == "" {
		return "", errors.New("azure auth: empty access token")
	}
	tm.token = tok
	return tok.Token, nil
}

// InvalidateToken drops the held token, forcing a request on next call.
func (tm *TokenManager) InvalidateToken() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = azcore.AccessToken{}
}
