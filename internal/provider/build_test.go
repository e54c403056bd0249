package provider

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/config"
)

// mockProvider implements Provider for transport tests.
type mockProvider struct {
	name string
}

func (m *mockProvider) Send(_ context.Context, _ *Message) (*DeliveryResult, error) {
	return nil, nil
}

func (m *mockProvider) GetName() string {
	return m.name
}

func (m *mockProvider) HealthCheck(_ context.Context) error {
	return nil
}

func TestBuildTransports(t *testing.T) {
	relay := config.RelayConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p"}

	tests := []struct {
		name         string
		cfg          config.Config
		wantREST     string
		wantACSSMTP  bool
		wantExchange bool
	}{
		{
			name: "nothing configured",
			cfg:  config.Config{},
		},
		{
			name: "acs rest and both relays",
			cfg: config.Config{
				REST:  config.RESTConfig{Provider: "acs"},
				ACS:   config.ACSConfig{EmailEndpoint: "https://contoso.communication.azure.com"},
				Azure: config.AzureConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"},
				SMTP:  config.SMTPConfig{ACS: relay, Exchange: relay},
			},
			wantREST:     "acs-email",
			wantACSSMTP:  true,
			wantExchange: true,
		},
		{
			name: "acs rest without credentials",
			cfg: config.Config{
				ACS: config.ACSConfig{EmailEndpoint: "https://contoso.communication.azure.com"},
			},
		},
		{
			name:         "stdout",
			cfg:          config.Config{REST: config.RESTConfig{Provider: "stdout"}, SMTP: config.SMTPConfig{Exchange: relay}},
			wantREST:     "stdout",
			wantExchange: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := BuildTransports(context.Background(), &tt.cfg, nil, zerolog.Nop())

			switch {
			case tt.wantREST == "" && tr.REST != nil:
				t.Errorf("expected no REST transport, got %s", tr.REST.GetName())
			case tt.wantREST != "" && (tr.REST == nil || tr.REST.GetName() != tt.wantREST):
				t.Errorf("expected REST transport %s, got %v", tt.wantREST, tr.REST)
			}
			if (tr.ACSSMTP != nil) != tt.wantACSSMTP {
				t.Errorf("ACS SMTP present = %v, want %v", tr.ACSSMTP != nil, tt.wantACSSMTP)
			}
			if (tr.Exchange != nil) != tt.wantExchange {
				t.Errorf("Exchange present = %v, want %v", tr.Exchange != nil, tt.wantExchange)
			}
		})
	}
}

func TestTransports_AllAndNames(t *testing.T) {
	tests := []struct {
		name string
		tr   Transports
		want []string
	}{
		{"none", Transports{}, nil},
		{"endpoint order", Transports{
			REST:     NewStdout(),
			ACSSMTP:  &mockProvider{name: "acs-smtp"},
			Exchange: &mockProvider{name: "exchange-smtp"},
		}, []string{"stdout", "acs-smtp", "exchange-smtp"}},
		{"gaps skipped", Transports{Exchange: &mockProvider{name: "exchange-smtp"}}, []string{"exchange-smtp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.tr.All()); got != len(tt.want) {
				t.Fatalf("All() returned %d providers, want %d", got, len(tt.want))
			}
			names := tt.tr.Names()
			if len(names) != len(tt.want) {
				t.Fatalf("Names() = %v, want %v", names, tt.want)
			}
			for i := range tt.want {
				if names[i] != tt.want[i] {
					t.Errorf("Names()[%d] = %q, want %q", i, names[i], tt.want[i])
				}
			}
		})
	}
}
