package provider

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/azure"
	"github.com/sungwon/mail-dispatch/internal/config"
)

// Transports holds the provider behind each send endpoint. A nil field
// means the endpoint's transport could not be configured.
type Transports struct {
	REST     Provider
	ACSSMTP  Provider
	Exchange Provider
}

// BuildTransports constructs every transport the configuration supports.
// Construction failures are logged and leave the field nil.
func BuildTransports(ctx context.Context, cfg *config.Config, client azure.HTTPClient, log zerolog.Logger) Transports {
	var t Transports

	if p, err := buildREST(ctx, cfg, client, log); err != nil {
		log.Warn().Err(err).Str("provider", cfg.REST.Provider).Msg("REST transport not available")
	} else {
		t.REST = p
	}

	if p, err := NewSMTPRelay(relayConfig("acs-smtp", cfg.SMTP.ACS), log); err != nil {
		log.Warn().Err(err).Msg("ACS SMTP transport not available")
	} else {
		t.ACSSMTP = p
	}

	if p, err := NewSMTPRelay(relayConfig("exchange-smtp", cfg.SMTP.Exchange), log); err != nil {
		log.Warn().Err(err).Msg("Exchange SMTP transport not available")
	} else {
		t.Exchange = p
	}

	return t
}

// All returns the configured transports in endpoint order: REST, ACS SMTP,
// then Exchange.
func (t Transports) All() []Provider {
	var out []Provider
	for _, p := range []Provider{t.REST, t.ACSSMTP, t.Exchange} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the names of the configured transports.
func (t Transports) Names() []string {
	var names []string
	for _, p := range t.All() {
		names = append(names, p.GetName())
	}
	return names
}

func buildREST(ctx context.Context, cfg *config.Config, client azure.HTTPClient, log zerolog.Logger) (Provider, error) {
	switch strings.ToLower(cfg.REST.Provider) {
	case "ses":
		return NewSES(ctx, SESConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Endpoint:        cfg.SES.Endpoint,
		})
	case "stdout":
		return NewStdout(), nil
	default:
		tokens, err := azure.NewTokenManager(azure.Credentials{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
		}, azure.ScopeCommunication, cfg.REST.Timeout)
		if err != nil {
			return nil, err
		}
		return NewACSEmail(ACSEmailConfig{
			Endpoint:     cfg.ACS.EmailEndpoint,
			APIVersion:   cfg.ACS.APIVersion,
			PollInterval: cfg.ACS.PollInterval,
			PollTimeout:  cfg.ACS.PollTimeout,
		}, client, tokens, log)
	}
}

func relayConfig(name string, rc config.RelayConfig) SMTPConfig {
	return SMTPConfig{
		Name:               name,
		Host:               rc.Host,
		Port:               rc.Port,
		Username:           rc.Username,
		Password:           rc.Password,
		Auth:               rc.Auth,
		InsecureSkipVerify: rc.InsecureSkipVerify,
		Timeout:            rc.Timeout,
	}
}
