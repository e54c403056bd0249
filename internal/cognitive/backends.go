package cognitive

import (
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/azure"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/policy"
)

// NewBackends builds every backend the configuration supports. A backend
// whose settings are incomplete is left nil so the policy stage fails
// closed for modes that need it.
func NewBackends(cfg config.CognitiveConfig, client azure.HTTPClient, log zerolog.Logger) policy.Backends {
	var b policy.Backends

	language := Credentials{Endpoint: firstNonEmpty(cfg.LanguageEndpoint, cfg.Endpoint), Key: cfg.Key}
	if c, err := NewPIIClient(language, cfg.LanguageAPIVersion, client); err == nil {
		b.PII = c
	} else {
		log.Info().Err(err).Msg("PII backend disabled")
	}

	safety := Credentials{Endpoint: firstNonEmpty(cfg.ContentSafetyEndpoint, cfg.Endpoint), Key: cfg.Key}
	if c, err := NewContentSafetyClient(safety, cfg.ContentSafetyAPIVersion, client); err == nil {
		b.Harm = c
	} else {
		log.Info().Err(err).Msg("content safety backend disabled")
	}

	gen, err := NewOpenAIClient(OpenAIConfig{
		Credentials: Credentials{Endpoint: cfg.Endpoint, Key: cfg.Key},
		Model:       cfg.Model,
		APIVersion:  cfg.OpenAIAPIVersion,
		MaxTokens:   cfg.MaxTokens,
	}, client)
	if err == nil {
		b.Generator = gen
	} else {
		log.Info().Err(err).Msg("text generation backend disabled")
	}

	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
