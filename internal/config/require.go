package config

import (
	"strconv"
	"strings"
)

// Requirement sets for each endpoint. Keys use the legacy environment names
// so operators see the variable they need to set.
var (
	RESTACSKeys     = []string{"ALLOWED_HOSTS", "ACS_EMAIL_ENDPOINT", "AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET"}
	RESTSESKeys     = []string{"ALLOWED_HOSTS", "SES_REGION"}
	RESTStdoutKeys  = []string{"ALLOWED_HOSTS"}
	ACSSMTPKeys     = []string{"ALLOWED_HOSTS", "ACS_SMTP_ENDPOINT", "ACS_SMTP_PORT", "ACS_SMTP_USERNAME", "ACS_SMTP_PASSWORD"}
	ExchangeKeys    = []string{"ALLOWED_HOSTS", "EXCHANGE_SMTP_ENDPOINT", "EXCHANGE_SMTP_PORT", "EXCHANGE_SMTP_USERNAME", "EXCHANGE_SMTP_PASSWORD", "DEFAULT_SENDER", "DEFAULT_RECIPIENT", "UNSUB_SUBSCRIPTION", "UNSUB_RESOURCE_GROUP", "UNSUB_EMAIL_SERVICE", "UNSUB_DOMAIN", "UNSUB_SUPPRESSION_LIST"}
	UnsubscribeKeys = []string{"UNSUB_SUBSCRIPTION", "UNSUB_RESOURCE_GROUP", "UNSUB_EMAIL_SERVICE", "UNSUB_DOMAIN", "UNSUB_SUPPRESSION_LIST", "AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET"}
)

// RESTKeys returns the requirement set for the configured REST provider.
func (c *Config) RESTKeys() []string {
	switch strings.ToLower(c.REST.Provider) {
	case "ses":
		return RESTSESKeys
	case "stdout":
		return RESTStdoutKeys
	default:
		return RESTACSKeys
	}
}

// Missing returns the keys among the given ones whose value is unset.
// Ports count as unset unless they are positive. Unknown keys are
// reported as missing.
func (c *Config) Missing(keys ...string) []string {
	values := c.values()
	var missing []string
	for _, k := range keys {
		v, ok := values[k]
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

func (c *Config) values() map[string]string {
	return map[string]string{
		"ALLOWED_HOSTS":          c.AllowList.Hosts,
		"ACS_EMAIL_ENDPOINT":     c.ACS.EmailEndpoint,
		"AZURE_OPENAI_ENDPOINT":  c.Cognitive.Endpoint,
		"AZURE_OPENAI_KEY":       c.Cognitive.Key,
		"AZURE_OPENAI_MODEL":     c.Cognitive.Model,
		"AZURE_TENANT_ID":        c.Azure.TenantID,
		"AZURE_CLIENT_ID":        c.Azure.ClientID,
		"AZURE_CLIENT_SECRET":    c.Azure.ClientSecret,
		"SES_REGION":             c.SES.Region,
		"ACS_SMTP_ENDPOINT":      c.SMTP.ACS.Host,
		"ACS_SMTP_PORT":          port(c.SMTP.ACS.Port),
		"ACS_SMTP_USERNAME":      c.SMTP.ACS.Username,
		"ACS_SMTP_PASSWORD":      c.SMTP.ACS.Password,
		"EXCHANGE_SMTP_ENDPOINT": c.SMTP.Exchange.Host,
		"EXCHANGE_SMTP_PORT":     port(c.SMTP.Exchange.Port),
		"EXCHANGE_SMTP_USERNAME": c.SMTP.Exchange.Username,
		"EXCHANGE_SMTP_PASSWORD": c.SMTP.Exchange.Password,
		"DEFAULT_SENDER":         c.Defaults.Sender,
		"DEFAULT_RECIPIENT":      c.Defaults.Recipient,
		"UNSUB_SUBSCRIPTION":     c.Unsubscribe.Subscription,
		"UNSUB_RESOURCE_GROUP":   c.Unsubscribe.ResourceGroup,
		"UNSUB_EMAIL_SERVICE":    c.Unsubscribe.EmailService,
		"UNSUB_DOMAIN":           c.Unsubscribe.Domain,
		"UNSUB_SUPPRESSION_LIST": c.Unsubscribe.SuppressionList,
	}
}

func port(p int) string {
	if p <= 0 {
		return ""
	}
	return strconv.Itoa(p)
}
