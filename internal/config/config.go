package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	AllowList   AllowListConfig   `mapstructure:"allowlist"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Cognitive   CognitiveConfig   `mapstructure:"cognitive"`
	Azure       AzureConfig       `mapstructure:"azure"`
	REST        RESTConfig        `mapstructure:"rest"`
	ACS         ACSConfig         `mapstructure:"acs"`
	SES         SESConfig         `mapstructure:"ses"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	TrustForwardedFor bool          `mapstructure:"trust_forwarded_for"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"` // stdout or file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxFiles   int    `mapstructure:"max_files"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AllowListConfig holds the raw comma-separated host list.
type AllowListConfig struct {
	Hosts         string        `mapstructure:"hosts"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// DefaultsConfig holds the addresses used when a request does not supply them.
type DefaultsConfig struct {
	Sender    string `mapstructure:"sender"`
	Recipient string `mapstructure:"recipient"`
	ReplyTo   string `mapstructure:"reply_to"`
}

// CognitiveConfig holds the Azure AI services settings shared by the
// PII, content safety and text generation backends.
type CognitiveConfig struct {
	Endpoint                string        `mapstructure:"endpoint"`
	Key                     string        `mapstructure:"key"`
	Model                   string        `mapstructure:"model"`
	LanguageEndpoint        string        `mapstructure:"language_endpoint"`
	ContentSafetyEndpoint   string        `mapstructure:"content_safety_endpoint"`
	LanguageAPIVersion      string        `mapstructure:"language_api_version"`
	ContentSafetyAPIVersion string        `mapstructure:"content_safety_api_version"`
	OpenAIAPIVersion        string        `mapstructure:"openai_api_version"`
	MaxTokens               int           `mapstructure:"max_tokens"`
	Timeout                 time.Duration `mapstructure:"timeout"`
}

// AzureConfig holds Entra ID client credentials used for ACS Email and
// the management plane.
type AzureConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// RESTConfig selects the backend for the REST endpoint: acs, ses or stdout.
type RESTConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ACSConfig holds Azure Communication Services Email settings.
type ACSConfig struct {
	EmailEndpoint string        `mapstructure:"email_endpoint"`
	APIVersion    string        `mapstructure:"api_version"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

// SESConfig holds Amazon SES v2 settings.
type SESConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// SMTPConfig holds both SMTP relays.
type SMTPConfig struct {
	ACS      RelayConfig `mapstructure:"acs"`
	Exchange RelayConfig `mapstructure:"exchange"`
}

// RelayConfig holds settings for one SMTP submission relay.
type RelayConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Auth               string        `mapstructure:"auth"` // login or plain
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// UnsubscribeConfig identifies the suppression list unsubscribe links write to.
type UnsubscribeConfig struct {
	Subscription       string `mapstructure:"subscription"`
	ResourceGroup      string `mapstructure:"resource_group"`
	EmailService       string `mapstructure:"email_service"`
	Domain             string `mapstructure:"domain"`
	SuppressionList    string `mapstructure:"suppression_list"`
	ManagementEndpoint string `mapstructure:"management_endpoint"`
	APIVersion         string `mapstructure:"api_version"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig holds the per-caller daily send limit. Zero disables it.
type RateLimitConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// ArchiveConfig selects where rendered messages are archived: none, local or s3.
type ArchiveConfig struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

const envPrefix = "MAIL_DISPATCH"

// legacyEnv maps config keys to the environment variable names used by
// existing deployments. The prefixed name is always checked first.
var legacyEnv = map[string]string{
	"allowlist.hosts":              "ALLOWED_HOSTS",
	"acs.email_endpoint":           "ACS_EMAIL_ENDPOINT",
	"cognitive.endpoint":           "AZURE_OPENAI_ENDPOINT",
	"cognitive.key":                "AZURE_OPENAI_KEY",
	"cognitive.model":              "AZURE_OPENAI_MODEL",
	"smtp.acs.host":                "ACS_SMTP_ENDPOINT",
	"smtp.acs.port":                "ACS_SMTP_PORT",
	"smtp.acs.username":            "ACS_SMTP_USERNAME",
	"smtp.acs.password":            "ACS_SMTP_PASSWORD",
	"smtp.exchange.host":           "EXCHANGE_SMTP_ENDPOINT",
	"smtp.exchange.port":           "EXCHANGE_SMTP_PORT",
	"smtp.exchange.username":       "EXCHANGE_SMTP_USERNAME",
	"smtp.exchange.password":       "EXCHANGE_SMTP_PASSWORD",
	"defaults.sender":              "DEFAULT_SENDER",
	"defaults.recipient":           "DEFAULT_RECIPIENT",
	"unsubscribe.subscription":     "UNSUB_SUBSCRIPTION",
	"unsubscribe.resource_group":   "UNSUB_RESOURCE_GROUP",
	"unsubscribe.email_service":    "UNSUB_EMAIL_SERVICE",
	"unsubscribe.domain":           "UNSUB_DOMAIN",
	"unsubscribe.suppression_list": "UNSUB_SUPPRESSION_LIST",
	"azure.tenant_id":              "AZURE_TENANT_ID",
	"azure.client_id":              "AZURE_CLIENT_ID",
	"azure.client_secret":          "AZURE_CLIENT_SECRET",
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix MAIL_DISPATCH_ override file values,
// for example MAIL_DISPATCH_ALLOWLIST_HOSTS overrides allowlist.hosts.
// The legacy names in legacyEnv are honored when the prefixed one is unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
