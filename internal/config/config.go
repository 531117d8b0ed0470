package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "QUOTEFLOW"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "quoteflow.db"
	defaultAppBaseURL      = "http://localhost:5173"
	defaultLogLevel        = "info"
	defaultLinkTTLDays     = 7
	defaultSyncBatchSize   = 100
	defaultSyncIntervalMin = 0
	defaultStaleMinutes    = 60
	defaultRetentionDays   = 30
	defaultCatalogTimeout  = 15
	defaultWebhookTimeout  = 10
	defaultSMTPPort        = 587
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabaseDSN    string
	AppBaseURL     string
	SigningSecret  string
	LogLevel       string

	SignatureLinkTTL time.Duration

	CatalogBaseURL        string
	CatalogConsumerKey    string
	CatalogConsumerSecret string
	CatalogTimeout        time.Duration

	SyncBatchSize  int
	SyncInterval   time.Duration
	StaleThreshold time.Duration
	RetentionDays  int

	EmailEnabled     bool
	EmailFrom        string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	ProductionEmails []string

	WebhookSignedURL   string
	WebhookRejectedURL string
	WebhookTimeout     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("app.base_url", defaultAppBaseURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("signature.link_ttl_days", defaultLinkTTLDays)
	configViper.SetDefault("catalog.timeout_seconds", defaultCatalogTimeout)
	configViper.SetDefault("sync.batch_size", defaultSyncBatchSize)
	configViper.SetDefault("sync.interval_minutes", defaultSyncIntervalMin)
	configViper.SetDefault("sync.stale_minutes", defaultStaleMinutes)
	configViper.SetDefault("retention.days", defaultRetentionDays)
	configViper.SetDefault("email.enabled", false)
	configViper.SetDefault("email.smtp_port", defaultSMTPPort)
	configViper.SetDefault("webhook.timeout_seconds", defaultWebhookTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: configViper.GetString("database.driver"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		AppBaseURL:     strings.TrimRight(configViper.GetString("app.base_url"), "/"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		LogLevel:       configViper.GetString("log.level"),

		SignatureLinkTTL: time.Duration(configViper.GetInt("signature.link_ttl_days")) * 24 * time.Hour,

		CatalogBaseURL:        configViper.GetString("catalog.base_url"),
		CatalogConsumerKey:    configViper.GetString("catalog.consumer_key"),
		CatalogConsumerSecret: configViper.GetString("catalog.consumer_secret"),
		CatalogTimeout:        time.Duration(configViper.GetInt("catalog.timeout_seconds")) * time.Second,

		SyncBatchSize:  configViper.GetInt("sync.batch_size"),
		SyncInterval:   time.Duration(configViper.GetInt("sync.interval_minutes")) * time.Minute,
		StaleThreshold: time.Duration(configViper.GetInt("sync.stale_minutes")) * time.Minute,
		RetentionDays:  configViper.GetInt("retention.days"),

		EmailEnabled:     configViper.GetBool("email.enabled"),
		EmailFrom:        configViper.GetString("email.from"),
		SMTPHost:         configViper.GetString("email.smtp_host"),
		SMTPPort:         configViper.GetInt("email.smtp_port"),
		SMTPUser:         configViper.GetString("email.smtp_user"),
		SMTPPassword:     configViper.GetString("email.smtp_password"),
		ProductionEmails: splitList(configViper.GetString("email.production_emails")),

		WebhookSignedURL:   configViper.GetString("webhook.signed_url"),
		WebhookRejectedURL: configViper.GetString("webhook.rejected_url"),
		WebhookTimeout:     time.Duration(configViper.GetInt("webhook.timeout_seconds")) * time.Second,
	}

	if cfg.WebhookRejectedURL == "" {
		cfg.WebhookRejectedURL = cfg.WebhookSignedURL
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.SignatureLinkTTL <= 0 {
		return fmt.Errorf("signature.link_ttl_days must be positive")
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.EmailEnabled && strings.TrimSpace(c.SMTPHost) == "" {
		return fmt.Errorf("email.smtp_host is required when email is enabled")
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
