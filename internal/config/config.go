package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port          string   `env:"PORT" envDefault:"8080"`
	PublicBaseURL string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres" validate:"oneof=postgres sqlite"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"clubhub"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"clubhub.db"`

	// Token settings
	JWTSecret             string `env:"JWT_SECRET" envDefault:"supersecret_change_me" validate:"required,min=8"`
	RefreshJWTSecret      string `env:"REFRESH_JWT_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"15" validate:"gt=0"`
	RefreshTokenTTLDays   int    `env:"REFRESH_TOKEN_TTL_DAYS" envDefault:"30" validate:"gt=0"`
	SessionCookieName     string `env:"SESSION_COOKIE_NAME" envDefault:"clubhub_session"`
	SessionCookieSecure   bool   `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@example.com"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"admin123"`
	AdminFullName string `env:"ADMIN_FULL_NAME" envDefault:"Administrator"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`

	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"local" validate:"oneof=local azblob"`
	StorageRoot           string `env:"STORAGE_ROOT" envDefault:"./data"`
	AzureConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	AzureContainer        string `env:"AZURE_STORAGE_CONTAINER" envDefault:"clubhub"`
	AzurePublicURL        string `env:"AZURE_STORAGE_PUBLIC_URL"`

	PayPalClientID  string `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret    string `env:"PAYPAL_SECRET"`
	PayPalMode      string `env:"PAYPAL_MODE" envDefault:"sandbox" validate:"oneof=sandbox live"`
	PayPalPlanID    string `env:"PAYPAL_PLAN_ID"`
	PayPalWebhookID string `env:"PAYPAL_WEBHOOK_ID"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@clubhub.local"`

	DeployWorkers         int    `env:"DEPLOY_WORKERS" envDefault:"2" validate:"gt=0"`
	DeployPollSeconds     int    `env:"DEPLOY_POLL_SECONDS" envDefault:"5" validate:"gt=0"`
	DeployTimeoutMinutes  int    `env:"DEPLOY_TIMEOUT_MINUTES" envDefault:"20" validate:"gt=0"`
	VercelToken           string `env:"VERCEL_TOKEN"`
	VercelTeamID          string `env:"VERCEL_TEAM_ID"`
	NetlifyToken          string `env:"NETLIFY_TOKEN"`
	RenderAPIKey          string `env:"RENDER_API_KEY"`
	LatestTemplateVersion string `env:"LATEST_TEMPLATE_VERSION" envDefault:"1.0.0"`
	SiteImage             string `env:"SITE_IMAGE" envDefault:"ghcr.io/clubhub/club-site:latest"`

	CronBackup      string `env:"CRON_BACKUP" envDefault:"0 3 * * *"`
	CronUpdateCheck string `env:"CRON_UPDATE_CHECK" envDefault:"30 4 * * *"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.RefreshJWTSecret == "" {
		cfg.RefreshJWTSecret = cfg.JWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StorageBackend == "azblob" && strings.TrimSpace(c.AzureConnectionString) == "" {
		return fmt.Errorf("invalid configuration: AZURE_STORAGE_CONNECTION_STRING is required for azblob storage")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

func (c *Config) DeployPollInterval() time.Duration {
	return time.Duration(c.DeployPollSeconds) * time.Second
}

func (c *Config) DeployTimeout() time.Duration {
	return time.Duration(c.DeployTimeoutMinutes) * time.Minute
}
