package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from env (optionally layered over a config.yaml next to the binary).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Voice     VoiceConfig
	Billing   BillingConfig
	Tenants   TenantsConfig
	Telemetry TelemetryConfig
}

type AppConfig struct {
	Env  string
	Port int
	// AutoMigrate applies embedded migrations on startup (local/dev convenience).
	AutoMigrate bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// ValidateSignature turns on X-Twilio-Signature checks for webhook routes.
	ValidateSignature bool
	// PublicBaseURL is the externally visible origin Twilio signs against, e.g. https://api.example.com.
	PublicBaseURL string
}

type VoiceConfig struct {
	// MediaStreamURL is a template containing {call_id}.
	MediaStreamURL  string
	DefaultGreeting string
}

type BillingConfig struct {
	FlatCallRate decimal.Decimal
	Currency     string
}

type TenantsConfig struct {
	// CacheTTL of zero (the default) disables the Redis snapshot cache. When
	// enabled, changes made outside the call path (plan changes, deprovisioning,
	// number moves) can take up to CacheTTL to be seen.
	CacheTTL time.Duration
}

type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	ServiceName   string
	SamplingRatio float64
	Insecure      bool
}

const mediaStreamPlaceholder = "{call_id}"

// Load reads configuration from the environment.
// Keys map to env names by upper-casing and replacing "." with "_" (db.host -> DB_HOST).
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	c := fromViper(v)

	var parseErrs []error
	rate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("billing.flat_call_rate")))
	if err != nil {
		parseErrs = append(parseErrs, fmt.Errorf("BILLING_FLAT_CALL_RATE must be a decimal, got %q", v.GetString("billing.flat_call_rate")))
	}
	c.Billing.FlatCallRate = rate

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.auto_migrate", false)
	v.SetDefault("redis.db", 0)
	v.SetDefault("twilio.validate_signature", false)
	v.SetDefault("voice.default_greeting", "Hello! Thank you for calling. Please hold while we connect you.")
	v.SetDefault("billing.flat_call_rate", "2.00")
	v.SetDefault("billing.currency", "USD")
	v.SetDefault("tenant.cache_ttl", "0s")
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.exporter_otlp_endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "voicegate")
	v.SetDefault("otel.sampling_ratio", 1.0)
	v.SetDefault("otel.insecure", true)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		App: AppConfig{
			Env:         strings.TrimSpace(v.GetString("app.env")),
			Port:        v.GetInt("app.port"),
			AutoMigrate: v.GetBool("app.auto_migrate"),
		},
		DB: DBConfig{
			Host:     strings.TrimSpace(v.GetString("db.host")),
			Port:     v.GetInt("db.port"),
			User:     strings.TrimSpace(v.GetString("db.user")),
			Password: v.GetString("db.password"),
			Name:     strings.TrimSpace(v.GetString("db.name")),
			SSLMode:  strings.TrimSpace(v.GetString("db.sslmode")),
		},
		Redis: RedisConfig{
			Host:     strings.TrimSpace(v.GetString("redis.host")),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret:       v.GetString("jwt.secret"),
			JWTIssuer:       strings.TrimSpace(v.GetString("jwt.issuer")),
			JWTAudience:     strings.TrimSpace(v.GetString("jwt.audience")),
			AccessTokenTTL:  v.GetDuration("jwt.access_ttl"),
			RefreshTokenTTL: v.GetDuration("jwt.refresh_ttl"),
		},
		Twilio: TwilioConfig{
			AccountSID:        strings.TrimSpace(v.GetString("twilio.account_sid")),
			AuthToken:         v.GetString("twilio.auth_token"),
			ValidateSignature: v.GetBool("twilio.validate_signature"),
			PublicBaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("twilio.public_base_url")), "/"),
		},
		Voice: VoiceConfig{
			MediaStreamURL:  strings.TrimSpace(v.GetString("media.stream_url")),
			DefaultGreeting: v.GetString("voice.default_greeting"),
		},
		Billing: BillingConfig{
			Currency: strings.ToUpper(strings.TrimSpace(v.GetString("billing.currency"))),
		},
		Tenants: TenantsConfig{
			CacheTTL: v.GetDuration("tenant.cache_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:       v.GetBool("otel.enabled"),
			Endpoint:      strings.TrimSpace(v.GetString("otel.exporter_otlp_endpoint")),
			ServiceName:   strings.TrimSpace(v.GetString("otel.service_name")),
			SamplingRatio: v.GetFloat64("otel.sampling_ratio"),
			Insecure:      v.GetBool("otel.insecure"),
		},
	}
}

// Validate checks required values and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL is required when TWILIO_VALIDATE_SIGNATURE is set"))
		}
	}

	if c.Voice.MediaStreamURL == "" {
		errs = append(errs, errors.New("MEDIA_STREAM_URL is required"))
	} else if !strings.Contains(c.Voice.MediaStreamURL, mediaStreamPlaceholder) {
		errs = append(errs, fmt.Errorf("MEDIA_STREAM_URL must contain %s, got %q", mediaStreamPlaceholder, c.Voice.MediaStreamURL))
	} else if !strings.HasPrefix(c.Voice.MediaStreamURL, "wss://") && !strings.HasPrefix(c.Voice.MediaStreamURL, "ws://") {
		errs = append(errs, fmt.Errorf("MEDIA_STREAM_URL must be a ws:// or wss:// url, got %q", c.Voice.MediaStreamURL))
	}

	if c.Billing.FlatCallRate.IsNegative() {
		errs = append(errs, fmt.Errorf("BILLING_FLAT_CALL_RATE must not be negative, got %s", c.Billing.FlatCallRate))
	}
	if len(c.Billing.Currency) != 3 {
		errs = append(errs, fmt.Errorf("BILLING_CURRENCY must be an ISO 4217 code, got %q", c.Billing.Currency))
	}

	if c.Tenants.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("TENANT_CACHE_TTL must not be negative, got %s", c.Tenants.CacheTTL))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is set"))
		}
		if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
			errs = append(errs, fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %v", c.Telemetry.SamplingRatio))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// PostgresURL is the URL form golang-migrate expects.
func (c Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
