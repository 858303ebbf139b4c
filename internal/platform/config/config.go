// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	liststrings "authgate/pkg/platform/strings"
)

// MinSecretBytes is the shortest accepted token signing secret.
const MinSecretBytes = 32

type Config struct {
	Server   Server   `envPrefix:"SERVER_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Google   Google   `envPrefix:"GOOGLE_"`
	Database Database `envPrefix:"DATABASE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Mail     Mail     `envPrefix:"MAIL_"`
	Audit    Audit    `envPrefix:"AUDIT_"`
	Metrics  Metrics  `envPrefix:"METRICS_"`
	Log      Log      `envPrefix:"LOG_"`
}

type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	AppURL          string        `env:"APP_URL" envDefault:"http://localhost:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"true"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
}

type Auth struct {
	Secret               string        `env:"SECRET"`
	Issuer               string        `env:"ISSUER" envDefault:"authgate"`
	AccessTTL            time.Duration `env:"ACCESS_TTL" envDefault:"30m"`
	RefreshTTL           time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	EmailVerificationTTL time.Duration `env:"EMAIL_VERIFICATION_TTL" envDefault:"15m"`
	RefreshCookieName    string        `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`
}

type Google struct {
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	RedirectURL  string        `env:"REDIRECT_URL"`
	AuthURL      string        `env:"AUTH_URL"`
	TokenURL     string        `env:"TOKEN_URL"`
	JWKSURL      string        `env:"JWKS_URL"`
	Issuers      []string      `env:"ISSUERS" envSeparator:","`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"1h"`

	// BreakerThreshold consecutive provider outages open the circuit for
	// BreakerCooldown.
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// Enabled reports whether Google sign-in is configured.
func (g Google) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// Database with an empty URL selects the in-memory stores.
type Database struct {
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// Redis with an empty URL selects the in-memory denylist.
type Redis struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// Mail with no brokers selects the log dispatcher.
type Mail struct {
	Brokers          []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic            string   `env:"TOPIC" envDefault:"auth.mail.verification"`
	TopicPartitions  int32    `env:"TOPIC_PARTITIONS" envDefault:"3"`
	TopicReplication int16    `env:"TOPIC_REPLICATION" envDefault:"1"`
	QueueSize        int      `env:"QUEUE_SIZE" envDefault:"256"`
}

type Audit struct {
	BufferSize int `env:"BUFFER_SIZE" envDefault:"1024"`
}

type Metrics struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses the environment (variables prefixed AUTHGATE_) and validates
// the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUTHGATE_"}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Server.AppURL = strings.TrimRight(c.Server.AppURL, "/")
	c.Google.Issuers = liststrings.DedupeAndTrim(c.Google.Issuers)
	c.Mail.Brokers = liststrings.DedupeAndTrim(c.Mail.Brokers)
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = c.Server.AppURL + "/api/v1/auth/google/callback"
	}
}

// Validate checks the settings the process cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.Auth.Secret) < MinSecretBytes {
		errs = append(errs, fmt.Errorf("AUTH_SECRET must be at least %d bytes", MinSecretBytes))
	}
	for name, ttl := range map[string]time.Duration{
		"AUTH_ACCESS_TTL":             c.Auth.AccessTTL,
		"AUTH_REFRESH_TTL":            c.Auth.RefreshTTL,
		"AUTH_EMAIL_VERIFICATION_TTL": c.Auth.EmailVerificationTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if c.Mail.QueueSize <= 0 {
		errs = append(errs, errors.New("MAIL_QUEUE_SIZE must be positive"))
	}
	if c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("AUDIT_BUFFER_SIZE must be positive"))
	}
	return errors.Join(errs...)
}
