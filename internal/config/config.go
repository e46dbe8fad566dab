// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/and161185/leaseflow/internal/service"
)

// Config is the server configuration.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9090"`
	GRPCReflection  bool          `env:"GRPC_REFLECTION"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	TLSCert         string        `env:"TLS_CERT"`
	TLSKey          string        `env:"TLS_KEY"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTKey          string        `env:"JWT_KEY,required,notEmpty"`
	SigningKey      string        `env:"SIGNING_KEY,required,notEmpty"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	OTP      OTP      `envPrefix:"OTP_"`
	Signing  Signing  `envPrefix:"SIGNING_"`
	SMS      SMS      `envPrefix:"SMS_"`
	SMTP     SMTP     `envPrefix:"SMTP_"`
	Dispatch Dispatch `envPrefix:"DISPATCH_"`
}

// OTP tunes one-time code issuance.
type OTP struct {
	CodeLength        int           `env:"CODE_LENGTH" envDefault:"6"`
	Expiry            time.Duration `env:"EXPIRY" envDefault:"10m"`
	MaxPerWindow      int           `env:"MAX_PER_WINDOW" envDefault:"3"`
	Window            time.Duration `env:"WINDOW" envDefault:"1h"`
	MaxVerifyAttempts int           `env:"MAX_VERIFY_ATTEMPTS" envDefault:"3"`
	VerifiedValidity  time.Duration `env:"VERIFIED_VALIDITY" envDefault:"30m"`
}

// Signing tunes signing links.
type Signing struct {
	LinkExpiry    time.Duration `env:"LINK_EXPIRY" envDefault:"72h"`
	DefaultMethod string        `env:"DEFAULT_METHOD" envDefault:"both"`
}

// SMS configures the Africa's Talking gateway. An empty API key logs instead of sending.
type SMS struct {
	APIKey   string `env:"API_KEY"`
	Username string `env:"USERNAME"`
	Sender   string `env:"SENDER"`
	APIURL   string `env:"API_URL"`
}

// SMTP configures outbound e-mail. An empty address logs instead of sending.
type SMTP struct {
	Addr     string `env:"ADDR"`
	From     string `env:"FROM"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// Dispatch tunes notification retries.
type Dispatch struct {
	Attempts int             `env:"ATTEMPTS" envDefault:"3"`
	Backoff  []time.Duration `env:"BACKOFF" envDefault:"10s,30s,60s" envSeparator:","`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var problems []error
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		problems = append(problems, errors.New("OTP_CODE_LENGTH must be between 4 and 10"))
	}
	if c.OTP.Expiry <= 0 || c.OTP.Window <= 0 {
		problems = append(problems, errors.New("OTP_EXPIRY and OTP_WINDOW must be positive"))
	}
	if c.OTP.MaxPerWindow < 1 || c.OTP.MaxVerifyAttempts < 1 {
		problems = append(problems, errors.New("OTP limits must be at least 1"))
	}
	if c.Signing.LinkExpiry <= 0 {
		problems = append(problems, errors.New("SIGNING_LINK_EXPIRY must be positive"))
	}
	if _, err := service.ParseMethod(c.Signing.DefaultMethod); err != nil {
		problems = append(problems, fmt.Errorf("SIGNING_DEFAULT_METHOD: %w", err))
	}
	if c.Dispatch.Attempts < 1 || len(c.Dispatch.Backoff) == 0 {
		problems = append(problems, errors.New("DISPATCH_ATTEMPTS and DISPATCH_BACKOFF must be set"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		problems = append(problems, errors.New("TLS_CERT and TLS_KEY must be set together"))
	}
	return errors.Join(problems...)
}

// OTPConfig converts to the service configuration.
func (c Config) OTPConfig() service.OTPConfig {
	return service.OTPConfig{
		CodeLength:        c.OTP.CodeLength,
		Expiry:            c.OTP.Expiry,
		MaxPerWindow:      c.OTP.MaxPerWindow,
		Window:            c.OTP.Window,
		MaxVerifyAttempts: c.OTP.MaxVerifyAttempts,
		VerifiedValidity:  c.OTP.VerifiedValidity,
	}
}

// SigningConfig converts to the service configuration.
func (c Config) SigningConfig() service.SigningConfig {
	m, _ := service.ParseMethod(c.Signing.DefaultMethod)
	return service.SigningConfig{LinkExpiry: c.Signing.LinkExpiry, DefaultMethod: m}
}
