// Package config loads runtime settings from the environment and optional
// .env files.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/mailer"
)

var (
	// ErrParsingConfig the environment could not be mapped into Config
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	// ErrLoadingEnvFile an explicitly requested .env file could not be read
	ErrLoadingEnvFile = errors.New("failed to load env file")
)

// Database connection settings
type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"file:account.db?cache=shared&_fk=1"`
	Debug  bool   `env:"DEBUG" envDefault:"false"`
}

// Redis session store settings. An empty URL selects the memory store.
type Redis struct {
	URL    string        `env:"URL"`
	Prefix string        `env:"PREFIX" envDefault:"account:session:"`
	TTL    time.Duration `env:"TTL" envDefault:"24h"`
}

// Postmark transport settings. An empty server token disables delivery.
type Postmark struct {
	ServerToken  string `env:"SERVER_TOKEN"`
	AccountToken string `env:"ACCOUNT_TOKEN"`
	SenderEmail  string `env:"SENDER_EMAIL" envDefault:"noreply@example.com"`
	ReplyTo      string `env:"REPLY_TO"`
	Tag          string `env:"TAG" envDefault:"account"`
}

// Account service settings
type Account struct {
	BaseURL                   string        `env:"BASE_URL" envDefault:"http://localhost:8000"`
	VerifyPath                string        `env:"VERIFY_PATH" envDefault:"/api/verify_email"`
	ResetPath                 string        `env:"RESET_PATH" envDefault:"/api/reset_password"`
	RequireEmailConfirmation  bool          `env:"REQUIRE_EMAIL_CONFIRMATION" envDefault:"true"`
	BlockErasedReregistration bool          `env:"BLOCK_ERASED_REREGISTRATION" envDefault:"true"`
	ErasedEmailDomain         string        `env:"ERASED_EMAIL_DOMAIN" envDefault:"example.com"`
	TokenTTL                  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	PasswordMinLength         int           `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	PhoneRegion               string        `env:"PHONE_REGION" envDefault:"US"`
	BcryptCost                int           `env:"BCRYPT_COST" envDefault:"12"`
	HashidIDs                 bool          `env:"HASHID_IDS" envDefault:"false"`
}

// Config is the full runtime configuration
type Config struct {
	LogLevel string   `env:"LOG_LEVEL" envDefault:"info"`
	Database Database `envPrefix:"DATABASE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Postmark Postmark `envPrefix:"POSTMARK_"`
	Account  Account  `envPrefix:"ACCOUNT_"`
}

// Load reads the given .env files, or ./.env when none are given and it
// exists, then parses the process environment.
func Load(paths ...string) (*Config, error) {
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			return nil, errors.Join(ErrLoadingEnvFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// LoadFromMap parses cfg from vars instead of the process environment.
func LoadFromMap(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad panics when the configuration cannot be loaded
func MustLoad(paths ...string) *Config {
	cfg, err := Load(paths...)
	if err != nil {
		panic(err)
	}
	return cfg
}

// AccountOptions maps the settings onto account.Accounts options.
func (c *Config) AccountOptions() []account.Option {
	a := c.Account
	opts := []account.Option{
		account.WithBaseURL(a.BaseURL),
		account.WithVerifyPath(a.VerifyPath),
		account.WithResetPath(a.ResetPath),
		account.WithRequireEmailConfirmation(a.RequireEmailConfirmation),
		account.WithBlockErasedReregistration(a.BlockErasedReregistration),
		account.WithErasedEmailDomain(a.ErasedEmailDomain),
		account.WithTokenTTL(a.TokenTTL),
		account.WithPasswordHasher(account.NewBcryptHasher(a.BcryptCost)),
	}
	if a.HashidIDs {
		opts = append(opts, account.WithHashidIDs())
	}
	return opts
}

// ValidatorOptions maps the password and phone settings.
func (c *Config) ValidatorOptions() []account.ValidatorOption {
	return []account.ValidatorOption{
		account.WithPasswordLength(c.Account.PasswordMinLength, account.DefaultPasswordMaxLength),
		account.WithPhoneRegion(c.Account.PhoneRegion),
	}
}

// MailerEnabled reports whether a Postmark token is configured.
func (c *Config) MailerEnabled() bool {
	return c.Postmark.ServerToken != ""
}

// MailerConfig maps the Postmark settings.
func (c *Config) MailerConfig() mailer.Config {
	return mailer.Config{
		ServerToken:  c.Postmark.ServerToken,
		AccountToken: c.Postmark.AccountToken,
		SenderEmail:  c.Postmark.SenderEmail,
		ReplyTo:      c.Postmark.ReplyTo,
		Tag:          c.Postmark.Tag,
	}
}
