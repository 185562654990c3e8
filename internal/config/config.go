// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "config.toml"

var (
	configFile   = DefaultConfigFile
	configSource = altsrc.NewStringPtrSourcer(&configFile)
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Log          LogConfig
	Database     DatabaseConfig
	SMTP         SMTPConfig
	Verification VerificationConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Configured reports whether enough SMTP settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

type VerificationConfig struct { //nolint:govet // fieldalignment not critical for config structs
	CodeTTL          time.Duration // lifetime written to expires_at
	CodeLength       int           // digits in generated codes
	EnforceExpiry    bool          // reject codes past expires_at
	ConsumeOnSuccess bool          // delete a code once it verified
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Verification: VerificationConfig{
			CodeTTL:          cmd.Duration("code-ttl"),
			CodeLength:       int(cmd.Int("code-length")),
			EnforceExpiry:    cmd.Bool("enforce-expiry"),
			ConsumeOnSuccess: cmd.Bool("consume-on-success"),
		},
	}

	applyVerificationDefaults(&cfg.Verification)

	return cfg
}

// applyVerificationDefaults replaces non-positive values with the defaults.
func applyVerificationDefaults(cfg *VerificationConfig) {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
}

// sources creates a value source chain combining an env var and a TOML key.
func sources(envKey, tomlKey string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(envKey), toml.TOML(tomlKey, configSource))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       DefaultConfigFile,
			Usage:       "Path to configuration file",
			Destination: &configFile,
			Sources:     cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: sources("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: sources("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/verification.db",
			Usage:   "SQLite database DSN",
			Sources: sources("DATABASE_DSN", "database.dsn"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host (codes are only logged when empty)",
			Sources: sources("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: sources("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: sources("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: sources("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address for verification mails",
			Sources: sources("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: sources("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS (implicit on port 465, STARTTLS otherwise)",
			Sources: sources("SMTP_TLS", "smtp.tls"),
		},
		// Verification flags
		&cli.DurationFlag{
			Name:    "code-ttl",
			Value:   5 * time.Minute,
			Usage:   "Lifetime stored with each verification code",
			Sources: sources("CODE_TTL", "verification.code_ttl"),
		},
		&cli.IntFlag{
			Name:    "code-length",
			Value:   6,
			Usage:   "Number of digits in generated codes",
			Sources: sources("CODE_LENGTH", "verification.code_length"),
		},
		&cli.BoolFlag{
			Name:    "enforce-expiry",
			Usage:   "Reject codes whose expiry has passed",
			Sources: sources("ENFORCE_EXPIRY", "verification.enforce_expiry"),
		},
		&cli.BoolFlag{
			Name:    "consume-on-success",
			Usage:   "Delete a code after it verified once",
			Sources: sources("CONSUME_ON_SUCCESS", "verification.consume_on_success"),
		},
	}
}
