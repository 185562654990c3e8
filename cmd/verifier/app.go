// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"codeberg.org/oliverandrich/go-verification-service/internal/config"
	"codeberg.org/oliverandrich/go-verification-service/internal/database"
	"codeberg.org/oliverandrich/go-verification-service/internal/i18n"
	"codeberg.org/oliverandrich/go-verification-service/internal/logging"
	"codeberg.org/oliverandrich/go-verification-service/internal/repository"
	"codeberg.org/oliverandrich/go-verification-service/internal/services/auth"
	"codeberg.org/oliverandrich/go-verification-service/internal/services/email"
	"codeberg.org/oliverandrich/go-verification-service/internal/services/verification"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// errRejected makes verify exit with status 1 without printing an extra error line.
var errRejected = cli.Exit("", 1)

// exitCode maps a Run error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "verifier",
		Usage:   "Issue and check registration verification codes",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Before:  setupLogging,
		// main decides the exit status
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			sendCommand(),
			saveCommand(),
			verifyCommand(),
			purgeCommand(),
			hashPasswordCommand(),
			migrateCommand(),
		},
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := config.NewFromCLI(cmd)
	var w io.Writer = os.Stderr
	if cmd.Root().ErrWriter != nil {
		w = cmd.Root().ErrWriter
	}
	logging.Setup(w, cfg.Log.Level, cfg.Log.Format)
	if err := i18n.Init(); err != nil {
		return ctx, fmt.Errorf("failed to initialize i18n: %w", err)
	}
	return ctx, nil
}

func emailFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "email",
		Aliases:  []string{"e"},
		Usage:    "Email address the code belongs to",
		Required: true,
	}
}

func codeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "code",
		Usage:    "Verification code",
		Required: true,
	}
}

func localeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "locale",
		Aliases: []string{"l"},
		Value:   "en",
		Usage:   "Preferred languages for messages, e.g. \"es-MX, en;q=0.8\"",
		Sources: cli.EnvVars("LOCALE"),
	}
}

// withService opens the database, builds the verification service and runs fn.
func withService(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, svc *verification.Service) error) error {
	cfg := config.NewFromCLI(cmd)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}

	svc := verification.NewService(repository.New(db), cfg.Verification,
		verification.WithSender(sender),
		verification.WithLogger(slog.Default()),
	)

	ctx = i18n.WithLocale(ctx, i18n.MatchLanguage(cmd.String("locale")))
	return fn(ctx, svc)
}

func newSender(cfg *config.Config) (verification.Sender, error) {
	if !cfg.SMTP.Configured() {
		slog.Debug("smtp_not_configured", "transport", "log")
		return email.LogSender{Logger: slog.Default()}, nil
	}
	svc, err := email.NewService(&cfg.SMTP, cfg.Verification.CodeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create email service: %w", err)
	}
	return svc, nil
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Generate a code, store it and deliver it to the address",
		Flags: []cli.Flag{emailFlag(), localeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, svc *verification.Service) error {
				_, err := svc.Issue(ctx, cmd.String("email"))
				return err
			})
		},
	}
}

func saveCommand() *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Store a code generated elsewhere",
		Flags: []cli.Flag{emailFlag(), codeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, svc *verification.Service) error {
				return svc.SaveVerificationCode(ctx, cmd.String("email"), cmd.String("code"))
			})
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check a code; exits with status 1 when it is rejected",
		Flags: []cli.Flag{emailFlag(), codeFlag(), localeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, svc *verification.Service) error {
				ok, err := svc.VerifyCode(ctx, cmd.String("email"), cmd.String("code"))
				if err != nil {
					return err
				}
				out := cmd.Root().Writer
				if !ok {
					_, _ = fmt.Fprintln(out, i18n.T(ctx, "verification_code_rejected"))
					return errRejected
				}
				_, _ = fmt.Fprintln(out, i18n.T(ctx, "verification_code_accepted"))
				return nil
			})
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete codes whose expiry has passed",
		Flags: []cli.Flag{localeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(ctx context.Context, svc *verification.Service) error {
				removed, err := svc.Purge(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.Root().Writer, i18n.TPlural(ctx, "codes_purged", int(removed)))
				return nil
			})
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-password",
		Usage:     "Print the hash of a password (read from stdin when no argument is given)",
		ArgsUsage: "[password]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "legacy",
				Usage: "Print the unsalted SHA-256 digest instead of bcrypt",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			password := cmd.Args().First()
			if password == "" {
				var err error
				if password, err = readLine(cmd.Root().Reader); err != nil {
					return err
				}
			}

			var hash string
			if cmd.Bool("legacy") {
				slog.Warn("legacy_password_hash", "reason", "unsalted sha256")
				hash = auth.GetPasswordHash(password)
			} else {
				var err error
				if hash, err = auth.HashPassword(password); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintln(cmd.Root().Writer, hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given")
	}
	return line, nil
}

func migrateCommand() *cli.Command {
	run := func(fn func(db *sqlx.DB) error) cli.ActionFunc {
		return func(_ context.Context, cmd *cli.Command) error {
			cfg := config.NewFromCLI(cmd)
			db, err := database.Open(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()
			return fn(db)
		}
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				// Open already migrates up
				Action: run(func(*sqlx.DB) error { return nil }),
			},
			{
				Name:   "down",
				Usage:  "Roll back the last migration",
				Action: run(func(db *sqlx.DB) error { return database.MigrateDown(db.DB) }),
			},
			{
				Name:   "reset",
				Usage:  "Roll back all migrations",
				Action: run(func(db *sqlx.DB) error { return database.MigrateReset(db.DB) }),
			},
			{
				Name:  "version",
				Usage: "Print the applied schema version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return run(func(db *sqlx.DB) error {
						version, err := database.MigrationVersion(db.DB)
						if err != nil {
							return err
						}
						_, _ = fmt.Fprintln(cmd.Root().Writer, version)
						return nil
					})(ctx, cmd)
				},
			},
		},
	}
}
