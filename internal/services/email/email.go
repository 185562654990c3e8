// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-verification-service/internal/config"
	"codeberg.org/oliverandrich/go-verification-service/internal/i18n"
	"codeberg.org/oliverandrich/go-verification-service/internal/logging"
	"github.com/wneessen/go-mail"
)

var (
	ErrSMTPHostRequired = errors.New("SMTP host is required")
	ErrSMTPFromRequired = errors.New("SMTP from address is required")
)

// Service delivers verification codes over SMTP.
type Service struct {
	cfg     *config.SMTPConfig
	codeTTL time.Duration
}

// NewService creates a new email service. codeTTL is quoted in the message body.
func NewService(cfg *config.SMTPConfig, codeTTL time.Duration) (*Service, error) {
	if cfg.Host == "" {
		return nil, ErrSMTPHostRequired
	}
	if cfg.From == "" {
		return nil, ErrSMTPFromRequired
	}

	return &Service{
		cfg:     cfg,
		codeTTL: codeTTL,
	}, nil
}

// SendVerificationCode mails code to toEmail in the locale carried by ctx.
func (s *Service) SendVerificationCode(ctx context.Context, toEmail, code string) error {
	msg, err := s.BuildMessage(ctx, toEmail, code)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// BuildMessage renders the localized verification mail without sending it.
func (s *Service) BuildMessage(ctx context.Context, toEmail, code string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(toEmail); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(i18n.T(ctx, "verification_code_subject"))
	msg.SetBodyString(mail.TypeTextPlain, i18n.TData(ctx, "verification_code_body", map[string]any{
		"Code":    code,
		"Minutes": int(s.codeTTL.Minutes()),
	}))

	return msg, nil
}

func (s *Service) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Implicit TLS on 465, STARTTLS elsewhere
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}

// LogSender writes codes to a logger instead of mailing them.
// It is used when no SMTP server is configured.
type LogSender struct {
	Logger *slog.Logger
}

// SendVerificationCode logs the delivery. The code is masked unless the logger runs at debug level.
func (l LogSender) SendVerificationCode(ctx context.Context, toEmail, code string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shown := logging.MaskCode(code)
	if logger.Enabled(ctx, slog.LevelDebug) {
		shown = code
	}

	logger.InfoContext(ctx, "verification_code_delivered",
		"email", toEmail,
		"code", shown,
		"locale", i18n.GetLocale(ctx),
		"transport", "log",
	)
	return nil
}
