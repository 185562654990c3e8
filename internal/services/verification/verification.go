// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package verification stores and checks the one-time codes emailed during registration.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-verification-service/internal/config"
	"codeberg.org/oliverandrich/go-verification-service/internal/logging"
	"codeberg.org/oliverandrich/go-verification-service/internal/models"
	"codeberg.org/oliverandrich/go-verification-service/internal/repository"
)

const (
	// DefaultCodeTTL is how long a code stays valid when no TTL is configured.
	DefaultCodeTTL = 5 * time.Minute
	// DefaultCodeLength is the number of digits in a generated code.
	DefaultCodeLength = 6
)

const digits = "0123456789"

// ErrNoSender is returned by Issue when no Sender was configured.
var ErrNoSender = errors.New("no code sender configured")

// Sender delivers a code to the owner of an email address.
type Sender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// Service saves and verifies registration codes.
type Service struct {
	repo   *repository.Repository
	cfg    config.VerificationConfig
	sender Sender
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSender sets the delivery channel used by Issue.
func WithSender(sender Sender) Option {
	return func(s *Service) { s.sender = sender }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a verification service. Zero TTL and length fall back to the defaults.
func NewService(repo *repository.Repository, cfg config.VerificationConfig, opts ...Option) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = DefaultCodeLength
	}

	s := &Service{
		repo:   repo,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveVerificationCode stores code for email, expiring CodeTTL from now.
// Inputs are not validated and earlier codes for the same email are kept.
func (s *Service) SaveVerificationCode(ctx context.Context, email, code string) error {
	expiresAt := s.now().Add(s.cfg.CodeTTL)

	var saved *models.VerificationCode
	err := s.repo.InTx(ctx, func(tx *repository.Repository) error {
		var err error
		saved, err = tx.CreateVerificationCode(ctx, email, code, expiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save verification code: %w", err)
	}

	s.logger.InfoContext(ctx, "verification_code_saved",
		"id", saved.ID,
		"email", email,
		"expires_at", saved.ExpiresAt,
	)
	return nil
}

// VerifyCode reports whether a stored code matches email and code exactly.
//
// By default neither expiry nor prior use is checked, so a matching code
// verifies every time. EnforceExpiry and ConsumeOnSuccess tighten this.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	var (
		matched bool
		reason  string
	)

	err := s.repo.InTx(ctx, func(tx *repository.Repository) error {
		vc, err := tx.FindVerificationCode(ctx, email, code)
		if errors.Is(err, repository.ErrNotFound) {
			reason = "no_match"
			return nil
		}
		if err != nil {
			return err
		}

		if s.cfg.EnforceExpiry && vc.Expired(s.now()) {
			reason = "expired"
			return nil
		}

		if s.cfg.ConsumeOnSuccess {
			if err := tx.DeleteVerificationCode(ctx, vc.ID); err != nil {
				return err
			}
		}

		matched = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to verify code: %w", err)
	}

	if matched {
		s.logger.InfoContext(ctx, "verification_code_matched", "email", email)
	} else {
		s.logger.WarnContext(ctx, "verification_code_rejected",
			"email", email,
			"code", logging.MaskCode(code),
			"reason", reason,
		)
	}
	return matched, nil
}

// GenerateCode returns a random numeric code of the configured length.
func (s *Service) GenerateCode() (string, error) {
	return GenerateCode(s.cfg.CodeLength)
}

// Issue generates a code, stores it and hands it to the configured Sender.
// The code is returned so callers can display or audit it.
func (s *Service) Issue(ctx context.Context, email string) (string, error) {
	if s.sender == nil {
		return "", ErrNoSender
	}

	code, err := s.GenerateCode()
	if err != nil {
		return "", err
	}

	if err := s.SaveVerificationCode(ctx, email, code); err != nil {
		return "", err
	}

	if err := s.sender.SendVerificationCode(ctx, email, code); err != nil {
		return "", fmt.Errorf("failed to deliver verification code: %w", err)
	}

	return code, nil
}

// Purge deletes every code whose expiry has passed.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpiredVerificationCodes(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge verification codes: %w", err)
	}

	s.logger.InfoContext(ctx, "verification_codes_purged", "removed", removed)
	return removed, nil
}

// GenerateCode returns a random string of length decimal digits.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256
			if b >= 250 || len(code) == length {
				continue
			}
			code = append(code, digits[int(b)%len(digits)])
		}
	}

	return string(code), nil
}
