// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-verification-service/internal/database"
	"codeberg.org/oliverandrich/go-verification-service/internal/i18n"
	"codeberg.org/oliverandrich/go-verification-service/internal/models"
	"codeberg.org/oliverandrich/go-verification-service/internal/repository"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestCode stores a verification code that expires after ttl (negative for already expired).
func NewTestCode(t *testing.T, repo *repository.Repository, email, code string, ttl time.Duration) *models.VerificationCode {
	t.Helper()
	vc, err := repo.CreateVerificationCode(context.Background(), email, code, time.Now().Add(ttl))
	require.NoError(t, err)
	return vc
}

// Clock is a settable clock for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at now, truncated to whole seconds.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC().Truncate(time.Second)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SentMessage records one delivered code.
type SentMessage struct {
	Email  string
	Code   string
	Locale string
}

// Sender captures codes instead of delivering them.
type Sender struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// SendVerificationCode records the message or returns the configured error.
func (s *Sender) SendVerificationCode(ctx context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, SentMessage{Email: email, Code: code, Locale: i18n.GetLocale(ctx)})
	return nil
}
