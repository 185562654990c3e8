// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package verification_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-verification-service/internal/config"
	"codeberg.org/oliverandrich/go-verification-service/internal/i18n"
	"codeberg.org/oliverandrich/go-verification-service/internal/repository"
	"codeberg.org/oliverandrich/go-verification-service/internal/services/verification"
	"codeberg.org/oliverandrich/go-verification-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type fixture struct {
	repo   *repository.Repository
	clock  *testutil.Clock
	sender *testutil.Sender
}

func newService(t *testing.T, cfg config.VerificationConfig) (*verification.Service, *fixture) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	f := &fixture{
		repo:   repo,
		clock:  testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		sender: &testutil.Sender{},
	}
	svc := verification.NewService(repo, cfg,
		verification.WithClock(f.clock.Now),
		verification.WithSender(f.sender),
		verification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return svc, f
}

func TestSaveVerificationCode(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()

	err := svc.SaveVerificationCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "123456", codes[0].Code)
	assert.WithinDuration(t, f.clock.Now().Add(5*time.Minute), codes[0].ExpiresAt, time.Second)
}

func TestSaveVerificationCode_CustomTTL(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{CodeTTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.WithinDuration(t, f.clock.Now().Add(time.Hour), codes[0].ExpiresAt, time.Second)
}

func TestSaveVerificationCode_DuplicatesCoexist(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()

	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Len(t, codes, 2)
}

func TestSaveVerificationCode_NoInputValidation(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()

	require.NoError(t, svc.SaveVerificationCode(ctx, "", ""))

	codes, err := f.repo.ListVerificationCodes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestSaveVerificationCode_DatabaseError(t *testing.T) {
	db, repo := testutil.NewTestDB(t)
	svc := verification.NewService(repo, config.VerificationConfig{},
		verification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, db.Close())

	err := svc.SaveVerificationCode(context.Background(), "test@example.com", "123456")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save verification code")
}

func TestVerifyCode_Match(t *testing.T) {
	svc, _ := newService(t, config.VerificationConfig{})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCode_NoMatch(t *testing.T) {
	svc, _ := newService(t, config.VerificationConfig{})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	tests := []struct {
		name  string
		email string
		code  string
	}{
		{"wrong email", "other@example.com", "123456"},
		{"wrong code", "test@example.com", "000000"},
		{"both wrong", "other@example.com", "000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := svc.VerifyCode(ctx, tt.email, tt.code)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerifyCode_EmptyStore(t *testing.T) {
	svc, _ := newService(t, config.VerificationConfig{})

	ok, err := svc.VerifyCode(context.Background(), "test@example.com", "123456")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCode_ExpiredStillAcceptedByDefault(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	f.clock.Advance(6 * time.Minute)

	ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCode_ReusableByDefault(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	for range 3 {
		ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestVerifyCode_EnforceExpiry(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{EnforceExpiry: true})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	f.clock.Advance(4 * time.Minute)
	ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok, "code is still within its lifetime")

	f.clock.Advance(2 * time.Minute)
	ok, err = svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok, "code expired")
}

func TestVerifyCode_ConsumeOnSuccess(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{ConsumeOnSuccess: true})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestVerifyCode_ConsumeOnSuccessUsesOneDuplicate(t *testing.T) {
	svc, _ := newService(t, config.VerificationConfig{ConsumeOnSuccess: true})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))

	for _, expected := range []bool{true, true, false} {
		ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
		require.NoError(t, err)
		assert.Equal(t, expected, ok)
	}
}

func TestVerifyCode_ExpiredNotConsumed(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{EnforceExpiry: true, ConsumeOnSuccess: true})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "test@example.com", "123456"))
	f.clock.Advance(time.Hour)

	ok, err := svc.VerifyCode(ctx, "test@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	codes, err := f.repo.ListVerificationCodes(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestGenerateCode(t *testing.T) {
	numeric := regexp.MustCompile(`^[0-9]+$`)

	for _, length := range []int{1, 4, 6, 12} {
		code, err := verification.GenerateCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		assert.Regexp(t, numeric, code)
	}
}

func TestGenerateCode_DefaultLength(t *testing.T) {
	code, err := verification.GenerateCode(0)

	require.NoError(t, err)
	assert.Len(t, code, verification.DefaultCodeLength)
}

func TestGenerateCode_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code, err := verification.GenerateCode(12)
		require.NoError(t, err)
		seen[code] = true
	}

	// 50 draws from 10^12 values
	assert.Greater(t, len(seen), 45)
}

func TestService_GenerateCode_UsesConfiguredLength(t *testing.T) {
	svc, _ := newService(t, config.VerificationConfig{CodeLength: 8})

	code, err := svc.GenerateCode()

	require.NoError(t, err)
	assert.Len(t, code, 8)
}

func TestIssue(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := i18n.WithLocale(context.Background(), language.Spanish)

	code, err := svc.Issue(ctx, "test@example.com")
	require.NoError(t, err)
	assert.Len(t, code, verification.DefaultCodeLength)

	require.Len(t, f.sender.Sent, 1)
	assert.Equal(t, "test@example.com", f.sender.Sent[0].Email)
	assert.Equal(t, code, f.sender.Sent[0].Code)
	assert.Equal(t, "es", f.sender.Sent[0].Locale)

	ok, err := svc.VerifyCode(ctx, "test@example.com", code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIssue_SenderError(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	errDown := errors.New("smtp down")
	f.sender.Err = errDown

	_, err := svc.Issue(context.Background(), "test@example.com")

	require.ErrorIs(t, err, errDown)
}

func TestIssue_NoSender(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	svc := verification.NewService(repo, config.VerificationConfig{})

	_, err := svc.Issue(context.Background(), "test@example.com")

	assert.ErrorIs(t, err, verification.ErrNoSender)
}

func TestPurge(t *testing.T) {
	svc, f := newService(t, config.VerificationConfig{})
	ctx := context.Background()
	require.NoError(t, svc.SaveVerificationCode(ctx, "old@example.com", "111111"))

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, svc.SaveVerificationCode(ctx, "new@example.com", "222222"))

	removed, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ok, err := svc.VerifyCode(ctx, "old@example.com", "111111")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.VerifyCode(ctx, "new@example.com", "222222")
	require.NoError(t, err)
	assert.True(t, ok)
}
