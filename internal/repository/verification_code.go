// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/go-verification-service/internal/models"
)

// CreateVerificationCode stores a verification code for an email address.
// Several codes may exist for the same address.
func (r *Repository) CreateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO verification_codes (email, code, expires_at) VALUES (?, ?, ?)`,
		email, code, expiresAt.UTC())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return r.GetVerificationCode(ctx, id)
}

// GetVerificationCode retrieves a verification code by ID.
func (r *Repository) GetVerificationCode(ctx context.Context, id int64) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	if err := r.q.GetContext(ctx, &vc, `SELECT * FROM verification_codes WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &vc, nil
}

// FindVerificationCode returns the oldest code matching email and code exactly.
// Expiry is not considered.
func (r *Repository) FindVerificationCode(ctx context.Context, email, code string) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	err := r.q.GetContext(ctx, &vc,
		`SELECT * FROM verification_codes WHERE email = ? AND code = ? ORDER BY id LIMIT 1`,
		email, code)
	if err != nil {
		return nil, wrapError(err)
	}
	return &vc, nil
}

// ListVerificationCodes returns all codes stored for an email, oldest first.
func (r *Repository) ListVerificationCodes(ctx context.Context, email string) ([]models.VerificationCode, error) {
	codes := []models.VerificationCode{}
	err := r.q.SelectContext(ctx, &codes,
		`SELECT * FROM verification_codes WHERE email = ? ORDER BY id`, email)
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// DeleteVerificationCode deletes a code by ID.
func (r *Repository) DeleteVerificationCode(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM verification_codes WHERE id = ?`, id)
	return err
}

// DeleteExpiredVerificationCodes deletes codes that expired before now and
// returns how many were removed.
func (r *Repository) DeleteExpiredVerificationCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM verification_codes WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
