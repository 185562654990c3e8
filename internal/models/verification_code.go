// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// VerificationCode is a one-time code emailed to confirm an address during registration.
type VerificationCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Code      string    `db:"code" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the code's expiry lies before now.
func (v *VerificationCode) Expired(now time.Time) bool {
	return v.ExpiresAt.Before(now)
}
