// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth hashes and checks user passwords.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong is returned when bcrypt cannot hash the input.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// GetPasswordHash returns the lowercase hex SHA-256 digest of password.
//
// The digest is unsalted and fast to compute, so it is unsuitable for
// storing passwords. It is kept for records that already hold such hashes;
// new records should use HashPassword.
func GetPasswordHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a hash produced by
// HashPassword or GetPasswordHash.
func CheckPassword(hash, password string) bool {
	if IsLegacyHash(hash) {
		return hash == GetPasswordHash(password)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsLegacyHash reports whether hash looks like a GetPasswordHash digest.
func IsLegacyHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
