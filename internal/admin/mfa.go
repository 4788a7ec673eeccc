package admin

import (
	"context"
	"errors"

	"github.com/pquerna/otp/totp"

	"github.com/wolftown-io/canis-server/internal/store"
)

// TOTPVerifier checks elevation codes against a per-admin TOTP secret
// enrolled ahead of time, the same RFC 6238 scheme most authenticator apps
// implement.
type TOTPVerifier struct {
	db *store.Pool
}

// NewTOTPVerifier builds a TOTPVerifier backed by the relational store.
func NewTOTPVerifier(db *store.Pool) *TOTPVerifier {
	return &TOTPVerifier{db: db}
}

// Verify reports whether code is a currently valid TOTP for userID's
// enrolled secret. A user with no enrollment can never elevate.
func (v *TOTPVerifier) Verify(ctx context.Context, userID, code string) (bool, error) {
	secret, err := v.db.GetMFASecret(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoMFAEnrollment) {
			return false, nil
		}
		return false, err
	}
	return totp.Validate(code, secret), nil
}

// Enroll generates a fresh TOTP secret for userID and persists it,
// returning the otpauth:// URL for the admin to scan into an
// authenticator app.
func (v *TOTPVerifier) Enroll(ctx context.Context, userID, issuer, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: accountName})
	if err != nil {
		return "", err
	}
	if err := v.db.EnrollMFASecret(ctx, userID, key.Secret()); err != nil {
		return "", err
	}
	return key.URL(), nil
}
