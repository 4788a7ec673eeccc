package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotSystemAdmin signals the user has no system_admins row.
var ErrNotSystemAdmin = errors.New("store: not a system admin")

// SystemAdmin is a platform-level administrator grant.
type SystemAdmin struct {
	UserID    string
	GrantedAt time.Time
	GrantedBy string
}

// GetSystemAdmin returns the admin grant for userID, or ErrNotSystemAdmin.
func (p *Pool) GetSystemAdmin(ctx context.Context, userID string) (SystemAdmin, error) {
	var a SystemAdmin
	a.UserID = userID
	row := p.QueryRow(ctx, `
		SELECT granted_at, granted_by FROM system_admins WHERE user_id = $1`, userID)
	err := row.Scan(&a.GrantedAt, &a.GrantedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return SystemAdmin{}, ErrNotSystemAdmin
	}
	return a, err
}

// GrantSystemAdmin inserts or refreshes a system admin grant.
func (p *Pool) GrantSystemAdmin(ctx context.Context, userID, grantedBy string) error {
	_, err := p.Exec(ctx, `
		INSERT INTO system_admins (user_id, granted_by)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET granted_by = EXCLUDED.granted_by`, userID, grantedBy)
	return err
}

// RevokeSystemAdmin removes a system admin grant.
func (p *Pool) RevokeSystemAdmin(ctx context.Context, userID string) error {
	_, err := p.Exec(ctx, `DELETE FROM system_admins WHERE user_id = $1`, userID)
	return err
}

// ErrNoMFAEnrollment signals the admin has not enrolled a TOTP secret, so
// elevation cannot proceed until they do.
var ErrNoMFAEnrollment = errors.New("store: no MFA enrollment for user")

// GetMFASecret returns the enrolled TOTP secret for userID.
func (p *Pool) GetMFASecret(ctx context.Context, userID string) (string, error) {
	var secret string
	row := p.QueryRow(ctx, `SELECT secret FROM admin_mfa_secrets WHERE user_id = $1`, userID)
	err := row.Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoMFAEnrollment
	}
	return secret, err
}

// EnrollMFASecret records a freshly generated TOTP secret for userID,
// replacing any prior enrollment.
func (p *Pool) EnrollMFASecret(ctx context.Context, userID, secret string) error {
	_, err := p.Exec(ctx, `
		INSERT INTO admin_mfa_secrets (user_id, secret)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET secret = EXCLUDED.secret, enrolled_at = now()`, userID, secret)
	return err
}
