package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoElevation is returned when a user has no live elevated session.
var ErrNoElevation = errors.New("store: no active elevation")

// ElevatedSession is a time-boxed admin elevation grant.
type ElevatedSession struct {
	ID         string
	UserID     string
	ElevatedAt time.Time
	ExpiresAt  time.Time
	Reason     string
}

// CreateElevatedSession inserts a new elevation row with the given TTL.
func (p *Pool) CreateElevatedSession(ctx context.Context, userID, reason string, ttl time.Duration) (ElevatedSession, error) {
	s := ElevatedSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		ElevatedAt: time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Reason:     reason,
	}
	_, err := p.Exec(ctx, `
		INSERT INTO elevated_sessions (id, user_id, elevated_at, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.ElevatedAt, s.ExpiresAt, s.Reason)
	return s, err
}

// LatestElevation returns the most recent non-expired elevation for a user,
// matching the query pattern
// "WHERE user_id=$1 AND expires_at > NOW() ORDER BY elevated_at DESC LIMIT 1".
func (p *Pool) LatestElevation(ctx context.Context, userID string) (ElevatedSession, error) {
	var s ElevatedSession
	row := p.QueryRow(ctx, `
		SELECT id, user_id, elevated_at, expires_at, COALESCE(reason, '')
		FROM elevated_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY elevated_at DESC
		LIMIT 1`, userID)
	err := row.Scan(&s.ID, &s.UserID, &s.ElevatedAt, &s.ExpiresAt, &s.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return ElevatedSession{}, ErrNoElevation
	}
	return s, err
}

// RevokeElevation expires every live elevation for a user immediately
// (early POST /api/admin/de-elevate).
func (p *Pool) RevokeElevation(ctx context.Context, userID string) error {
	_, err := p.Exec(ctx, `
		UPDATE elevated_sessions SET expires_at = NOW()
		WHERE user_id = $1 AND expires_at > NOW()`, userID)
	return err
}
