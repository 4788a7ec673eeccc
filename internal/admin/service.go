package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/store"
)

// ElevationTTL is how long an elevated session stays live once granted.
const ElevationTTL = 15 * time.Minute

const cacheKeyPrefix = "admin:elevated:"

func cacheKey(userID string) string { return cacheKeyPrefix + userID }

// MFAVerifier checks a one-time code against a user's enrolled MFA secret.
// Elevation depends on this rather than owning MFA enrollment itself, since
// secret storage belongs to the auth/account module.
type MFAVerifier interface {
	Verify(ctx context.Context, userID, code string) (bool, error)
}

// AuditSink forwards a durably-written audit entry to an external log
// sink. Optional: Service works with a nil sink, it just doesn't fan out
// beyond Postgres and the admin events bus topic.
type AuditSink interface {
	Forward(ctx context.Context, entry store.AuditEntry) error
}

// Service implements system admin status checks, elevation, and the
// append-only audit log.
type Service struct {
	db   *store.Pool
	bus  *bus.Service
	mfa  MFAVerifier
	sink AuditSink
}

// NewService builds an admin Service. mfa may be nil in deployments that
// don't require MFA for elevation (e.g. local dev), in which case Elevate
// skips the code check entirely. sink may also be nil.
func NewService(db *store.Pool, b *bus.Service, mfa MFAVerifier, sink AuditSink) *Service {
	return &Service{db: db, bus: b, mfa: mfa, sink: sink}
}

// RequireSystemAdmin returns the caller's admin grant, or ErrNotAdmin.
func (s *Service) RequireSystemAdmin(ctx context.Context, userID, username string) (SystemAdminUser, error) {
	grant, err := s.db.GetSystemAdmin(ctx, userID)
	if errors.Is(err, store.ErrNotSystemAdmin) {
		return SystemAdminUser{}, ErrNotAdmin
	}
	if err != nil {
		return SystemAdminUser{}, Database(err)
	}
	return SystemAdminUser{UserID: userID, Username: username, GrantedAt: grant.GrantedAt}, nil
}

// RequireElevated returns the caller's live elevated session, or
// ErrElevationRequired if none is active.
func (s *Service) RequireElevated(ctx context.Context, userID string) (ElevatedAdmin, error) {
	session, err := s.db.LatestElevation(ctx, userID)
	if errors.Is(err, store.ErrNoElevation) {
		return ElevatedAdmin{}, ErrElevationRequired
	}
	if err != nil {
		return ElevatedAdmin{}, Database(err)
	}
	return ElevatedAdmin{
		UserID:     session.UserID,
		ElevatedAt: session.ElevatedAt,
		ExpiresAt:  session.ExpiresAt,
		Reason:     session.Reason,
	}, nil
}

// ElevateResult is what POST /admin/elevate hands back on success.
type ElevateResult struct {
	Elevated  bool
	ExpiresAt time.Time
	SessionID string
}

// Elevate grants a new 15-minute elevated session after checking the MFA
// code (when an MFAVerifier is configured), caches the elevation in Redis
// at admin:elevated:<user_id>, and records the action in the audit log.
func (s *Service) Elevate(ctx context.Context, userID, mfaCode, reason string) (ElevateResult, error) {
	if s.mfa != nil {
		ok, err := s.mfa.Verify(ctx, userID, mfaCode)
		if err != nil {
			return ElevateResult{}, Database(err)
		}
		if !ok {
			return ElevateResult{}, ErrInvalidMfaCode
		}
	}

	session, err := s.db.CreateElevatedSession(ctx, userID, reason, ElevationTTL)
	if err != nil {
		return ElevateResult{}, Database(err)
	}

	s.cacheElevated(ctx, userID, true, ElevationTTL)

	if err := s.audit(ctx, userID, "admin.elevate", "user", userID, map[string]any{"reason": reason}); err != nil {
		logging.Warn(ctx, "failed to write elevate audit entry", zap.Error(err))
	}

	return ElevateResult{Elevated: true, ExpiresAt: session.ExpiresAt, SessionID: session.ID}, nil
}

// DeElevate revokes the caller's live elevation early, clears the cache
// entry, and records the action in the audit log.
func (s *Service) DeElevate(ctx context.Context, userID string) error {
	if err := s.db.RevokeElevation(ctx, userID); err != nil {
		return Database(err)
	}
	s.cacheElevated(ctx, userID, false, time.Minute)
	if err := s.audit(ctx, userID, "admin.de_elevate", "user", userID, nil); err != nil {
		logging.Warn(ctx, "failed to write de-elevate audit entry", zap.Error(err))
	}
	return nil
}

// cacheElevated mirrors the elevation state in Redis so WebSocket handlers
// can check admin status without a database round trip; a cache-read miss
// or any Redis failure is treated as "not elevated", matching the original
// behavior of never trusting an absent cache entry as elevated.
func (s *Service) cacheElevated(ctx context.Context, userID string, elevated bool, ttl time.Duration) {
	client := s.bus.Client()
	if client == nil {
		return
	}
	value := "0"
	if elevated {
		value = "1"
	}
	if err := client.Set(ctx, cacheKey(userID), value, ttl).Err(); err != nil {
		logging.Warn(ctx, "failed to cache elevation status", zap.String("user_id", userID), zap.Error(err))
	}
}

// IsElevatedAdmin checks only the Redis cache, for gateway subscription
// gating where a database round trip per message would be too costly. A
// cache miss returns false; the authoritative check happens at the REST
// /admin/elevate boundary.
func (s *Service) IsElevatedAdmin(ctx context.Context, userID string) bool {
	client := s.bus.Client()
	if client == nil {
		return false
	}
	val, err := client.Get(ctx, cacheKey(userID)).Result()
	if err != nil {
		return false
	}
	return val == "1"
}

// audit appends one row to the audit log and fans it out on the admin
// events topic so connected admin dashboards update live.
func (s *Service) audit(ctx context.Context, actorID, action, targetType, targetID string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("admin: marshal audit details: %w", err)
	}
	entry := store.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    raw,
	}
	id, err := s.db.InsertAuditEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("admin: write audit entry: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = time.Now()
	_ = s.bus.Publish(ctx, bus.AdminEventsTopic, "audit_log_entry", entry, actorID)
	if s.sink != nil {
		if err := s.sink.Forward(ctx, entry); err != nil {
			logging.Warn(ctx, "failed to forward audit entry to external sink", zap.Error(err))
		}
	}
	return nil
}

// Audit is the public entry point other admin handlers (ban, suspend,
// announcement) use to append to the audit log with the same fan-out.
func (s *Service) Audit(ctx context.Context, actorID, action, targetType, targetID string, details map[string]any) error {
	return s.audit(ctx, actorID, action, targetType, targetID, details)
}

// AuditLog returns the most recent audit entries, optionally filtered to
// one actor.
func (s *Service) AuditLog(ctx context.Context, actorID string, limit int) ([]store.AuditEntry, error) {
	entries, err := s.db.ListAuditEntries(ctx, actorID, limit)
	if err != nil {
		return nil, Database(err)
	}
	return entries, nil
}
