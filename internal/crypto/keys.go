// Package crypto is the E2EE key service: identity/signed-prekey
// publication, at-most-once one-time prekey claim, and an opaque encrypted
// key backup. The server never sees plaintext keys — every value it stores
// is a client-produced blob; the only logic that lives here is the claim
// race (a prekey id must go to exactly one caller) and the 1 MiB backup
// size ceiling.
package crypto

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/store"
	"go.uber.org/zap"
)

const maxBackupCiphertextBytes = 1 << 20 // 1 MiB

// Errors surfaced to callers.
var (
	ErrSaltSize       = errors.New("crypto: salt must be 16 bytes")
	ErrNonceSize      = errors.New("crypto: nonce must be 12 bytes")
	ErrCiphertextSize = errors.New("crypto: ciphertext exceeds 1 MiB")
)

// Service is the E2EE key service backed by the relational store.
type Service struct {
	db *store.Pool
}

// NewService builds a key Service over the relational store.
func NewService(db *store.Pool) *Service {
	return &Service{db: db}
}

// PublishKeysRequest mirrors the wire shape of publish_keys.
type PublishKeysRequest struct {
	DeviceID      string
	IdentityKey   string
	SignedPrekey  string
	OneTimeKeys   []OneTimePrekey
}

// OneTimePrekey is a single key id/public value pair from the client pool.
type OneTimePrekey struct {
	KeyID     int64
	PublicKey string
}

// PublishKeys overwrites the device's identity keys and appends any new
// one-time prekeys to its pool (existing key ids are left untouched).
func (s *Service) PublishKeys(ctx context.Context, req PublishKeysRequest) error {
	oneTime := make([]store.Prekey, len(req.OneTimeKeys))
	for i, k := range req.OneTimeKeys {
		oneTime[i] = store.Prekey{DeviceID: req.DeviceID, KeyID: k.KeyID, PublicKey: k.PublicKey}
	}
	err := s.db.PublishKeys(ctx, store.IdentityKeys{
		DeviceID:     req.DeviceID,
		IdentityKey:  req.IdentityKey,
		SignedPrekey: req.SignedPrekey,
	}, oneTime)
	if err != nil {
		return fmt.Errorf("crypto: publish keys: %w", err)
	}
	return nil
}

// ClaimResult is what claim_prekey hands back: either a fresh one-time
// prekey, or the device's signed prekey with Fallback set when the pool is
// exhausted.
type ClaimResult struct {
	KeyID     int64  // zero when Fallback is true
	PublicKey string
	Fallback  bool
}

// ClaimPrekey hands out exactly one unclaimed prekey for the device; on
// exhaustion it falls back to the device's signed prekey, which is safe to
// reuse across multiple session establishments but not rotated per-claim.
func (s *Service) ClaimPrekey(ctx context.Context, deviceID string) (ClaimResult, error) {
	pk, err := s.db.ClaimPrekey(ctx, deviceID)
	if err == nil {
		return ClaimResult{KeyID: pk.KeyID, PublicKey: pk.PublicKey}, nil
	}
	if !errors.Is(err, store.ErrNoUnclaimedPrekey) {
		return ClaimResult{}, fmt.Errorf("crypto: claim prekey: %w", err)
	}

	logging.Warn(ctx, "prekey pool exhausted, falling back to signed prekey", zap.String("device_id", deviceID))
	identity, ferr := s.db.SignedPrekeyFallback(ctx, deviceID)
	if ferr != nil {
		return ClaimResult{}, fmt.Errorf("crypto: signed prekey fallback: %w", ferr)
	}
	return ClaimResult{PublicKey: identity.SignedPrekey, Fallback: true}, nil
}

// PrekeyCount reports how many one-time prekeys remain unclaimed for a
// device, so the client can decide whether to top up the pool.
func (s *Service) PrekeyCount(ctx context.Context, deviceID string) (int, error) {
	return s.db.UnclaimedPrekeyCount(ctx, deviceID)
}

// UploadBackup stores an opaque encrypted key backup. salt/nonce/ciphertext
// are treated as opaque bytes — the server performs no decryption and
// derives no keys from them, only size validation.
func (s *Service) UploadBackup(ctx context.Context, userID string, salt, nonce, ciphertext []byte) (int64, error) {
	if len(salt) != 16 {
		return 0, ErrSaltSize
	}
	if len(nonce) != 12 {
		return 0, ErrNonceSize
	}
	if len(ciphertext) > maxBackupCiphertextBytes {
		return 0, ErrCiphertextSize
	}
	version, err := s.db.UploadBackup(ctx, userID, salt, nonce, ciphertext)
	if err != nil {
		return 0, fmt.Errorf("crypto: upload backup: %w", err)
	}
	return version, nil
}

// Backup is the opaque stored backup returned verbatim to the client.
type Backup struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
	Version    int64
}

// DownloadBackup returns a user's backup, if one exists.
func (s *Service) DownloadBackup(ctx context.Context, userID string) (Backup, bool, error) {
	kb, ok, err := s.db.DownloadBackup(ctx, userID)
	if err != nil {
		return Backup{}, false, fmt.Errorf("crypto: download backup: %w", err)
	}
	if !ok {
		return Backup{}, false, nil
	}
	return Backup{Salt: kb.Salt, Nonce: kb.Nonce, Ciphertext: kb.Ciphertext, Version: kb.Version}, true, nil
}

// BackupStatus reports whether a backup exists and its version, without
// transferring the ciphertext.
func (s *Service) BackupStatus(ctx context.Context, userID string) (exists bool, version int64, err error) {
	exists, version, err = s.db.BackupStatus(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("crypto: backup status: %w", err)
	}
	return exists, version, nil
}
