package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoUnclaimedPrekey signals the caller should fall back to the device's
// signed prekey.
var ErrNoUnclaimedPrekey = errors.New("store: no unclaimed prekey")

// IdentityKeys is a device's published identity material. The server never
// inspects the contents; these are opaque client-encoded values.
type IdentityKeys struct {
	DeviceID     string
	IdentityKey  string
	SignedPrekey string
}

// Prekey is a single one-time prekey.
type Prekey struct {
	DeviceID  string
	KeyID     int64
	PublicKey string
	Claimed   bool
}

// PublishKeys overwrites a device's identity keys and inserts its one-time
// prekey pool. Overwriting identity keys is atomic: a single UPSERT.
func (p *Pool) PublishKeys(ctx context.Context, identity IdentityKeys, oneTime []Prekey) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO device_identity_keys (device_id, identity_key, signed_prekey, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (device_id) DO UPDATE
		SET identity_key = EXCLUDED.identity_key,
		    signed_prekey = EXCLUDED.signed_prekey,
		    updated_at = now()`,
		identity.DeviceID, identity.IdentityKey, identity.SignedPrekey)
	if err != nil {
		return err
	}

	for _, k := range oneTime {
		_, err = tx.Exec(ctx, `
			INSERT INTO device_prekeys (device_id, key_id, public_key, claimed)
			VALUES ($1, $2, $3, false)
			ON CONFLICT (device_id, key_id) DO NOTHING`,
			identity.DeviceID, k.KeyID, k.PublicKey)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ClaimPrekey atomically hands out a single unclaimed prekey for device,
// marking it claimed in the same statement so concurrent claimers can never
// both receive the same key id: the UPDATE targets one row selected by a
// subquery under FOR UPDATE SKIP LOCKED, so two callers racing on the same
// device each lock a different candidate row (or find none left).
func (p *Pool) ClaimPrekey(ctx context.Context, deviceID string) (Prekey, error) {
	var pk Prekey
	row := p.QueryRow(ctx, `
		UPDATE device_prekeys
		SET claimed = true
		WHERE device_id = $1 AND key_id = (
			SELECT key_id FROM device_prekeys
			WHERE device_id = $1 AND NOT claimed
			ORDER BY key_id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING device_id, key_id, public_key, claimed`, deviceID)
	err := row.Scan(&pk.DeviceID, &pk.KeyID, &pk.PublicKey, &pk.Claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Prekey{}, ErrNoUnclaimedPrekey
	}
	return pk, err
}

// SignedPrekeyFallback returns the device's signed prekey for use when no
// one-time prekey remains (caller sets the fallback flag on the response).
func (p *Pool) SignedPrekeyFallback(ctx context.Context, deviceID string) (IdentityKeys, error) {
	var id IdentityKeys
	id.DeviceID = deviceID
	row := p.QueryRow(ctx, `
		SELECT identity_key, signed_prekey FROM device_identity_keys WHERE device_id = $1`, deviceID)
	err := row.Scan(&id.IdentityKey, &id.SignedPrekey)
	return id, err
}

// UnclaimedPrekeyCount reports how many one-time prekeys remain for a
// device, so the client can decide whether to top up the pool.
func (p *Pool) UnclaimedPrekeyCount(ctx context.Context, deviceID string) (int, error) {
	var n int
	row := p.QueryRow(ctx, `SELECT COUNT(*) FROM device_prekeys WHERE device_id = $1 AND NOT claimed`, deviceID)
	err := row.Scan(&n)
	return n, err
}

// KeyBackup is an opaque client-encrypted key backup blob.
type KeyBackup struct {
	UserID     string
	Salt       []byte // 16 bytes
	Nonce      []byte // 12 bytes
	Ciphertext []byte // <= 1 MiB
	Version    int64
	UpdatedAt  time.Time
}

// UploadBackup replaces a user's encrypted key backup, bumping its version.
func (p *Pool) UploadBackup(ctx context.Context, userID string, salt, nonce, ciphertext []byte) (int64, error) {
	var version int64
	row := p.QueryRow(ctx, `
		INSERT INTO key_backups (user_id, salt, nonce, ciphertext, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (user_id) DO UPDATE
		SET salt = EXCLUDED.salt, nonce = EXCLUDED.nonce, ciphertext = EXCLUDED.ciphertext,
		    version = key_backups.version + 1, updated_at = now()
		RETURNING version`, userID, salt, nonce, ciphertext)
	err := row.Scan(&version)
	return version, err
}

// DownloadBackup fetches a user's encrypted key backup, if one exists.
func (p *Pool) DownloadBackup(ctx context.Context, userID string) (KeyBackup, bool, error) {
	var kb KeyBackup
	kb.UserID = userID
	row := p.QueryRow(ctx, `
		SELECT salt, nonce, ciphertext, version, updated_at FROM key_backups WHERE user_id = $1`, userID)
	err := row.Scan(&kb.Salt, &kb.Nonce, &kb.Ciphertext, &kb.Version, &kb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return KeyBackup{}, false, nil
	}
	return kb, err == nil, err
}

// BackupStatus reports whether a backup exists and its version without
// fetching the ciphertext.
func (p *Pool) BackupStatus(ctx context.Context, userID string) (exists bool, version int64, err error) {
	row := p.QueryRow(ctx, `SELECT version FROM key_backups WHERE user_id = $1`, userID)
	err = row.Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	return err == nil, version, err
}
