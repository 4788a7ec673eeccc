package crypto_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolftown-io/canis-server/internal/crypto"
	"github.com/wolftown-io/canis-server/internal/store"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CANIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CANIS_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration test")
	}
	return dsn
}

func newTestService(t *testing.T) (*crypto.Service, *store.Pool) {
	t.Helper()
	ctx := context.Background()
	pool, err := store.Open(ctx, testDSN(t))
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx, pool))
	t.Cleanup(pool.Close)
	return crypto.NewService(pool), pool
}

// TestClaimPrekey_FallsBackToSignedPrekeyWhenExhausted exercises the
// exhaustion path: once every one-time prekey is claimed, further claims
// return the device's signed prekey with Fallback set, rather than an
// error.
func TestClaimPrekey_FallsBackToSignedPrekeyWhenExhausted(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	deviceID := "device-" + t.Name()

	_, err := pool.Exec(ctx, "DELETE FROM device_prekeys WHERE device_id = $1", deviceID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM device_identity_keys WHERE device_id = $1", deviceID)
	require.NoError(t, err)

	require.NoError(t, svc.PublishKeys(ctx, crypto.PublishKeysRequest{
		DeviceID:     deviceID,
		IdentityKey:  "identity",
		SignedPrekey: "signed-prekey-value",
		OneTimeKeys:  []crypto.OneTimePrekey{{KeyID: 1, PublicKey: "pub-1"}},
	}))

	first, err := svc.ClaimPrekey(ctx, deviceID)
	require.NoError(t, err)
	require.False(t, first.Fallback)
	require.EqualValues(t, 1, first.KeyID)

	second, err := svc.ClaimPrekey(ctx, deviceID)
	require.NoError(t, err)
	require.True(t, second.Fallback)
	require.Equal(t, "signed-prekey-value", second.PublicKey)
}

// TestUploadBackup_RejectsOversizedCiphertext exercises the 1 MiB backup
// size ceiling without needing a real database, since validation happens
// before any query runs.
func TestUploadBackup_RejectsOversizedCiphertext(t *testing.T) {
	svc := crypto.NewService(nil)
	oversized := make([]byte, (1<<20)+1)
	_, err := svc.UploadBackup(context.Background(), "user-1", make([]byte, 16), make([]byte, 12), oversized)
	require.ErrorIs(t, err, crypto.ErrCiphertextSize)
}
