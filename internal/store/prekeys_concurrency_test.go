package store_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolftown-io/canis-server/internal/store"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if CANIS_TEST_POSTGRES_DSN is not set. ClaimPrekey's correctness
// depends on Postgres's FOR UPDATE SKIP LOCKED row-locking, which no
// in-memory fake reproduces, so this test needs a real server rather than
// the miniredis-style fake the Redis-backed packages use.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CANIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CANIS_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration test")
	}
	return dsn
}

func newTestPool(t *testing.T) *store.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := store.Open(ctx, testDSN(t))
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

// TestClaimPrekey_ConcurrentClaimsAreDisjoint exercises the property
// ClaimPrekey's FOR UPDATE SKIP LOCKED query exists to guarantee: for k
// concurrent claims against a device with n unclaimed prekeys, exactly
// min(k, n) succeed, each with a distinct key id, and the rest see
// ErrNoUnclaimedPrekey rather than a duplicate or a deadlock.
func TestClaimPrekey_ConcurrentClaimsAreDisjoint(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	const n = 5
	const k = 12
	deviceID := "device-" + t.Name()

	_, err := pool.Exec(ctx, "DELETE FROM device_prekeys WHERE device_id = $1", deviceID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM device_identity_keys WHERE device_id = $1", deviceID)
	require.NoError(t, err)

	oneTime := make([]store.Prekey, n)
	for i := range oneTime {
		oneTime[i] = store.Prekey{DeviceID: deviceID, KeyID: int64(i + 1), PublicKey: "pub"}
	}
	require.NoError(t, pool.PublishKeys(ctx, store.IdentityKeys{
		DeviceID:     deviceID,
		IdentityKey:  "identity",
		SignedPrekey: "signed",
	}, oneTime))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		claimed   []int64
		exhausted int
	)

	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pk, err := pool.ClaimPrekey(ctx, deviceID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.ErrorIs(t, err, store.ErrNoUnclaimedPrekey)
				exhausted++
				return
			}
			claimed = append(claimed, pk.KeyID)
		}()
	}
	wg.Wait()

	require.Len(t, claimed, n, "expected exactly min(k, n) successful claims")
	require.Equal(t, k-n, exhausted, "the rest must see ErrNoUnclaimedPrekey, not a hang or a duplicate")

	seen := make(map[int64]bool, len(claimed))
	for _, id := range claimed {
		require.False(t, seen[id], "key id %d claimed more than once", id)
		seen[id] = true
	}

	remaining, err := pool.UnclaimedPrekeyCount(ctx, deviceID)
	require.NoError(t, err)
	require.Zero(t, remaining)
}
