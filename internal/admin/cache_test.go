package admin

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/wolftown-io/canis-server/internal/bus"
)

func newTestBus(t *testing.T) *bus.Service {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := bus.NewService(mr.Addr(), "")
	require.NoError(t, err)
	return b
}

func TestCacheElevated_RoundTrip(t *testing.T) {
	svc := &Service{bus: newTestBus(t)}
	ctx := context.Background()

	require.False(t, svc.IsElevatedAdmin(ctx, "user-1"), "no cache entry should mean not elevated")

	svc.cacheElevated(ctx, "user-1", true, time.Minute)
	require.True(t, svc.IsElevatedAdmin(ctx, "user-1"))

	svc.cacheElevated(ctx, "user-1", false, time.Minute)
	require.False(t, svc.IsElevatedAdmin(ctx, "user-1"))
}

func TestCacheElevated_IsolatedPerUser(t *testing.T) {
	svc := &Service{bus: newTestBus(t)}
	ctx := context.Background()

	svc.cacheElevated(ctx, "user-a", true, time.Minute)
	require.True(t, svc.IsElevatedAdmin(ctx, "user-a"))
	require.False(t, svc.IsElevatedAdmin(ctx, "user-b"))
}
