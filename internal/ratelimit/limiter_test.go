package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rawLimits map[string]string, opts ...Option) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lim, err := NewLimiter(client, rawLimits, opts...)
	require.NoError(t, err)
	return lim, mr
}

func TestParseLimit(t *testing.T) {
	lim, err := ParseLimit("10-60")
	require.NoError(t, err)
	assert.Equal(t, 10, lim.Requests)
	assert.Equal(t, 60*time.Second, lim.Window)

	_, err = ParseLimit("bad")
	assert.Error(t, err)
}

func TestLimiter_AllowsWithinBudget(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"read": "3-60"})
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := lim.Allow(ctx, CategoryRead, "ip:203.0.113.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := lim.Allow(ctx, CategoryRead, "ip:203.0.113.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLimiter_SeparateKeysIndependent(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"read": "1-60"})
	defer mr.Close()

	ctx := context.Background()
	d1, err := lim.Allow(ctx, CategoryRead, "ip:203.0.113.1")
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := lim.Allow(ctx, CategoryRead, "ip:203.0.113.2")
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func TestLimiter_UnknownCategoryAllowsAll(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"read": "1-60"})
	defer mr.Close()

	d, err := lim.Allow(context.Background(), CategoryWrite, "ip:203.0.113.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_Allowlist(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"read": "1-60"}, WithAllowlist("ip:203.0.113.1"))
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := lim.Allow(ctx, CategoryRead, "ip:203.0.113.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestLimiter_AuthFailureBlocksAfterThreshold(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"auth_login": "100-60"},
		WithFailedAuthConfig(FailedAuthConfig{MaxFailures: 3, BlockDuration: time.Minute, WindowDuration: time.Minute}))
	defer mr.Close()

	ctx := context.Background()
	key := "ip:203.0.113.1"
	for i := 0; i < 3; i++ {
		require.NoError(t, lim.RecordAuthFailure(ctx, key))
	}

	blocked, ttl, err := lim.IsAuthBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Greater(t, ttl, time.Duration(0))

	d, err := lim.Allow(ctx, CategoryAuthLogin, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestLimiter_ClearAuthFailuresResetsCounter(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]string{"auth_login": "100-60"},
		WithFailedAuthConfig(FailedAuthConfig{MaxFailures: 2, BlockDuration: time.Minute, WindowDuration: time.Minute}))
	defer mr.Close()

	ctx := context.Background()
	key := "ip:203.0.113.1"
	require.NoError(t, lim.RecordAuthFailure(ctx, key))
	require.NoError(t, lim.ClearAuthFailures(ctx, key))
	require.NoError(t, lim.RecordAuthFailure(ctx, key))

	blocked, _, err := lim.IsAuthBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLimiter_NilClientFailsOpenForNonAuth(t *testing.T) {
	lim, err := NewLimiter(nil, map[string]string{"read": "1-60"})
	require.NoError(t, err)

	d, err := lim.Allow(context.Background(), CategoryRead, "ip:203.0.113.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_NilClientFailsClosedForAuth(t *testing.T) {
	lim, err := NewLimiter(nil, map[string]string{"auth_login": "1-60"})
	require.NoError(t, err)

	d, err := lim.Allow(context.Background(), CategoryAuthLogin, "ip:203.0.113.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
