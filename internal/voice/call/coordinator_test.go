package call

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolftown-io/canis-server/internal/bus"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := bus.NewService(mr.Addr(), "")
	require.NoError(t, err)
	return NewCoordinator(b, nil)
}

func TestCoordinator_StartThenJoinGoesActive(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "chan-1", "alice", []string{"bob"})
	require.NoError(t, err)

	s, err := c.Join(ctx, "chan-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Contains(t, s.Participants, "alice")
	assert.Contains(t, s.Participants, "bob")
}

func TestCoordinator_SecondStartRejectedWhileLive(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "chan-2", "alice", []string{"bob"})
	require.NoError(t, err)

	_, err = c.Start(ctx, "chan-2", "carol", []string{"dave"})
	assert.Error(t, err)
}

func TestCoordinator_DeclineAllEndsCall(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "chan-3", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	_, err = c.Decline(ctx, "chan-3", "bob")
	require.NoError(t, err)

	s, err := c.Decline(ctx, "chan-3", "carol")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, EndReasonAllDeclined, s.Reason)
}

func TestCoordinator_LastParticipantLeavesEndsCall(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "chan-4", "alice", []string{"bob"})
	require.NoError(t, err)
	_, err = c.Join(ctx, "chan-4", "bob")
	require.NoError(t, err)

	_, err = c.Leave(ctx, "chan-4", "alice")
	require.NoError(t, err)

	s, err := c.Leave(ctx, "chan-4", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, EndReasonLastLeft, s.Reason)
}

func TestCoordinator_StartCanRunAgainAfterCallEnds(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "chan-5", "alice", []string{"bob"})
	require.NoError(t, err)
	_, err = c.Decline(ctx, "chan-5", "bob")
	require.NoError(t, err)

	_, err = c.Start(ctx, "chan-5", "alice", []string{"carol"})
	assert.NoError(t, err, "a new call should be startable once the prior one ended")
}
