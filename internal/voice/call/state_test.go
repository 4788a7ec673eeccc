package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingingToActiveOnJoin(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewRinging("a", []string{"b"}, now)

	s, err := s.Apply(Event{Type: EventJoined, UserID: "b"}, now.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, StatusActive, s.Status)
	assert.Contains(t, s.Participants, "a")
	assert.Contains(t, s.Participants, "b")
}

func TestAllDeclinedEndsCall(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewRinging("a", []string{"b", "c"}, now)

	s, err := s.Apply(Event{Type: EventDeclined, UserID: "b"}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, s.Status)

	s, err = s.Apply(Event{Type: EventDeclined, UserID: "c"}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, EndReasonAllDeclined, s.Reason)
	assert.Zero(t, s.DurationSecs)
}

func TestLastParticipantLeavesEndsCall(t *testing.T) {
	start := time.Unix(1000, 0)
	s := State{Status: StatusActive, StartedAt: start, Participants: map[string]struct{}{"a": {}}}

	s, err := s.Apply(Event{Type: EventLeft, UserID: "a"}, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, EndReasonLastLeft, s.Reason)
	assert.Equal(t, 30, s.DurationSecs)
}

func TestInitiatorLeavingWhileRingingCancels(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewRinging("a", []string{"b"}, now)

	s, err := s.Apply(Event{Type: EventLeft, UserID: "a"}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, EndReasonCancelled, s.Reason)
}

func TestTargetLeavingWhileRingingIsRejected(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewRinging("a", []string{"b"}, now)

	_, err := s.Apply(Event{Type: EventLeft, UserID: "b"}, now)
	assert.Error(t, err)
}

func TestEndedStateIsTerminal(t *testing.T) {
	s := State{Status: StatusEnded, Reason: EndReasonCancelled}
	_, err := s.Apply(Event{Type: EventJoined, UserID: "x"}, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestActiveParticipantCanRejoinAfterLeaving(t *testing.T) {
	start := time.Unix(1000, 0)
	s := State{Status: StatusActive, StartedAt: start, Participants: map[string]struct{}{"a": {}, "b": {}}}

	s, err := s.Apply(Event{Type: EventLeft, UserID: "b"}, start.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)

	s, err = s.Apply(Event{Type: EventJoined, UserID: "b"}, start.Add(6*time.Second))
	require.NoError(t, err)
	assert.Contains(t, s.Participants, "b")
}
