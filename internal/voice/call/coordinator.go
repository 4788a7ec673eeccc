package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// TTL schedule from the coordinator design: a 120s stream TTL while ringing,
// cleared once a call goes active, and a short grace window after ended so
// late readers still observe the terminal event. RingTimeout is the separate
// no-answer window after which a still-ringing call is ended.
const (
	RingingTTL = 120 * time.Second
	EndedTTL   = 5 * time.Second
	RingTimeout = 90 * time.Second
)

// ErrProtocol is returned when the first event of a stream is not Started,
// or the stream is empty.
var ErrProtocol = errors.New("call: first event must be started")

// ErrNotRinging rejects operations (join/decline) that only make sense
// while a call is ringing.
var ErrNotRinging = errors.New("call: not ringing")

// Coordinator implements the event-sourced DM call state machine: Redis
// Streams hold the ordered event log (multi-node source of truth), the
// relational store gets a durable terminal audit row so history survives a
// Redis restart, and every transition broadcasts a user-visible event on
// the DM channel's pub/sub topic.
type Coordinator struct {
	bus *bus.Service
	db  *store.Pool
}

// NewCoordinator builds a call Coordinator.
func NewCoordinator(b *bus.Service, db *store.Pool) *Coordinator {
	return &Coordinator{bus: b, db: db}
}

// State replays the full event stream for a channel and returns the
// derived state. Folding is pure and deterministic given the same events,
// so any node produces identical state from the same stream.
func (c *Coordinator) State(ctx context.Context, channelID string) (State, error) {
	events, err := c.readEvents(ctx, channelID)
	if err != nil {
		return State{}, err
	}
	return Fold(events)
}

// Fold replays a sequence of events into a State, starting from Started.
func Fold(events []Event) (State, error) {
	if len(events) == 0 || events[0].Type != EventStarted {
		return State{}, ErrProtocol
	}

	first := events[0]
	s := NewRinging(first.InitiatorID, splitTargets(first), first.Timestamp)

	for _, ev := range events[1:] {
		var err error
		s, err = s.Apply(ev, ev.Timestamp)
		if err != nil {
			return State{}, err
		}
	}
	return s, nil
}

// splitTargets extracts the Started event's target list, stashed in UserID
// as a JSON array since Event only carries scalar fields otherwise.
func splitTargets(ev Event) []string {
	var targets []string
	_ = json.Unmarshal([]byte(ev.UserID), &targets)
	return targets
}

// Start begins a new call: initiator ringing targetUsers. Fails if a live
// (non-ended) call already occupies the channel, enforcing exactly-one-
// call-active-per-channel.
func (c *Coordinator) Start(ctx context.Context, channelID, initiator string, targetUsers []string) (State, error) {
	existing, err := c.State(ctx, channelID)
	if err == nil && existing.IsActive() {
		return State{}, fmt.Errorf("call: channel %s already has a live call", channelID)
	}

	// A caller-supplied target list may repeat a user (e.g. two clients of
	// the same account ringing) or include the initiator themselves; dedupe
	// and drop the initiator before it's persisted as the ringing set.
	targetSet := set.New(targetUsers...)
	targetSet.Delete(initiator)
	targetUsers = set.SortedList(targetSet)

	targetsJSON, _ := json.Marshal(targetUsers)
	now := time.Now()
	ev := Event{EventID: uuid.NewString(), Timestamp: now, Type: EventStarted, InitiatorID: initiator, UserID: string(targetsJSON)}
	if err := c.append(ctx, channelID, ev, RingingTTL); err != nil {
		return State{}, err
	}

	state := NewRinging(initiator, targetUsers, now)
	metrics.ActiveCalls.Inc()
	c.broadcast(ctx, channelID, "IncomingCall", map[string]any{
		"channel_id":   channelID,
		"initiator_id": initiator,
		"target_users": targetUsers,
	})

	go c.scheduleRingTimeout(channelID)
	return state, nil
}

// scheduleRingTimeout ends the call with EndReasonNoAnswer if it is still
// ringing RingTimeout after it started. Runs detached from the request
// that called Start, so it uses its own background context rather than
// inheriting one that's canceled when that request completes.
func (c *Coordinator) scheduleRingTimeout(channelID string) {
	timer := time.NewTimer(RingTimeout)
	defer timer.Stop()
	<-timer.C

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := c.State(ctx, channelID)
	if err != nil {
		logging.Warn(ctx, "ring timeout: failed to read call state", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if state.Status != StatusRinging {
		return
	}
	if _, err := c.End(ctx, channelID, EndReasonNoAnswer); err != nil {
		logging.Warn(ctx, "ring timeout: failed to end call", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// Join records a participant joining; transitions ringing->active on the
// first join, or adds to an already-active call.
func (c *Coordinator) Join(ctx context.Context, channelID, userID string) (State, error) {
	prior, err := c.State(ctx, channelID)
	if err != nil {
		return State{}, err
	}

	now := time.Now()
	ev := Event{EventID: uuid.NewString(), Timestamp: now, Type: EventJoined, UserID: userID}
	next, err := prior.Apply(ev, now)
	if err != nil {
		return State{}, err
	}

	// A successful join always leaves the call active, so the stream carries
	// no TTL (cleared on the first join, kept clear on later ones).
	if err := c.append(ctx, channelID, ev, 0); err != nil {
		return State{}, err
	}

	c.broadcast(ctx, channelID, "CallParticipantJoined", map[string]any{
		"channel_id": channelID,
		"user_id":    userID,
	})
	return next, nil
}

// Decline records a target declining a ringing call. If all targets have
// declined, the call ends.
func (c *Coordinator) Decline(ctx context.Context, channelID, userID string) (State, error) {
	prior, err := c.State(ctx, channelID)
	if err != nil {
		return State{}, err
	}
	if prior.Status != StatusRinging {
		return State{}, ErrNotRinging
	}

	now := time.Now()
	ev := Event{EventID: uuid.NewString(), Timestamp: now, Type: EventDeclined, UserID: userID}
	next, err := prior.Apply(ev, now)
	if err != nil {
		return State{}, err
	}

	ttl := RingingTTL
	if next.Status == StatusEnded {
		ttl = EndedTTL
	}
	if err := c.append(ctx, channelID, ev, ttl); err != nil {
		return State{}, err
	}

	c.broadcast(ctx, channelID, "CallDeclined", map[string]any{"channel_id": channelID, "user_id": userID})
	if next.Status == StatusEnded {
		c.onEnded(ctx, channelID, next)
	}
	return next, nil
}

// Leave records a participant leaving. An initiator leaving a ringing call
// cancels it; a non-initiator leaving a ringing call is rejected (caller
// should use Decline); leaving an active call removes the participant,
// ending the call if none remain.
func (c *Coordinator) Leave(ctx context.Context, channelID, userID string) (State, error) {
	prior, err := c.State(ctx, channelID)
	if err != nil {
		return State{}, err
	}

	now := time.Now()
	ev := Event{EventID: uuid.NewString(), Timestamp: now, Type: EventLeft, UserID: userID}
	next, err := prior.Apply(ev, now)
	if err != nil {
		return State{}, err
	}

	ttl := RingingTTL
	if next.Status == StatusEnded {
		ttl = EndedTTL
	} else if next.Status == StatusActive {
		ttl = 0
	}
	if err := c.append(ctx, channelID, ev, ttl); err != nil {
		return State{}, err
	}

	if next.Status == StatusEnded {
		c.onEnded(ctx, channelID, next)
	}
	return next, nil
}

// End terminates the call for any other reason (e.g. the 90s no-answer
// timeout: scheduleRingTimeout, started by Start, calls this once the
// ringing window elapses without a join).
func (c *Coordinator) End(ctx context.Context, channelID string, reason EndReason) (State, error) {
	prior, err := c.State(ctx, channelID)
	if err != nil {
		return State{}, err
	}

	now := time.Now()
	ev := Event{EventID: uuid.NewString(), Timestamp: now, Type: EventEnded, Reason: reason}
	next, err := prior.Apply(ev, now)
	if err != nil {
		return State{}, err
	}
	if err := c.append(ctx, channelID, ev, EndedTTL); err != nil {
		return State{}, err
	}

	c.onEnded(ctx, channelID, next)
	return next, nil
}

func (c *Coordinator) onEnded(ctx context.Context, channelID string, s State) {
	metrics.ActiveCalls.Dec()
	c.broadcast(ctx, channelID, "CallEnded", map[string]any{
		"channel_id":    channelID,
		"reason":        s.Reason,
		"duration_secs": s.DurationSecs,
	})

	if c.db == nil {
		return
	}

	// Durable record for history that survives a Redis restart; the stream
	// itself is only kept EndedTTL seconds longer.
	entry := store.AuditEntry{
		ActorID:    "system",
		Action:     "call.ended",
		TargetType: "channel",
		TargetID:   channelID,
		Details:    mustJSON(map[string]any{"reason": s.Reason, "duration_secs": s.DurationSecs}),
	}
	if _, err := c.db.InsertAuditEntry(ctx, entry); err != nil {
		logging.Warn(ctx, "failed to persist call end audit entry", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (c *Coordinator) append(ctx context.Context, channelID string, ev Event, ttl time.Duration) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("call: marshal event: %w", err)
	}
	if _, err := c.bus.AppendCallEvent(ctx, channelID, data, ttl); err != nil {
		return fmt.Errorf("call: append event: %w", err)
	}
	return nil
}

func (c *Coordinator) readEvents(ctx context.Context, channelID string) ([]Event, error) {
	raw, err := c.bus.ReadCallEvents(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("call: read events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal(r, &ev); err != nil {
			return nil, fmt.Errorf("call: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Coordinator) broadcast(ctx context.Context, channelID, event string, payload any) {
	if err := c.bus.Publish(ctx, bus.ChannelTopic(channelID), event, payload, "system"); err != nil {
		logging.Warn(ctx, "failed to broadcast call event", zap.String("event", event), zap.Error(err))
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
