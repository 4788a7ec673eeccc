// Package call implements the event-sourced DM voice/video call state
// machine: every transition is appended to a per-channel Redis stream and
// the current state is derived by folding that stream, so any node can
// serve a call after a failover without holding sticky in-memory state.
package call

import (
	"fmt"
	"time"
)

// Status is the coarse lifecycle stage of a call.
type Status int32

const (
	StatusRinging Status = iota
	StatusActive
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusRinging:
		return "ringing"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason records why a call ended.
type EndReason string

const (
	EndReasonCancelled   EndReason = "cancelled"   // initiator hung up before anyone joined
	EndReasonAllDeclined EndReason = "all_declined" // every target declined
	EndReasonNoAnswer    EndReason = "no_answer"    // ringing timeout (90s)
	EndReasonLastLeft    EndReason = "last_left"    // last participant left an active call
)

// EventType is the kind of a single call event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventJoined   EventType = "joined"
	EventLeft     EventType = "left"
	EventDeclined EventType = "declined"
	EventEnded    EventType = "ended"
)

// Event is a single entry in a call's event stream.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	InitiatorID string    `json:"initiator,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Reason      EndReason `json:"reason,omitempty"`
}

// State is the derived state of a call at a point in the stream. Not every
// field is meaningful in every Status — Ringing fields other than StartedAt
// are zero once Active, Active fields are zero once Ringing — mirroring the original's
// tagged-union shape without Go's enum-with-payload support.
type State struct {
	Status Status

	// Ringing
	StartedBy    string
	StartedAt    time.Time
	DeclinedBy   map[string]struct{}
	TargetUsers  map[string]struct{}

	// Active
	Participants map[string]struct{}

	// Ended
	Reason       EndReason
	DurationSecs int
	EndedAt      time.Time
}

// StateError reports an invalid fold.
type StateError struct {
	Status Status
	Event  EventType
}

func (e *StateError) Error() string {
	return fmt.Sprintf("call: invalid transition: status=%s event=%s", e.Status, e.Event)
}

// ErrAlreadyEnded is returned when folding any event against a terminal
// state; Ended is terminal and never transitions further.
var ErrAlreadyEnded = fmt.Errorf("call: already ended")

// NewRinging builds the initial state for a freshly started call.
func NewRinging(initiator string, targetUsers []string, now time.Time) State {
	targets := make(map[string]struct{}, len(targetUsers))
	for _, u := range targetUsers {
		targets[u] = struct{}{}
	}
	return State{
		Status:      StatusRinging,
		StartedBy:   initiator,
		StartedAt:   now,
		DeclinedBy:  map[string]struct{}{},
		TargetUsers: targets,
	}
}

// Apply folds one event onto s, returning the new state. now is passed in
// rather than read internally so folding historical events from a replayed
// stream is deterministic and testable.
func (s State) Apply(ev Event, now time.Time) (State, error) {
	if s.Status == StatusEnded {
		return State{}, ErrAlreadyEnded
	}

	switch s.Status {
	case StatusRinging:
		switch ev.Type {
		case EventJoined:
			return State{
				Status:       StatusActive,
				StartedAt:    s.StartedAt,
				Participants: map[string]struct{}{s.StartedBy: {}, ev.UserID: {}},
			}, nil

		case EventDeclined:
			declined := cloneSet(s.DeclinedBy)
			declined[ev.UserID] = struct{}{}
			if len(declined) >= len(s.TargetUsers) {
				return State{
					Status:  StatusEnded,
					Reason:  EndReasonAllDeclined,
					EndedAt: now,
				}, nil
			}
			return State{
				Status:      StatusRinging,
				StartedBy:   s.StartedBy,
				StartedAt:   s.StartedAt,
				DeclinedBy:  declined,
				TargetUsers: s.TargetUsers,
			}, nil

		case EventEnded:
			return State{Status: StatusEnded, Reason: ev.Reason, EndedAt: now}, nil

		case EventLeft:
			// The initiator leaving before anyone answers cancels the call;
			// a target leaving without declining is not a valid transition
			// — they must decline instead.
			if ev.UserID != s.StartedBy {
				return State{}, &StateError{Status: s.Status, Event: ev.Type}
			}
			return State{Status: StatusEnded, Reason: EndReasonCancelled, EndedAt: now}, nil

		default:
			return State{}, &StateError{Status: s.Status, Event: ev.Type}
		}

	case StatusActive:
		switch ev.Type {
		case EventJoined:
			participants := cloneSet(s.Participants)
			participants[ev.UserID] = struct{}{}
			return State{Status: StatusActive, StartedAt: s.StartedAt, Participants: participants}, nil

		case EventLeft:
			participants := cloneSet(s.Participants)
			delete(participants, ev.UserID)
			if len(participants) == 0 {
				return State{
					Status:       StatusEnded,
					Reason:       EndReasonLastLeft,
					DurationSecs: int(now.Sub(s.StartedAt).Seconds()),
					EndedAt:      now,
				}, nil
			}
			return State{Status: StatusActive, StartedAt: s.StartedAt, Participants: participants}, nil

		case EventEnded:
			return State{
				Status:       StatusEnded,
				Reason:       ev.Reason,
				DurationSecs: int(now.Sub(s.StartedAt).Seconds()),
				EndedAt:      now,
			}, nil

		default:
			return State{}, &StateError{Status: s.Status, Event: ev.Type}
		}

	default:
		return State{}, &StateError{Status: s.Status, Event: ev.Type}
	}
}

// IsActive reports whether the call has not yet ended.
func (s State) IsActive() bool { return s.Status != StatusEnded }

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}
