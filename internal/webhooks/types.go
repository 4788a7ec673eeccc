// Package webhooks implements per-application event delivery: signing,
// SSRF-safe URL validation, queued dispatch, and a retrying delivery worker
// that dead-letters a payload after its final attempt fails.
package webhooks

import (
	"encoding/json"
	"net/http"
	"time"
)

// EventType is a bot-visible event, shared between webhook subscriptions
// and bot gateway intent filtering.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMemberJoined   EventType = "member.joined"
	EventMemberLeft     EventType = "member.left"
	EventCommandInvoked EventType = "command.invoked"
)

// Intent is a bot gateway subscription declared at connect time.
type Intent string

const (
	IntentMessages Intent = "messages"
	IntentMembers  Intent = "members"
	IntentCommands Intent = "commands"
)

// IntentPermitsEvent reports whether a bot's declared intents allow it to
// receive ev. CommandInvoked is always permitted regardless of intents.
func IntentPermitsEvent(intents []string, ev EventType) bool {
	if ev == EventCommandInvoked {
		return true
	}
	for _, i := range intents {
		switch Intent(i) {
		case IntentMessages:
			if ev == EventMessageCreated {
				return true
			}
		case IntentMembers:
			if ev == EventMemberJoined || ev == EventMemberLeft {
				return true
			}
		}
	}
	return false
}

// MaxWebhooksPerApplication caps how many webhooks one application may
// register.
const MaxWebhooksPerApplication = 5

// CloudEvent is the CloudEvents 1.0 envelope used for delivery bodies.
type CloudEvent struct {
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	ID          string          `json:"id"`
	Time        time.Time       `json:"time"`
	Data        json.RawMessage `json:"data"`
}

// DeliveryItem is one queued delivery attempt. It intentionally excludes
// the signing secret: the worker looks that up from the store at delivery
// time so secrets never sit in the Redis queue.
type DeliveryItem struct {
	WebhookID string          `json:"webhook_id"`
	URL       string          `json:"url"`
	EventType EventType       `json:"event_type"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	EventTime time.Time       `json:"event_time"`
}

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeApplicationNotFound Code = "application_not_found"
	CodeNotFound            Code = "webhook_not_found"
	CodeForbidden           Code = "forbidden"
	CodeValidation          Code = "validation"
	CodeMaxWebhooks         Code = "max_webhooks"
)

// Error is the webhooks package's error taxonomy.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the error to the status the original service used.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeApplicationNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeMaxWebhooks:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) Body() map[string]string {
	return map[string]string{"error": string(e.Code), "message": e.Message}
}

var (
	ErrApplicationNotFound = &Error{CodeApplicationNotFound, "Application not found"}
	ErrNotFound            = &Error{CodeNotFound, "Webhook not found"}
	ErrForbidden           = &Error{CodeForbidden, "You don't own this application"}
	ErrMaxWebhooks         = &Error{CodeMaxWebhooks, "Maximum webhooks reached (5 per application)"}
)

// Validation builds a CodeValidation error with a caller-supplied message.
func Validation(msg string) *Error { return &Error{CodeValidation, msg} }
