// Package gateway implements the two WebSocket event streams described in
// the signaling & event bus design: a user gateway (text events, presence,
// voice signaling, DM calls, admin events) and a bot gateway (intent-
// filtered event replication to bot:<id> topics), both framed with the
// same JSON {op, t, d} envelope and backed by internal/bus for cross-node
// fan-out.
package gateway

import "encoding/json"

// Envelope is the wire frame for both gateways: Op distinguishes a client
// request from a server push, T names the operation/event, D carries the
// opaque payload.
type Envelope struct {
	Op string          `json:"op"`
	T  string          `json:"t"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Client -> server op names (user gateway).
const (
	OpSubscribe      = "subscribe"
	OpUnsubscribe    = "unsubscribe"
	OpTyping         = "typing"
	OpStopTyping     = "stop_typing"
	OpPing           = "ping"
	OpSetActivity    = "set_activity"
	OpVoiceJoin      = "voice_join"
	OpVoiceLeave     = "voice_leave"
	OpVoiceOffer     = "voice_offer"
	OpVoiceAnswer    = "voice_answer"
	OpVoiceICE       = "voice_ice_candidate"
	OpVoiceMute      = "voice_mute"
	OpVoiceUnmute    = "voice_unmute"
	OpVoiceStats     = "voice_stats"
	OpScreenShareStart = "screen_share_start"
	OpScreenShareStop  = "screen_share_stop"
	OpCallStart      = "call_start"
	OpCallJoin       = "call_join"
	OpCallDecline    = "call_decline"
	OpCallLeave      = "call_leave"
)

// Server -> client event names (user gateway).
const (
	EventMessageNew            = "MessageNew"
	EventChannelRead           = "ChannelRead"
	EventDMRead                = "DmRead"
	EventTypingStart           = "TypingStart"
	EventUserPresenceChanged   = "UserPresenceChanged"
	EventVoiceOffer            = "VoiceOffer"
	EventVoiceAnswer           = "VoiceAnswer"
	EventVoiceRoomState        = "VoiceRoomState"
	EventVoiceUserJoined       = "VoiceUserJoined"
	EventVoiceUserLeft         = "VoiceUserLeft"
	EventVoiceUserMuted        = "VoiceUserMuted"
	EventVoiceUserUnmuted      = "VoiceUserUnmuted"
	EventVoiceStats            = "VoiceStats"
	EventScreenShareStarted    = "ScreenShareStarted"
	EventScreenShareStopped    = "ScreenShareStopped"
	EventIncomingCall          = "IncomingCall"
	EventCallParticipantJoined = "CallParticipantJoined"
	EventCallDeclined          = "CallDeclined"
	EventCallEnded             = "CallEnded"
	EventAdminAuditEntry       = "AdminAuditLogEntry"
	EventError                 = "Error"
)

// Bot gateway client -> server op names.
const (
	OpMessageCreate   = "message_create"
	OpCommandResponse = "command_response"
)

// Bot gateway server -> client event names are the same dotted strings as
// internal/webhooks' EventType so a single IntentPermitsEvent check gates
// both webhook delivery and live gateway fan-out.
const (
	EventMessageCreated = "message.created"
	EventMemberJoined   = "member.joined"
	EventMemberLeft     = "member.left"
	EventCommandInvoked = "command.invoked"
)

type subscribePayload struct {
	Channel string `json:"channel"`
}

type typingPayload struct {
	Channel string `json:"channel"`
}

type voiceJoinPayload struct {
	Channel string `json:"channel"`
}

type voiceOfferPayload struct {
	Channel string `json:"channel"`
	SDP     string `json:"sdp"`
}

type voiceAnswerPayload struct {
	Channel string `json:"channel"`
	SDP     string `json:"sdp"`
}

type voiceICEPayload struct {
	Channel       string  `json:"channel"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type voiceMutePayload struct {
	Channel string `json:"channel"`
	Source  string `json:"source"` // "microphone" | "webcam"
}

type voiceStatsPayload struct {
	Channel         string  `json:"channel"`
	JoinSuccessRate float64 `json:"join_success_rate"`
	LossP95         float64 `json:"loss_p95"`
	JitterP95Ms     float64 `json:"jitter_p95_ms"`
	CrashRate       float64 `json:"crash_rate"`
}

type screenShareStartPayload struct {
	Channel     string `json:"channel"`
	Quality     string `json:"quality"`
	SourceLabel string `json:"source_label"`
	HasAudio    bool   `json:"has_audio"`
}

type screenSharePayload struct {
	Channel string `json:"channel"`
}

type callPayload struct {
	Channel string   `json:"channel"`
	Targets []string `json:"targets,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
