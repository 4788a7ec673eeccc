package sfu

import "errors"

// Sentinel errors for peer-level pion operations, mirroring the original
// SFU's fatal/transient/closed error-kind split.
var (
	ErrPeerNotFound  = errors.New("sfu: peer not found")
	ErrPeerNotActive = errors.New("sfu: peer not in active state")
)

// ErrorKind categorizes SFU errors for appropriate handling upstream:
// fatal errors drop the peer, transient ones may be retried, closed ones
// need no action since the peer already left.
type ErrorKind int

const (
	ErrKindFatal ErrorKind = iota
	ErrKindTransient
	ErrKindPeerClosed
)

// PeerError wraps a pion-facing error with the peer and operation it
// happened on.
type PeerError struct {
	Kind   ErrorKind
	PeerID string
	Op     string
	Err    error
}

func (e *PeerError) Error() string {
	if e.Err == nil {
		return e.Op + " failed for peer " + e.PeerID
	}
	return e.Op + " failed for peer " + e.PeerID + ": " + e.Err.Error()
}

func (e *PeerError) Unwrap() error { return e.Err }

func NewFatalError(peerID, op string, err error) *PeerError {
	return &PeerError{Kind: ErrKindFatal, PeerID: peerID, Op: op, Err: err}
}

func NewTransientError(peerID, op string, err error) *PeerError {
	return &PeerError{Kind: ErrKindTransient, PeerID: peerID, Op: op, Err: err}
}

func NewPeerClosedError(peerID, op string) *PeerError {
	return &PeerError{Kind: ErrKindPeerClosed, PeerID: peerID, Op: op, Err: ErrPeerNotActive}
}

// JoinDenialReason is a typed reason a join was refused.
type JoinDenialReason string

const (
	JoinDenyChannelFull        JoinDenialReason = "channel_full"
	JoinDenyUnauthorized       JoinDenialReason = "unauthorized"
	JoinDenyAlreadyJoined      JoinDenialReason = "already_joined"
	JoinDenyRateLimited        JoinDenialReason = "rate_limited"
	JoinDenyIceConnectionFailed JoinDenialReason = "ice_connection_failed"
)

// JoinError is returned by Room.Join when admission is refused.
type JoinError struct {
	Reason JoinDenialReason
}

func (e *JoinError) Error() string { return "sfu: join denied: " + string(e.Reason) }

// ScreenShareDenialReason is a typed reason a screen share start was refused.
type ScreenShareDenialReason string

const (
	ScreenShareDenyNoPermission     ScreenShareDenialReason = "no_permission"
	ScreenShareDenyLimitReached     ScreenShareDenialReason = "limit_reached"
	ScreenShareDenyNotInChannel     ScreenShareDenialReason = "not_in_channel"
	ScreenShareDenyQualityNotAllowed ScreenShareDenialReason = "quality_not_allowed"
	ScreenShareDenyAlreadySharing   ScreenShareDenialReason = "already_sharing"
)

// ScreenShareError is returned by Room.StartScreenShare when admission is
// refused.
type ScreenShareError struct {
	Reason ScreenShareDenialReason
}

func (e *ScreenShareError) Error() string {
	return "sfu: screen share denied: " + string(e.Reason)
}
