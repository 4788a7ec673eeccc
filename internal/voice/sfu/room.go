package sfu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
)

// SignalingFunc delivers an out-of-band signaling event (offer, ICE
// candidate, screen-share notice) to a single user over the gateway.
type SignalingFunc func(userID, eventType string, payload any)

// Room is one voice/video channel's SFU state: every joined Peer, the
// per-source track routing table, and screen-share admission control.
type Room struct {
	ChannelID string

	config *Config
	api    *webrtc.API
	signal SignalingFunc

	mu    sync.RWMutex
	peers map[string]*Peer

	pendingRenegotiation map[string]bool

	screenShareCount atomic.Int32
	screenSharers    map[string]bool
}

// NewRoom builds a Room with a pion API configured for Opus audio and VP9
// video, matching the codecs the client encoders target.
func NewRoom(channelID string, config *Config, signal SignalingFunc) (*Room, error) {
	settingEngine := webrtc.SettingEngine{}
	if config.MinPort > 0 && config.MaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.MinPort, config.MaxPort); err != nil {
			return nil, fmt.Errorf("sfu: set port range: %w", err)
		}
	}
	if config.PublicIP != "" {
		settingEngine.SetNAT1To1IPs([]string{config.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("sfu: register opus: %w", err)
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeVP9,
			ClockRate:   90000,
			SDPFmtpLine: "profile-id=0",
		},
		PayloadType: 98,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("sfu: register vp9: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(mediaEngine))

	return &Room{
		ChannelID:            channelID,
		config:               config,
		api:                  api,
		signal:               signal,
		peers:                make(map[string]*Peer),
		pendingRenegotiation: make(map[string]bool),
		screenSharers:        make(map[string]bool),
	}, nil
}

// Join admits userID to the room, returning ChannelFull if the room is at
// capacity or AlreadyJoined if the user already has a connection here.
func (r *Room) Join(ctx context.Context, userID string) (*Peer, error) {
	r.mu.Lock()
	if _, exists := r.peers[userID]; exists {
		r.mu.Unlock()
		return nil, &JoinError{Reason: JoinDenyAlreadyJoined}
	}
	if r.config.MaxPeersPerRoom > 0 && len(r.peers) >= r.config.MaxPeersPerRoom {
		r.mu.Unlock()
		return nil, &JoinError{Reason: JoinDenyChannelFull}
	}
	r.mu.Unlock()

	peer, err := NewPeer(ctx, userID, r)
	if err != nil {
		metrics.WebrtcConnectionAttempts.WithLabelValues("failed").Inc()
		return nil, &JoinError{Reason: JoinDenyIceConnectionFailed}
	}

	r.mu.Lock()
	r.peers[userID] = peer
	count := len(r.peers)
	existing := make(map[string]*Peer, count-1)
	for id, p := range r.peers {
		if id != userID && !p.IsClosed() {
			existing[id] = p
		}
	}
	r.mu.Unlock()

	metrics.WebrtcConnectionAttempts.WithLabelValues("succeeded").Inc()
	metrics.VoiceRoomParticipants.WithLabelValues(r.ChannelID).Set(float64(count))

	r.subscribeToExisting(userID, peer, existing)
	return peer, nil
}

// subscribeToExisting bootstraps a newly joined peer with one outgoing
// track per already-published source, then renegotiates once so the
// newcomer's offer carries every existing track in a single round trip.
// Without this, onPeerTrackReady only ever forwards new→others and a peer
// joining mid-stream would hear/see nothing already in progress.
func (r *Room) subscribeToExisting(userID string, peer *Peer, existing map[string]*Peer) {
	if len(existing) == 0 {
		return
	}

	added := false
	for sourceID, sourcePeer := range existing {
		for _, source := range allTrackSources {
			track := sourcePeer.GetLocalTrack(source)
			if track == nil {
				continue
			}
			if err := peer.AddTrack(sourceID, source, track); err != nil {
				logging.Warn(context.Background(), "sfu: bootstrap add track failed",
					zap.String("peer_id", userID), zap.String("source_peer_id", sourceID), zap.Error(err))
				continue
			}
			added = true
			r.requestSourceKeyframe(sourceID, source)
		}
	}
	if added {
		r.triggerRenegotiation(userID, peer)
	}
}

// Leave removes a peer and tears down everything the rest of the room
// receives from them: their tracks, their screen share, their subscriptions.
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	peer, ok := r.peers[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, userID)
	delete(r.pendingRenegotiation, userID)
	wasSharing := r.screenSharers[userID]
	delete(r.screenSharers, userID)
	others := make(map[string]*Peer, len(r.peers))
	for id, p := range r.peers {
		if !p.IsClosed() {
			others[id] = p
		}
	}
	count := len(r.peers)
	r.mu.Unlock()

	if wasSharing {
		r.screenShareCount.Add(-1)
	}

	peer.Close()

	for id, other := range others {
		for _, source := range allTrackSources {
			_ = other.RemoveTrack(userID, source)
		}
		r.triggerRenegotiation(id, other)
	}

	metrics.VoiceRoomParticipants.WithLabelValues(r.ChannelID).Set(float64(count))
}

var allTrackSources = []TrackSource{TrackMicrophone, TrackWebcam, TrackScreenVideo, TrackScreenAudio}

func (r *Room) getPeer(userID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[userID]
}

// PeerCount returns the number of currently joined peers.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// HandleOffer processes a client SDP offer using perfect negotiation with
// the server as the impolite peer: a colliding offer is ignored so the
// client rolls back and accepts the server's offer instead, unless the
// user has a pending screen share awaiting its video track.
func (r *Room) HandleOffer(userID, sdp string) (string, error) {
	peer := r.getPeer(userID)
	if peer == nil {
		return "", NewFatalError(userID, "HandleOffer", ErrPeerNotFound)
	}
	if peer.IsClosed() {
		return "", NewPeerClosedError(userID, "HandleOffer")
	}

	if peer.SignalingState() != webrtc.SignalingStateStable {
		if r.hasPendingScreenShare(userID) {
			if err := peer.Rollback(); err != nil {
				return "", NewTransientError(userID, "HandleOffer.Rollback", err)
			}
		} else {
			return "", nil
		}
	}

	if err := peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", NewTransientError(userID, "HandleOffer.SetRemoteDescription", err)
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		return "", NewTransientError(userID, "HandleOffer.CreateAnswer", err)
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return "", NewTransientError(userID, "HandleOffer.SetLocalDescription", err)
	}
	return answer.SDP, nil
}

// HandleAnswer applies a client's SDP answer during renegotiation and
// flushes any renegotiation that was queued while signaling was unstable.
func (r *Room) HandleAnswer(userID, sdp string) error {
	peer := r.getPeer(userID)
	if peer == nil {
		return NewFatalError(userID, "HandleAnswer", ErrPeerNotFound)
	}
	if peer.IsClosed() {
		return NewPeerClosedError(userID, "HandleAnswer")
	}
	if err := peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return NewTransientError(userID, "HandleAnswer.SetRemoteDescription", err)
	}

	r.mu.Lock()
	pending := r.pendingRenegotiation[userID]
	delete(r.pendingRenegotiation, userID)
	r.mu.Unlock()

	if pending {
		r.triggerRenegotiation(userID, peer)
	}
	return nil
}

func (r *Room) HandleICECandidate(userID, candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	peer := r.getPeer(userID)
	if peer == nil {
		return NewFatalError(userID, "HandleICECandidate", ErrPeerNotFound)
	}
	if peer.IsClosed() {
		return NewPeerClosedError(userID, "HandleICECandidate")
	}
	init := webrtc.ICECandidateInit{Candidate: candidate, SDPMid: sdpMid, SDPMLineIndex: sdpMLineIndex}
	if err := peer.AddICECandidate(init); err != nil {
		return NewTransientError(userID, "HandleICECandidate.AddICECandidate", err)
	}
	return nil
}

func (r *Room) onICECandidate(userID string, candidate *webrtc.ICECandidate) {
	if r.signal == nil {
		return
	}
	j := candidate.ToJSON()
	r.signal(userID, "RTC_ICE_CANDIDATE", ICECandidatePayload{Candidate: j.Candidate, SDPMid: j.SDPMid, SDPMLineIndex: j.SDPMLineIndex})
}

// onPeerTrackReady forwards a newly ready track to every other peer in the
// room (microphone/webcam, with a PLI back to the source for webcam video)
// or hands screen tracks to the screen-share path, which forwards them to
// every other peer only if the sharer was admitted by StartScreenShare.
func (r *Room) onPeerTrackReady(userID string, source TrackSource, track *webrtc.TrackLocalStaticRTP) {
	if source == TrackScreenVideo || source == TrackScreenAudio {
		r.distributeToScreenShareViewers(userID, source, track)
		return
	}

	r.mu.RLock()
	others := make(map[string]*Peer, len(r.peers))
	for id, p := range r.peers {
		if id != userID && !p.IsClosed() {
			others[id] = p
		}
	}
	r.mu.RUnlock()

	for id, other := range others {
		if err := other.AddTrack(userID, source, track); err != nil {
			logging.Warn(context.Background(), "sfu: add track failed", zap.String("peer_id", id), zap.Error(err))
			continue
		}
		r.triggerRenegotiation(id, other)
		r.requestSourceKeyframe(userID, source)
	}
}

// requestSourceKeyframe asks a video source to emit a fresh keyframe so a
// new subscriber doesn't have to wait out the encoder's natural keyframe
// interval. It is a no-op for audio sources and must be called on the
// publishing peer, not the subscriber just added.
func (r *Room) requestSourceKeyframe(sourceUserID string, source TrackSource) {
	if source != TrackWebcam && source != TrackScreenVideo {
		return
	}
	sourcePeer := r.getPeer(sourceUserID)
	if sourcePeer == nil {
		return
	}
	if err := sourcePeer.RequestKeyframe(source); err != nil {
		logging.Warn(context.Background(), "sfu: keyframe request failed", zap.String("source_user_id", sourceUserID), zap.Error(err))
	}
}

func (r *Room) onPeerClosed(userID string) {
	// Leave() already removed bookkeeping; this hook exists for future
	// per-peer cleanup needs.
}

func (r *Room) triggerRenegotiation(userID string, peer *Peer) {
	if r.signal == nil || peer.IsClosed() {
		return
	}
	if peer.SignalingState() != webrtc.SignalingStateStable {
		r.mu.Lock()
		r.pendingRenegotiation[userID] = true
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	delete(r.pendingRenegotiation, userID)
	r.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		logging.Warn(context.Background(), "sfu: create renegotiation offer failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		logging.Warn(context.Background(), "sfu: set renegotiation local description failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	r.signal(userID, "RTC_OFFER", OfferPayload{SDP: offer.SDP})
}

// StartScreenShare admits userID's screen share against the room's cap and
// the viewer's quality entitlement, applying Clamp() to silently downgrade
// an unflagged request for premium.
func (r *Room) StartScreenShare(userID string, requested Quality, premiumAllowed bool) (Quality, error) {
	peer := r.getPeer(userID)
	if peer == nil {
		return 0, &ScreenShareError{Reason: ScreenShareDenyNotInChannel}
	}

	r.mu.Lock()
	if r.screenSharers[userID] {
		r.mu.Unlock()
		return 0, &ScreenShareError{Reason: ScreenShareDenyAlreadySharing}
	}
	if r.config.MaxScreenShares > 0 && int(r.screenShareCount.Load()) >= r.config.MaxScreenShares {
		r.mu.Unlock()
		return 0, &ScreenShareError{Reason: ScreenShareDenyLimitReached}
	}
	r.screenSharers[userID] = true
	r.mu.Unlock()

	count := r.screenShareCount.Add(1)
	metrics.ScreenShareActive.WithLabelValues(r.ChannelID).Set(float64(count))
	return Clamp(requested, premiumAllowed), nil
}

// StopScreenShare releases a held screen share slot and tears down the
// forwarded tracks from every current viewer.
func (r *Room) StopScreenShare(userID string) {
	r.mu.Lock()
	if !r.screenSharers[userID] {
		r.mu.Unlock()
		return
	}
	delete(r.screenSharers, userID)
	others := make(map[string]*Peer, len(r.peers))
	for id, p := range r.peers {
		if id != userID && !p.IsClosed() {
			others[id] = p
		}
	}
	r.mu.Unlock()

	count := r.screenShareCount.Add(-1)
	metrics.ScreenShareActive.WithLabelValues(r.ChannelID).Set(float64(count))
	for id, other := range others {
		_ = other.RemoveTrack(userID, TrackScreenVideo)
		_ = other.RemoveTrack(userID, TrackScreenAudio)
		r.triggerRenegotiation(id, other)
	}
}

func (r *Room) hasPendingScreenShare(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.screenSharers[userID]
}

func (r *Room) distributeToScreenShareViewers(userID string, source TrackSource, track *webrtc.TrackLocalStaticRTP) {
	r.mu.RLock()
	if !r.screenSharers[userID] {
		r.mu.RUnlock()
		return
	}
	others := make(map[string]*Peer, len(r.peers))
	for id, p := range r.peers {
		if id != userID && !p.IsClosed() {
			others[id] = p
		}
	}
	r.mu.RUnlock()

	for id, other := range others {
		if err := other.AddTrack(userID, source, track); err != nil {
			logging.Warn(context.Background(), "sfu: add screen share track failed", zap.String("peer_id", id), zap.Error(err))
			continue
		}
		r.triggerRenegotiation(id, other)
		r.requestSourceKeyframe(userID, source)
	}
}

// Close tears down every peer connection in the room.
func (r *Room) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Leave(id)
	}
}
