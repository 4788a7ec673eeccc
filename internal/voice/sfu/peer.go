package sfu

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
)

// PeerState is the lifecycle state of a peer's underlying PeerConnection.
type PeerState int32

const (
	PeerStateConnecting PeerState = iota
	PeerStateActive
	PeerStateClosing
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateConnecting:
		return "connecting"
	case PeerStateActive:
		return "active"
	case PeerStateClosing:
		return "closing"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const peerCloseTimeout = 3 * time.Second
const rtpBufferBytes = 1500

// TrackSource identifies which of a peer's four possible outbound media
// tracks an RTP stream belongs to. Tracks are addressed to subscribers by
// the (sourceUserID, TrackSource) pair.
type TrackSource string

const (
	TrackMicrophone TrackSource = "microphone"
	TrackWebcam     TrackSource = "webcam"
	TrackScreenVideo TrackSource = "screen_video"
	TrackScreenAudio TrackSource = "screen_audio"
)

// trackKey addresses one forwarded track by its origin.
type trackKey struct {
	userID string
	source TrackSource
}

// Peer is one participant's WebRTC connection inside a Room. It holds up to
// one local track per TrackSource (what this participant sends) and a set
// of sender tracks it relays from every other participant it subscribes to.
type Peer struct {
	ID   string
	room *Room
	conn *webrtc.PeerConnection

	mu    sync.RWMutex
	state atomic.Int32

	muted    map[TrackSource]bool
	localTracks map[TrackSource]*webrtc.TrackLocalStaticRTP
	senders     map[trackKey]*webrtc.RTPSender

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeer creates a PeerConnection for userID inside room and wires the
// callbacks that drive track forwarding and lifecycle transitions.
func NewPeer(ctx context.Context, userID string, room *Room) (*Peer, error) {
	conn, err := room.api.NewPeerConnection(room.config.ToWebRTCConfig())
	if err != nil {
		return nil, fmt.Errorf("sfu: new peer connection: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		ID:          userID,
		room:        room,
		conn:        conn,
		muted:       make(map[TrackSource]bool),
		localTracks: make(map[TrackSource]*webrtc.TrackLocalStaticRTP),
		senders:     make(map[trackKey]*webrtc.RTPSender),
		ctx:         pctx,
		cancel:      cancel,
	}
	p.state.Store(int32(PeerStateConnecting))

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		room.onICECandidate(userID, c)
	})

	conn.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		switch cs {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.Close()
		case webrtc.PeerConnectionStateConnected:
			p.transitionTo(PeerStateActive)
		}
	})

	conn.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		source := classifyIncomingTrack(remote)
		if source == "" {
			return
		}

		local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, string(source), userID)
		if err != nil {
			logging.Warn(p.ctx, "sfu: create local track failed", zap.String("user_id", userID), zap.Error(err))
			return
		}

		p.mu.Lock()
		p.localTracks[source] = local
		p.mu.Unlock()

		room.onPeerTrackReady(userID, source, local)

		p.wg.Add(1)
		go p.forwardTrack(remote, local)

		p.wg.Add(1)
		go p.drainRTCP(receiver)
	})

	return p, nil
}

// classifyIncomingTrack maps a remote track's kind and stream ID to one of the four
// track sources. Screen share video arrives on its own m-line distinguished
// by stream ID set by the client; everything else is the primary
// microphone/webcam pair by media kind.
func classifyIncomingTrack(remote *webrtc.TrackRemote) TrackSource {
	isScreen := remote.StreamID() == "screen"
	switch remote.Kind() {
	case webrtc.RTPCodecTypeAudio:
		if isScreen {
			return TrackScreenAudio
		}
		return TrackMicrophone
	case webrtc.RTPCodecTypeVideo:
		if isScreen {
			return TrackScreenVideo
		}
		return TrackWebcam
	default:
		return ""
	}
}

func (p *Peer) forwardTrack(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	defer p.wg.Done()

	buf := make([]byte, rtpBufferBytes)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if p.ctx.Err() != nil || err == io.EOF {
				return
			}
			logging.Warn(p.ctx, "sfu: read remote track failed", zap.String("user_id", p.ID), zap.Error(err))
			return
		}
		if _, err := local.Write(buf[:n]); err != nil && p.ctx.Err() == nil {
			logging.Warn(p.ctx, "sfu: write local track failed", zap.String("user_id", p.ID), zap.Error(err))
			return
		}
	}
}

// drainRTCP reads RTCP feedback (required by pion for the sender/receiver
// pair to function) until the peer closes.
func (p *Peer) drainRTCP(receiver *webrtc.RTPReceiver) {
	defer p.wg.Done()
	buf := make([]byte, rtpBufferBytes)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
	}
}

// AddTrack subscribes this peer to another participant's track.
func (p *Peer) AddTrack(sourceUserID string, source TrackSource, track *webrtc.TrackLocalStaticRTP) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosedLocked() {
		return nil
	}
	key := trackKey{userID: sourceUserID, source: source}
	if _, exists := p.senders[key]; exists {
		return nil
	}

	sender, err := p.conn.AddTrack(track)
	if err != nil {
		return NewTransientError(p.ID, "AddTrack", err)
	}
	p.senders[key] = sender

	p.wg.Add(1)
	go p.drainSenderRTCP(sender)
	return nil
}

func (p *Peer) drainSenderRTCP(sender *webrtc.RTPSender) {
	defer p.wg.Done()
	buf := make([]byte, rtpBufferBytes)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// RemoveTrack unsubscribes this peer from a source it was receiving.
func (p *Peer) RemoveTrack(sourceUserID string, source TrackSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosedLocked() {
		return nil
	}
	key := trackKey{userID: sourceUserID, source: source}
	sender, exists := p.senders[key]
	if !exists {
		return nil
	}
	if err := p.conn.RemoveTrack(sender); err != nil {
		return NewTransientError(p.ID, "RemoveTrack", err)
	}
	delete(p.senders, key)
	return nil
}

// RequestKeyframe sends a PLI (Picture Loss Indication) to this peer's
// sending browser, used when a new subscriber joins a video track so it
// doesn't have to wait for the next natural keyframe interval.
func (p *Peer) RequestKeyframe(source TrackSource) error {
	p.mu.RLock()
	local, ok := p.localTracks[source]
	p.mu.RUnlock()
	if !ok || local == nil {
		return nil
	}
	// The PLI must name the SSRC of the incoming stream for this source.
	for _, receiver := range p.conn.GetReceivers() {
		for _, remote := range receiver.Tracks() {
			if remote != nil && classifyIncomingTrack(remote) == source {
				return p.conn.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}})
			}
		}
	}
	return nil
}

func (p *Peer) GetLocalTrack(source TrackSource) *webrtc.TrackLocalStaticRTP {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localTracks[source]
}

func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if p.IsClosed() {
		return ErrPeerNotActive
	}
	return p.conn.SetRemoteDescription(sdp)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	if p.IsClosed() {
		return webrtc.SessionDescription{}, ErrPeerNotActive
	}
	return p.conn.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	if p.IsClosed() {
		return ErrPeerNotActive
	}
	return p.conn.SetLocalDescription(sdp)
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.IsClosed() {
		return webrtc.SessionDescription{}, ErrPeerNotActive
	}
	return p.conn.CreateOffer(nil)
}

func (p *Peer) Rollback() error {
	return p.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.conn.SignalingState()
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if p.IsClosed() {
		return ErrPeerNotActive
	}
	return p.conn.AddICECandidate(candidate)
}

// SetMuted toggles the client-reported mute state for a source, used by
// room-level UI presence only; pion keeps forwarding muted silence frames.
func (p *Peer) SetMuted(source TrackSource, muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted[source] = muted
}

func (p *Peer) IsMuted(source TrackSource) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.muted[source]
}

func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

func (p *Peer) IsActive() bool {
	return p.State() == PeerStateActive
}

func (p *Peer) IsClosed() bool {
	s := p.State()
	return s == PeerStateClosing || s == PeerStateClosed
}

func (p *Peer) isClosedLocked() bool {
	s := p.State()
	return s == PeerStateClosing || s == PeerStateClosed
}

func isValidPeerTransition(from, to PeerState) bool {
	switch from {
	case PeerStateConnecting:
		return to == PeerStateActive || to == PeerStateClosing
	case PeerStateActive:
		return to == PeerStateClosing
	case PeerStateClosing:
		return to == PeerStateClosed
	default:
		return false
	}
}

func (p *Peer) transitionTo(next PeerState) bool {
	for {
		current := PeerState(p.state.Load())
		if !isValidPeerTransition(current, next) {
			return false
		}
		if p.state.CompareAndSwap(int32(current), int32(next)) {
			return true
		}
	}
}

// Close tears down the peer connection and waits (bounded) for its
// goroutines to exit.
func (p *Peer) Close() error {
	if !p.transitionTo(PeerStateClosing) {
		return nil
	}

	p.cancel()
	err := p.conn.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(peerCloseTimeout):
		logging.Warn(context.Background(), "sfu: peer goroutines did not exit in time", zap.String("user_id", p.ID))
	}

	p.transitionTo(PeerStateClosed)
	p.room.onPeerClosed(p.ID)
	return err
}
