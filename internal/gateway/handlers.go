package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/voice/sfu"
)

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[subscribePayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "subscribe requires a channel")
		return
	}

	if payload.Channel == bus.AdminEventsTopic {
		if h.cfg.Admin == nil || !h.cfg.Admin.IsElevatedAdmin(ctx, c.UserID) {
			c.sendError("no_permission", "admin event subscription requires an elevated session")
			return
		}
		h.subscribeTopic(bus.AdminEventsTopic, c)
		return
	}

	h.subscribeTopic(bus.ChannelTopic(payload.Channel), c)
}

func (h *Hub) handleUnsubscribe(c *Client, env Envelope) {
	payload, err := decode[subscribePayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	if payload.Channel == bus.AdminEventsTopic {
		h.unsubscribeTopic(bus.AdminEventsTopic, c)
		return
	}
	h.unsubscribeTopic(bus.ChannelTopic(payload.Channel), c)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, env Envelope, event string) {
	payload, err := decode[typingPayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	if event == "" {
		return // stop_typing is fire-and-forget; clients simply time out TypingStart locally
	}
	_ = h.cfg.Bus.Publish(ctx, bus.ChannelTopic(payload.Channel), event,
		map[string]any{"channel": payload.Channel, "user_id": c.UserID}, c.UserID)
}

func (h *Hub) handleVoiceJoin(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[voiceJoinPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "voice_join requires a channel")
		return
	}

	peer, joinErr := h.sfuMgr.Join(ctx, payload.Channel, c.UserID)
	if joinErr != nil {
		if je, ok := joinErr.(*sfu.JoinError); ok {
			c.sendError(string(je.Reason), "voice join denied")
		} else {
			c.sendError("internal", "voice join failed")
		}
		return
	}
	_ = peer

	c.mu.Lock()
	c.voiceChannel = payload.Channel
	c.mu.Unlock()

	room := h.sfuMgr.Room(payload.Channel)
	count := 0
	if room != nil {
		count = room.PeerCount()
	}
	c.Send(EventVoiceRoomState, map[string]any{"channel": payload.Channel, "participant_count": count})

	if h.cfg.Bus != nil {
		_ = h.cfg.Bus.Publish(ctx, bus.ChannelTopic(payload.Channel), EventVoiceUserJoined,
			map[string]any{"channel": payload.Channel, "user_id": c.UserID}, c.UserID)
	}
}

func (h *Hub) handleVoiceLeave(c *Client, env Envelope) {
	payload, err := decode[voiceJoinPayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	h.sfuMgr.Leave(payload.Channel, c.UserID)

	c.mu.Lock()
	if c.voiceChannel == payload.Channel {
		c.voiceChannel = ""
	}
	c.mu.Unlock()

	_ = h.cfg.Bus.Publish(h.ctx, bus.ChannelTopic(payload.Channel), EventVoiceUserLeft,
		map[string]any{"channel": payload.Channel, "user_id": c.UserID}, c.UserID)
}

func (h *Hub) handleVoiceOffer(c *Client, env Envelope) {
	payload, err := decode[voiceOfferPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "voice_offer requires a channel and sdp")
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		c.sendError("not_in_channel", "no active voice room for this channel")
		return
	}
	answer, err := room.HandleOffer(c.UserID, payload.SDP)
	if err != nil {
		logging.Warn(h.ctx, "gateway: handle voice offer failed", zap.String("user_id", c.UserID), zap.Error(err))
		c.sendError("internal", "failed to process offer")
		return
	}
	if answer == "" {
		return // offer collision; client rolls back per perfect-negotiation
	}
	c.Send(EventVoiceAnswer, voiceOfferPayload{Channel: payload.Channel, SDP: answer})
}

func (h *Hub) handleVoiceAnswer(c *Client, env Envelope) {
	payload, err := decode[voiceAnswerPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "voice_answer requires a channel and sdp")
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		c.sendError("not_in_channel", "no active voice room for this channel")
		return
	}
	if err := room.HandleAnswer(c.UserID, payload.SDP); err != nil {
		logging.Warn(h.ctx, "gateway: handle voice answer failed", zap.String("user_id", c.UserID), zap.Error(err))
		c.sendError("internal", "failed to process answer")
	}
}

func (h *Hub) handleVoiceICE(c *Client, env Envelope) {
	payload, err := decode[voiceICEPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "voice_ice_candidate requires a channel and candidate")
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		c.sendError("not_in_channel", "no active voice room for this channel")
		return
	}
	if err := room.HandleICECandidate(c.UserID, payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
		logging.Warn(h.ctx, "gateway: handle ICE candidate failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

func (h *Hub) handleVoiceMute(c *Client, env Envelope, muted bool) {
	payload, err := decode[voiceMutePayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		return
	}

	event := EventVoiceUserUnmuted
	if muted {
		event = EventVoiceUserMuted
	}
	_ = h.cfg.Bus.Publish(h.ctx, bus.ChannelTopic(payload.Channel), event,
		map[string]any{"channel": payload.Channel, "user_id": c.UserID, "source": payload.Source}, c.UserID)
}

func (h *Hub) handleVoiceStats(c *Client, env Envelope) {
	payload, err := decode[voiceStatsPayload](env)
	if err != nil {
		return
	}
	h.sfuMgr.RecordHealth(sfu.HealthSample{
		JoinSuccessRate: payload.JoinSuccessRate,
		LossP95:         payload.LossP95,
		JitterP95Ms:     payload.JitterP95Ms,
		CrashRate:       payload.CrashRate,
	})
}

func (h *Hub) handleScreenShareStart(c *Client, env Envelope) {
	payload, err := decode[screenShareStartPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "screen_share_start requires a channel")
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		c.sendError("not_in_channel", "no active voice room for this channel")
		return
	}

	requested := sfu.QualityMedium
	switch payload.Quality {
	case "low":
		requested = sfu.QualityLow
	case "high":
		requested = sfu.QualityHigh
	case "premium":
		requested = sfu.QualityPremium
	}

	granted, shareErr := room.StartScreenShare(c.UserID, requested, false)
	if shareErr != nil {
		if se, ok := shareErr.(*sfu.ScreenShareError); ok {
			c.sendError(string(se.Reason), "screen share denied")
		} else {
			c.sendError("internal", "screen share failed")
		}
		return
	}

	_ = h.cfg.Bus.Publish(h.ctx, bus.ChannelTopic(payload.Channel), EventScreenShareStarted,
		map[string]any{"channel": payload.Channel, "user_id": c.UserID, "quality": granted.String(), "has_audio": payload.HasAudio}, c.UserID)
}

func (h *Hub) handleScreenShareStop(c *Client, env Envelope) {
	payload, err := decode[screenSharePayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	room := h.sfuMgr.Room(payload.Channel)
	if room == nil {
		return
	}
	room.StopScreenShare(c.UserID)
	_ = h.cfg.Bus.Publish(h.ctx, bus.ChannelTopic(payload.Channel), EventScreenShareStopped,
		map[string]any{"channel": payload.Channel, "user_id": c.UserID}, c.UserID)
}

func (h *Hub) handleCallStart(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callPayload](env)
	if err != nil || payload.Channel == "" {
		c.sendError("bad_payload", "call_start requires a channel and targets")
		return
	}
	if _, err := h.calls.Start(ctx, payload.Channel, c.UserID, payload.Targets); err != nil {
		c.sendError("call_conflict", err.Error())
	}
}

func (h *Hub) handleCallJoin(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callPayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	if _, err := h.calls.Join(ctx, payload.Channel, c.UserID); err != nil {
		c.sendError("call_error", err.Error())
	}
}

func (h *Hub) handleCallDecline(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callPayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	if _, err := h.calls.Decline(ctx, payload.Channel, c.UserID); err != nil {
		c.sendError("call_error", err.Error())
	}
}

func (h *Hub) handleCallLeave(ctx context.Context, c *Client, env Envelope) {
	payload, err := decode[callPayload](env)
	if err != nil || payload.Channel == "" {
		return
	}
	if _, err := h.calls.Leave(ctx, payload.Channel, c.UserID); err != nil {
		c.sendError("call_error", err.Error())
	}
}
