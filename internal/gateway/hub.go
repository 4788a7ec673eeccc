package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/admin"
	"github.com/wolftown-io/canis-server/internal/auth"
	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/moderation"
	"github.com/wolftown-io/canis-server/internal/ratelimit"
	"github.com/wolftown-io/canis-server/internal/store"
	"github.com/wolftown-io/canis-server/internal/voice/call"
	"github.com/wolftown-io/canis-server/internal/voice/sfu"
	"github.com/wolftown-io/canis-server/internal/webhooks"
)

// Config is everything the Hub needs from the rest of the service graph.
// It owns constructing the voice Manager and call Coordinator itself since
// the Manager's SignalingFunc closes back over the Hub's per-user delivery.
type Config struct {
	Bus          *bus.Service
	DB           *store.Pool
	Admin        *admin.Service
	Filters      *moderation.Cache
	Webhooks     *webhooks.Service
	Limiter      *ratelimit.Limiter
	Validator    auth.TokenValidator
	BotValidator auth.TokenValidator
	SFUConfig    *sfu.Config
	TrustProxy   bool
}

// topicSub fans a single bus subscription out to every local client that
// has joined it, so the Hub holds one goroutine per topic regardless of
// how many connections on this node are interested in it.
type topicSub struct {
	cancel      context.CancelFunc
	subscribers map[string]*Client // userID -> client
}

// Hub is the process-wide coordinator for both WebSocket gateways: it
// tracks live connections, multiplexes bus topics across them, and wires
// client requests into the voice, call, admin, and moderation subsystems.
type Hub struct {
	cfg Config

	sfuMgr *sfu.Manager
	calls  *call.Coordinator

	mu      sync.RWMutex
	clients map[string]*Client   // userID -> user-gateway client
	bots    map[string]*Client   // botUserID -> bot-gateway client
	topics  map[string]*topicSub // bus topic -> local fan-out

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a Hub, constructing the voice SFU Manager wired to push
// signaling events straight to the owning connection.
func NewHub(cfg Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:     cfg,
		clients: make(map[string]*Client),
		bots:    make(map[string]*Client),
		topics:  make(map[string]*topicSub),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.sfuMgr = sfu.NewManager(cfg.SFUConfig, h.signalUser)
	h.calls = call.NewCoordinator(cfg.Bus, cfg.DB)
	return h
}

// Close tears down every active voice room and bus subscription. Used on
// server shutdown.
func (h *Hub) Close() {
	h.cancel()
	h.sfuMgr.Close()
}

func (h *Hub) signalUser(userID, eventType string, payload any) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.Send(eventType, payload)
}

func (h *Hub) registerUser(c *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.UserID]; ok {
		existing.close()
	}
	h.clients[c.UserID] = c
	h.mu.Unlock()
	metrics.ActiveWebSocketConnections.Inc()

	h.subscribeTopic(bus.UserTopic(c.UserID), c)
}

func (h *Hub) registerBot(c *Client) {
	h.mu.Lock()
	if existing, ok := h.bots[c.UserID]; ok {
		existing.close()
	}
	h.bots[c.UserID] = c
	h.mu.Unlock()
	metrics.ActiveWebSocketConnections.Inc()

	h.subscribeTopic(bus.BotTopic(c.UserID), c)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if c.IsBot {
		if h.bots[c.UserID] == c {
			delete(h.bots, c.UserID)
		}
	} else {
		if h.clients[c.UserID] == c {
			delete(h.clients, c.UserID)
		}
	}
	topics := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		topics = append(topics, t)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketConnections.Dec()

	for _, t := range topics {
		h.unsubscribeTopic(t, c)
	}

	c.mu.Lock()
	channel := c.voiceChannel
	c.mu.Unlock()
	if channel != "" {
		h.sfuMgr.Leave(channel, c.UserID)
	}
}

// subscribeTopic joins client to topic's local fan-out, starting the
// underlying bus subscription on first interest and tearing it down on
// last departure.
func (h *Hub) subscribeTopic(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subscriptions[topic] = struct{}{}

	sub, ok := h.topics[topic]
	if ok {
		sub.subscribers[c.UserID] = c
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	sub = &topicSub{cancel: cancel, subscribers: map[string]*Client{c.UserID: c}}
	h.topics[topic] = sub

	h.cfg.Bus.Subscribe(ctx, topic, nil, func(env bus.Envelope) {
		h.mu.RLock()
		recipients := make([]*Client, 0, len(sub.subscribers))
		for _, rc := range sub.subscribers {
			recipients = append(recipients, rc)
		}
		h.mu.RUnlock()
		for _, rc := range recipients {
			rc.Send(env.Event, json.RawMessage(env.Payload))
		}
	})
}

func (h *Hub) unsubscribeTopic(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.subscriptions, topic)
	sub, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(sub.subscribers, c.UserID)
	if len(sub.subscribers) == 0 {
		sub.cancel()
		delete(h.topics, topic)
	}
}

// route dispatches one decoded client frame to the handler for its op.
func (h *Hub) route(c *Client, env Envelope) {
	ctx := h.ctx

	var cat ratelimit.Category
	switch env.Op {
	case OpVoiceJoin:
		cat = ratelimit.CategoryVoiceJoin
	default:
		cat = ratelimit.CategoryWSMessage
	}
	if h.cfg.Limiter != nil {
		decision, err := h.cfg.Limiter.Allow(ctx, cat, ratelimit.KeyForUser(c.UserID))
		if err == nil && !decision.Allowed {
			c.sendError("rate_limited", "too many requests")
			return
		}
	}

	switch env.Op {
	case OpSubscribe:
		h.handleSubscribe(ctx, c, env)
	case OpUnsubscribe:
		h.handleUnsubscribe(c, env)
	case OpTyping:
		h.handleTyping(ctx, c, env, EventTypingStart)
	case OpStopTyping:
		h.handleTyping(ctx, c, env, "")
	case OpPing:
		c.Send("Pong", struct{}{})
	case OpVoiceJoin:
		h.handleVoiceJoin(ctx, c, env)
	case OpVoiceLeave:
		h.handleVoiceLeave(c, env)
	case OpVoiceOffer:
		h.handleVoiceOffer(c, env)
	case OpVoiceAnswer:
		h.handleVoiceAnswer(c, env)
	case OpVoiceICE:
		h.handleVoiceICE(c, env)
	case OpVoiceMute:
		h.handleVoiceMute(c, env, true)
	case OpVoiceUnmute:
		h.handleVoiceMute(c, env, false)
	case OpVoiceStats:
		h.handleVoiceStats(c, env)
	case OpScreenShareStart:
		h.handleScreenShareStart(c, env)
	case OpScreenShareStop:
		h.handleScreenShareStop(c, env)
	case OpCallStart:
		h.handleCallStart(ctx, c, env)
	case OpCallJoin:
		h.handleCallJoin(ctx, c, env)
	case OpCallDecline:
		h.handleCallDecline(ctx, c, env)
	case OpCallLeave:
		h.handleCallLeave(ctx, c, env)
	default:
		logging.Warn(ctx, "gateway: unknown op", zap.String("op", env.Op), zap.String("user_id", c.UserID))
		c.sendError("unknown_op", "unrecognized operation: "+env.Op)
	}
}

func decode[T any](env Envelope) (T, error) {
	var v T
	err := json.Unmarshal(env.D, &v)
	return v, err
}
