package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/bus"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/ratelimit"
)

// ServeBotWS upgrades a bot application's connection to the bot gateway.
// Bots authenticate with an `Authorization: Bot <token>` header (validated
// by a dedicated bot-token validator, distinct from user sessions) and
// declare the guild they're operating in via ?guild_id=; events replicated
// to the connection are filtered to the intents recorded for that bot in
// that guild.
func ServeBotWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := botToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bot token not provided"})
			return
		}
		validator := h.cfg.BotValidator
		if validator == nil {
			validator = h.cfg.Validator
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid bot token"})
			return
		}

		guildID := c.Query("guild_id")
		if guildID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
			return
		}

		if h.cfg.Limiter != nil {
			ip := ratelimit.ExtractClientIP(c.Request, h.cfg.TrustProxy)
			decision, rlErr := h.cfg.Limiter.Allow(c.Request.Context(), ratelimit.CategoryWSConnect, ratelimit.KeyForIP(ip))
			if rlErr == nil && !decision.Allowed {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
				return
			}
		}

		var intents []string
		if h.cfg.DB != nil {
			intents, err = h.cfg.DB.BotGatewayIntents(c.Request.Context(), claims.Subject, guildID)
			if err != nil {
				logging.Warn(c.Request.Context(), "gateway: failed to load bot intents", zap.Error(err))
			}
		}
		if intents == nil {
			// No recorded intents: filter with an empty set rather than
			// leaving the connection unfiltered.
			intents = []string{}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn(c.Request.Context(), "gateway: bot websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(h, conn, claims.Subject, true)
		client.allowedIntents = intents
		h.registerBot(client)
		h.subscribeTopic(bus.GuildTopic(guildID), client)

		go client.writePump()
		go client.readPump()
	}
}

func botToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bot ") {
		return strings.TrimPrefix(h, "Bot ")
	}
	return r.URL.Query().Get("token")
}
