package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced by AllowedOrigins before upgrade
}

// ServeUserWS upgrades an authenticated user's connection to the user
// gateway: text/presence events, voice signaling, DM call coordination,
// and (for system admins with a live elevated session) the admin audit
// stream.
func ServeUserWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerOrQueryToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
			return
		}

		claims, err := h.cfg.Validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
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

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn(c.Request.Context(), "gateway: websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(h, conn, claims.Subject, false)
		h.registerUser(client)

		go client.writePump()
		go client.readPump()
	}
}

// bearerOrQueryToken accepts the session token from either an Authorization
// header or a ?token= query parameter, since browser WebSocket clients
// cannot set arbitrary headers on the upgrade request.
func bearerOrQueryToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}
