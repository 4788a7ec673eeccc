package webhooks

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wolftown-io/canis-server/internal/store"
)

// respond writes a typed *Error in the {error, message} envelope.
func respond(c *gin.Context, err error) {
	if we, ok := err.(*Error); ok {
		c.AbortWithStatusJSON(we.HTTPStatus(), we.Body())
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
}

type createWebhookRequest struct {
	URL          string   `json:"url" binding:"required"`
	GuildID      string   `json:"guild_id"`
	SubscribedTo []string `json:"subscribed_events" binding:"required"`
}

// CreateHandler handles POST /api/applications/:id/webhooks.
func CreateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.Param("id")
		var req createWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond(c, Validation(err.Error()))
			return
		}

		events := make([]EventType, len(req.SubscribedTo))
		for i, e := range req.SubscribedTo {
			events[i] = EventType(e)
		}

		w, err := svc.Create(c.Request.Context(), appID, req.URL, events, req.GuildID)
		if err != nil {
			respond(c, err)
			return
		}
		// The signing secret is returned exactly once, at creation.
		c.JSON(http.StatusCreated, gin.H{
			"id":                w.ID,
			"application_id":    w.ApplicationID,
			"url":               w.URL,
			"signing_secret":    w.SigningSecret,
			"subscribed_events": w.EventTypes,
			"active":            w.Active,
		})
	}
}

// TestHandler handles POST /api/applications/:id/webhooks/:webhookId/test by
// enqueuing a synthetic command.invoked delivery.
func TestHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.Param("id")
		svc.DispatchCommandEvent(c.Request.Context(), appID, gin.H{"test": true})
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

// DeliveriesHandler handles GET /api/applications/:id/webhooks/:webhookId/deliveries.
func DeliveriesHandler(db *store.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		webhookID := c.Param("webhookId")
		deliveries, err := db.ListDeliveries(c.Request.Context(), webhookID, 50)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, deliveries)
	}
}
