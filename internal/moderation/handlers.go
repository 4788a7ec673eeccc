package moderation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wolftown-io/canis-server/internal/store"
)

type setFilterConfigRequest struct {
	Kind     string `json:"kind" binding:"required"`
	Enabled  bool   `json:"enabled"`
	Severity string `json:"severity"`
}

// SetFilterConfigHandler handles PUT /api/guilds/:guildId/filters. It
// invalidates the guild's cached engine so the next message is matched
// against the new configuration.
func SetFilterConfigHandler(db *store.Pool, cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		guildID := c.Param("guildId")
		var req setFilterConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		severity := req.Severity
		if severity == "" {
			severity = "medium"
		}
		if err := db.UpsertFilterConfig(c.Request.Context(), guildID, req.Kind, req.Enabled, severity); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
			return
		}
		cache.Invalidate(guildID)
		c.Status(http.StatusNoContent)
	}
}

type addPatternRequest struct {
	Pattern string `json:"pattern" binding:"required"`
}

// AddCustomPatternHandler handles POST /api/guilds/:guildId/filters/patterns.
func AddCustomPatternHandler(db *store.Pool, cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		guildID := c.Param("guildId")
		var req addPatternRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		id, err := db.AddCustomPattern(c.Request.Context(), guildID, req.Pattern)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
			return
		}
		cache.Invalidate(guildID)
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// DeleteCustomPatternHandler handles DELETE /api/guilds/:guildId/filters/patterns/:patternId.
func DeleteCustomPatternHandler(db *store.Pool, cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		guildID := c.Param("guildId")
		patternID := c.Param("patternId")
		if err := db.DeleteCustomPattern(c.Request.Context(), guildID, patternID); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
			return
		}
		cache.Invalidate(guildID)
		c.Status(http.StatusNoContent)
	}
}

type testContentRequest struct {
	Content string `json:"content" binding:"required"`
}

// TestContentHandler handles POST /api/guilds/:guildId/filters/test,
// matching against an ephemeral engine build so a preview never perturbs
// the live cache.
func TestContentHandler(cache *Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		guildID := c.Param("guildId")
		var req testContentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		engine, err := cache.BuildEphemeral(c.Request.Context(), guildID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"blocked": engine.Match(req.Content)})
	}
}
