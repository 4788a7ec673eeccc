package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type elevateRequest struct {
	MFACode string `json:"mfa_code"`
	Reason  string `json:"reason" binding:"required"`
}

// ElevateHandler handles POST /api/admin/elevate. It must run behind
// RequireSystemAdmin so userIDKey is already populated in context.
func ElevateHandler(svc *Service, userIDKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := c.Get(userIDKey)
		uid, _ := userID.(string)

		var req elevateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond(c, Validation(err.Error()))
			return
		}

		result, err := svc.Elevate(c.Request.Context(), uid, req.MFACode, req.Reason)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"elevated":   result.Elevated,
			"expires_at": result.ExpiresAt,
			"session_id": result.SessionID,
		})
	}
}

// DeElevateHandler handles POST /api/admin/de-elevate.
func DeElevateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := CurrentSystemAdmin(c)
		if !ok {
			respond(c, ErrNotAdmin)
			return
		}
		if err := svc.DeElevate(c.Request.Context(), admin.UserID); err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"elevated": false})
	}
}

// EnrollMFAHandler handles POST /api/admin/mfa/enroll, generating a fresh
// TOTP secret for the caller and returning the otpauth:// URL to scan.
func EnrollMFAHandler(verifier *TOTPVerifier, userIDKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := c.Get(userIDKey)
		uid, _ := userID.(string)
		if uid == "" {
			respond(c, ErrNotAdmin)
			return
		}
		url, err := verifier.Enroll(c.Request.Context(), uid, "canis", uid)
		if err != nil {
			respond(c, Database(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"otpauth_url": url})
	}
}

// AuditLogHandler handles GET /api/admin/audit-log?actor=&limit=. It must
// run behind RequireElevated.
func AuditLogHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.Query("actor")
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := svc.AuditLog(c.Request.Context(), actorID, limit)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}
