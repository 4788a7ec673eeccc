package admin

import (
	"github.com/gin-gonic/gin"
)

// These are the gin context keys the middleware stores its results under.
const (
	systemAdminContextKey = "admin.system_admin"
	elevatedContextKey    = "admin.elevated"
)

// respond writes an *Error in the original service's {error, message} shape
// and aborts the request.
func respond(c *gin.Context, err error) {
	if ae, ok := err.(*Error); ok {
		c.AbortWithStatusJSON(ae.HTTPStatus(), ae.Body())
		return
	}
	c.AbortWithStatusJSON(500, gin.H{"error": "internal", "message": "internal error"})
}

// RequireSystemAdmin returns gin middleware that loads the caller's system
// admin grant and stores it in context, or aborts with ErrNotAdmin. userIDKey
// and usernameKey name the context keys an earlier auth middleware is
// expected to have populated.
func RequireSystemAdmin(svc *Service, userIDKey, usernameKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := c.Get(userIDKey)
		uid, _ := userID.(string)
		if uid == "" {
			respond(c, ErrNotAdmin)
			return
		}
		username, _ := c.Get(usernameKey)
		uname, _ := username.(string)

		admin, err := svc.RequireSystemAdmin(c.Request.Context(), uid, uname)
		if err != nil {
			respond(c, err)
			return
		}
		c.Set(systemAdminContextKey, admin)
		c.Next()
	}
}

// RequireElevated returns gin middleware that additionally requires a live
// elevated session; it must run after RequireSystemAdmin.
func RequireElevated(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, ok := CurrentSystemAdmin(c)
		if !ok {
			respond(c, ErrNotAdmin)
			return
		}
		elevated, err := svc.RequireElevated(c.Request.Context(), admin.UserID)
		if err != nil {
			respond(c, err)
			return
		}
		c.Set(elevatedContextKey, elevated)
		c.Next()
	}
}

// CurrentSystemAdmin returns the SystemAdminUser attached by
// RequireSystemAdmin, if any.
func CurrentSystemAdmin(c *gin.Context) (SystemAdminUser, bool) {
	v, ok := c.Get(systemAdminContextKey)
	if !ok {
		return SystemAdminUser{}, false
	}
	admin, ok := v.(SystemAdminUser)
	return admin, ok
}

// CurrentElevatedAdmin returns the ElevatedAdmin attached by RequireElevated,
// if any.
func CurrentElevatedAdmin(c *gin.Context) (ElevatedAdmin, bool) {
	v, ok := c.Get(elevatedContextKey)
	if !ok {
		return ElevatedAdmin{}, false
	}
	elevated, ok := v.(ElevatedAdmin)
	return elevated, ok
}
