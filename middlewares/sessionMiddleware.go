package middlewares

import (
	"net/http"
	"strconv"

	"github.com/afrimobile/shares_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware copies the identity headers set by the fronting gateway
// into the request context. Authentication itself happens upstream; this
// service only needs to know who the gateway says is calling.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if raw := c.GetHeader("x-user-id"); raw != "" {
			if userId, err := strconv.Atoi(raw); err == nil && userId > 0 {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if email := c.GetHeader("x-user-email"); email != "" {
			ctx = utils.SetUserEmailInContext(ctx, email)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminMiddleware gates the admin route group. The gateway asserts admin
// identity with x-admin-id; requests without it never reach the handlers.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("x-admin-id")
		adminId, err := strconv.Atoi(raw)
		if raw == "" || err != nil || adminId <= 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin identity required"})
			return
		}
		ctx := utils.SetAdminIdInContext(c.Request.Context(), adminId)
		ctx = utils.SetIsAdminInContext(ctx, true)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
