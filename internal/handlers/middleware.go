package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	usernameKey  = "username"
	bearerPrefix = "Bearer "
)

// userIdentity guards /api/v1 with the token issued by /auth/sign-in and
// stores the operator name under usernameKey.
func (h *Handler) userIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		unauthorized(c, "missing Authorization header")
		return
	}

	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		unauthorized(c, "invalid Authorization header format")
		return
	}

	username, err := h.services.ParseToken(token)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_token_rejected", "path", c.Request.URL.Path, "err", err)
		}
		unauthorized(c, "invalid or expired token")
		return
	}

	c.Set(usernameKey, username)
	c.Next()
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
