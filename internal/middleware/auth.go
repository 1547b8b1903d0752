package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

const (
	userKey           = "user"
	SessionCookieName = "session_token"
)

// SessionStore resolves a session token to its user.
type SessionStore interface {
	GetSessionUser(ctx context.Context, token string) (*types.User, error)
}

// Auth rejects requests without a valid session. The token is read from
// the session cookie, then from a Bearer Authorization header.
func Auth(sessions SessionStore, notFound error) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			abortUnauthorized(c, "missing session")
			return
		}

		user, err := sessions.GetSessionUser(c.Request.Context(), token)
		if err != nil {
			if notFound == nil || !errors.Is(err, notFound) {
				utils.Zlog.Error("Session lookup failed", zap.Error(err))
			}
			abortUnauthorized(c, "invalid or expired session")
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the user set by Auth.
func CurrentUser(c *gin.Context) (*types.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*types.User)
	return u, ok && u != nil
}

// SetUser is used by tests and by handlers mounted behind other auth.
func SetUser(c *gin.Context, u *types.User) {
	c.Set(userKey, u)
}

func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":     "unauthorized",
		"message":   msg,
		"timestamp": time.Now().UTC(),
	})
}
