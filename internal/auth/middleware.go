package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ResultKey is the gin context key holding the *Result of a request
	ResultKey ContextKey = "auth_result"
)

// GinAuth returns a Gin middleware that rejects unauthenticated requests with
// 401. A nil or disabled Authenticator lets everything through.
func (a *Authenticator) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		result, err := a.authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="agentvisor"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": err.Error(),
			})
			return
		}

		c.Set(string(ResultKey), result)
		c.Next()
	}
}

// authenticate extracts and validates credentials: a Bearer token first, then
// HTTP basic auth.
func (a *Authenticator) authenticate(r *http.Request) (*Result, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return a.Bearer(strings.TrimSpace(parts[1]))
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return a.Basic(username, password)
	}
	return nil, ErrMissingCredentials
}

// FromContext returns the caller stored by GinAuth, if any.
func FromContext(c *gin.Context) (*Result, bool) {
	v, ok := c.Get(string(ResultKey))
	if !ok {
		return nil, false
	}
	r, ok := v.(*Result)
	return r, ok
}
