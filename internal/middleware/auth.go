package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/csrnotify/internal/auth"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*iauth.Claims, error)
}

// Auth enforces bearer token authentication.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := validator.ValidateAccessToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			// every validation failure is a 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry an operator role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ClaimsFrom(c).IsAdmin() {
			response.Error(c, ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ErrForbidden is returned when an authenticated caller lacks the required role.
var ErrForbidden = errors.New("FORBIDDEN", "Operation not permitted", http.StatusForbidden)

// ClaimsFrom returns the claims stored by Auth, or nil.
func ClaimsFrom(c *gin.Context) *iauth.Claims {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*iauth.Claims)
	return claims
}
