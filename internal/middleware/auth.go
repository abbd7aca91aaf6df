package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
)

const (
	// ContextKeyClaims is the key for the verified token claims in gin context
	ContextKeyClaims = "claims"
)

// AuthMiddleware creates a JWT authentication middleware
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}

		// Validate token
		claims, err := authService.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextKeyClaims, claims)

		// Routes scoped to an account only admit tokens for that account
		if accountID := c.Param("account_id"); accountID != "" && !claims.CanAccess(accountID) {
			response.Forbidden(c, "token does not grant access to this account")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAdmin rejects requests whose token is not an admin token.
// It must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.Admin {
			response.Forbidden(c, "admin token required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetClaims gets the verified claims from the gin context
func GetClaims(c *gin.Context) *service.JWTClaims {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	return claims.(*service.JWTClaims)
}

// bearerToken extracts the token from the Authorization header, or from the
// token query parameter for WebSocket upgrades that cannot set headers
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token")
	}

	// Check Bearer prefix
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
