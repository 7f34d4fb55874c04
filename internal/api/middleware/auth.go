package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LaxRaj/the-garage/internal/api/responses"
	"github.com/LaxRaj/the-garage/internal/auth"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/models"
)

// ContextKeyIdentity holds the authenticated models.Identity in the Gin context.
const ContextKeyIdentity = "identity"

// AuthMiddleware requires a valid bearer token.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return authenticate(jwtSecret, true)
}

// OptionalAuthMiddleware attaches the identity when a token is present.
// A present but invalid token is still rejected.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return authenticate(jwtSecret, false)
}

func authenticate(jwtSecret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if required {
				responses.WriteError(c, apperrors.New(apperrors.CodeUnauthorized, "Authorization header required"))
				return
			}
			c.Next()
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			responses.WriteError(c, apperrors.New(apperrors.CodeUnauthorized, "Authorization header format must be Bearer {token}"))
			return
		}

		identity, err := auth.ParseIdentity(parts[1], jwtSecret)
		if err != nil {
			responses.WriteError(c, apperrors.Wrap(apperrors.CodeUnauthorized, err, "invalid or expired token"))
			return
		}

		c.Set(ContextKeyIdentity, identity)
		ctx := logger.Default().WithUserID(c.Request.Context(), identity.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ContractorMiddleware requires the contractor role. AuthMiddleware must run first.
func ContractorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			responses.WriteError(c, apperrors.New(apperrors.CodeUnauthorized, "authentication required"))
			return
		}
		if !identity.IsContractor() {
			responses.WriteError(c, apperrors.Forbidden("contractor role required"))
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity set by the auth middleware.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
