// Package middleware provides authentication and authorization middleware for the application.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"livecount/internal/config"
	"livecount/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// Role prefixes carried in the "role" claim.
const (
	RolePrefixAdmin  = "ROLE_ADMIN"
	RolePrefixSeller = "ROLE_SELLER"
)

var (
	errMissingToken  = errors.New("authorization required")
	errInvalidToken  = errors.New("invalid or expired token")
	errInvalidHeader = errors.New("invalid authorization header format")
	errInvalidUserID = errors.New("invalid user ID in token")
)

// Principal is the authenticated caller resolved from a token.
type Principal struct {
	UserID int64
	Role   string
}

// bearerToken extracts the token from "Bearer <token>". An empty header is not an error.
func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errInvalidHeader
	}
	return parts[1], nil
}

// ParseToken validates an HMAC-signed JWT and returns its subject and role.
func ParseToken(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, errMissingToken
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}

	// Subject claim per RFC 7519
	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, errInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return nil, errInvalidUserID
	}

	role, _ := claims["role"].(string)
	return &Principal{UserID: userID, Role: role}, nil
}

// setPrincipal stores the caller in locals and in the user context for logging.
func setPrincipal(c *fiber.Ctx, p *Principal) {
	c.Locals("userID", p.UserID)
	c.Locals("role", p.Role)
	ctx := context.WithValue(c.UserContext(), UserIDKey, p.UserID)
	c.SetUserContext(ctx)
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Invalid authorization header format"))
	}
	if tokenString == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Authorization header required"))
	}

	p, err := ParseToken(tokenString)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(capitalize(err.Error())))
	}

	setPrincipal(c, p)
	return c.Next()
}

// OptionalAuth resolves the caller when a valid token is present and otherwise
// lets the request through anonymously.
func OptionalAuth(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil || tokenString == "" {
		return c.Next()
	}
	if p, err := ParseToken(tokenString); err == nil {
		setPrincipal(c, p)
	}
	return c.Next()
}

// WebSocketAuth resolves the caller from the "token" query parameter before an upgrade.
// Anonymous viewers are allowed; an invalid token is rejected.
func WebSocketAuth(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		var err error
		token, err = bearerToken(c)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Invalid authorization header format"))
		}
	}
	if token == "" {
		return c.Next()
	}

	p, err := ParseToken(token)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(capitalize(err.Error())))
	}
	setPrincipal(c, p)
	return c.Next()
}

// RoleRequired rejects callers whose role claim starts with none of the given prefixes.
// Must be placed after AuthRequired.
func RoleRequired(prefixes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		for _, prefix := range prefixes {
			if strings.HasPrefix(role, prefix) {
				return c.Next()
			}
		}
		return models.RespondWithError(c, fiber.StatusForbidden, models.NewForbiddenError("Insufficient role"))
	}
}

// AdminRequired allows administrators only.
func AdminRequired() fiber.Handler {
	return RoleRequired(RolePrefixAdmin)
}

// UserID returns the authenticated member id, if any.
func UserID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals("userID").(int64)
	return id, ok && id > 0
}

// Role returns the authenticated role claim, or "" for anonymous callers.
func Role(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
