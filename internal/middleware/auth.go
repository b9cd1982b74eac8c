// Package middleware provides authentication, logging, metrics and rate limiting for the HTTP layer.
package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"parley/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// authError is a 401 whose message is safe to return to the client.
type authError string

func (e authError) Error() string { return string(e) }

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	token, err := bearerToken(c.Get("Authorization"), "Authorization header required")
	if err != nil {
		return unauthorized(c, err)
	}
	return authenticate(c, token)
}

// WebSocketAuthRequired accepts the token from the "token" query parameter, falling back
// to the Authorization header. Browsers cannot set headers on a WebSocket upgrade.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		var err error
		token, err = bearerToken(c.Get("Authorization"), "Token required")
		if err != nil {
			return unauthorized(c, err)
		}
	}
	return authenticate(c, token)
}

// IssueToken signs an HS256 token whose subject is userID.
func IssueToken(userID uint, ttl time.Duration) (string, error) {
	if cfg == nil {
		return "", errors.New("middleware not initialized")
	}
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func bearerToken(header, missing string) (string, error) {
	if header == "" {
		return "", authError(missing)
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", authError("Invalid authorization header format")
	}
	return parts[1], nil
}

func authenticate(c *fiber.Ctx, raw string) error {
	userID, err := parseSubject(raw)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals("userID", userID)
	return c.Next()
}

// parseSubject validates raw and returns the user id from its "sub" claim.
func parseSubject(raw string) (uint, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, authError("Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, authError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, authError("Invalid token claims")
	}
	subClaim, ok := claims["sub"]
	if !ok {
		return 0, authError("Invalid token structure - missing subject")
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return 0, authError("Invalid token subject type")
	}
	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return 0, authError("Invalid user ID in token")
	}
	return uint(userIDVal), nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	msg := "Unauthorized"
	var ae authError
	if errors.As(err, &ae) {
		msg = string(ae)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}
