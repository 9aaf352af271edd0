package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const OpaqueIDKey contextKey = "opaque_id"

// Middleware validates a bearer token minted by Service.IssueOpaqueID and
// stores its subject (the opaque ID) in the echo context. Optional: routes
// that accept a bare X-User-Opaque-Id header instead don't use this.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		secretKey, err := jwtSecretFromEnv()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Server auth configuration error")
		}

		tokenString := parts[1]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretKey, nil
		})

		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
		}

		c.Set(string(OpaqueIDKey), sub)
		return next(c)
	}
}

// OptionalMiddleware behaves like Middleware when a well-formed bearer
// token is present, but passes the request through instead of rejecting it
// when the header is absent or malformed — routes that also accept a bare
// X-User-Opaque-Id header use this instead of Middleware.
func OptionalMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return next(c)
		}

		secretKey, err := jwtSecretFromEnv()
		if err != nil {
			return next(c)
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretKey, nil
		})
		if err != nil || !token.Valid {
			return next(c)
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return next(c)
		}
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			c.Set(string(OpaqueIDKey), sub)
		}
		return next(c)
	}
}

// OpaqueIDFromContext retrieves the opaque ID Middleware stored, if any.
func OpaqueIDFromContext(c echo.Context) (string, error) {
	val := c.Get(string(OpaqueIDKey))
	id, ok := val.(string)
	if !ok || id == "" {
		return "", errors.New("opaque id not found in context")
	}
	return id, nil
}
