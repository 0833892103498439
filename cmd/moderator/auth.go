package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const userIDKey = "userID"

// Extracts the caller's user ID from a verified HS256 bearer token. Tokens are issued elsewhere, with the user ID in the "id" claim.
func (s *Server) parseUserToken(raw string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	switch v := claims["id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", fmt.Errorf("token missing user id claim")
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := ""
		if hdr := c.Request().Header.Get("Authorization"); hdr != "" {
			tok, ok := strings.CutPrefix(hdr, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: No token provided")
			}
			raw = tok
		} else {
			// browsers can't set headers on websocket upgrades
			raw = c.QueryParam("token")
		}
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: No token provided")
		}
		uid, err := s.parseUserToken(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: Invalid token")
		}
		c.Set(userIDKey, uid)
		return next(c)
	}
}

func currentUser(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}
