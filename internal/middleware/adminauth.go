package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminTokenTTL = 12 * time.Hour

// AdminAuth guards the dashboard API with bearer tokens minted by the
// login endpoint. There is a single admin role; the token carries no
// user identity.
type AdminAuth struct {
	Secret []byte
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{Secret: []byte(secret)}
}

// GenerateToken mints an admin session token and returns it with its
// lifetime in seconds.
func (a *AdminAuth) GenerateToken() (string, int, error) {
	claims := jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(adminTokenTTL).Unix(),
		"iat":  time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int(adminTokenTTL.Seconds()), nil
}

// Verify checks a raw token string. The websocket upgrade uses this
// directly because browsers cannot set headers on websocket dials and
// carry the token as a query parameter instead.
func (a *AdminAuth) Verify(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.Secret, nil
	})
	if err != nil {
		return err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		if err := a.Verify(parts[1]); err != nil {
			if strings.Contains(err.Error(), "expired") {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
