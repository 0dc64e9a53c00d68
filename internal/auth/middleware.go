package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrReservedSubject is returned for tokens naming an in-process component.
var ErrReservedSubject = errors.New("auth: token subject is reserved")

// Middleware verifies an optional HS256 bearer token and installs its
// subject as a signer. Requests without a token pass through unsigned, so
// reads stay public and mutations fail later in RequireAuth. Component
// identities listed in reserved can never be claimed by a token.
func Middleware(secret []byte, reserved ...string) func(http.Handler) http.Handler {
	blocked := make(map[string]bool, len(reserved))
	for _, id := range reserved {
		blocked[id] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeUnauthorized(w, "malformed authorization header")
				return
			}
			subject, err := ParseToken(secret, raw)
			if err == nil && blocked[subject] {
				err = ErrReservedSubject
			}
			if err != nil {
				slog.Warn("bearer token rejected", "err", err)
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), subject)))
		})
	}
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret []byte, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
