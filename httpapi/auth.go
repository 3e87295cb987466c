package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blockberries/lootbox/types"
)

// Claims are the bearer-token claims. The subject is the caller's
// account address.
type Claims struct {
	jwt.RegisteredClaims
}

const issuer = "lootboxd"

// IssueToken signs an HS256 bearer token for account, valid for ttl.
func IssueToken(secret []byte, account types.Account, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("httpapi: empty signing secret")
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   account.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies a bearer token and returns its caller account.
func ParseToken(secret []byte, raw string) (types.Account, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return types.Account{}, fmt.Errorf("parse token: %w", err)
	}
	return types.ParseAccount(claims.Subject)
}

type callerKey struct{}

func callerFrom(ctx context.Context) (types.Account, bool) {
	a, ok := ctx.Value(callerKey{}).(types.Account)
	return a, ok
}

// requireCaller authenticates the bearer token and stores the caller
// account in the request context.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			respondError(w, http.StatusServiceUnavailable, "AUTH_DISABLED", "authentication is not configured")
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		caller, err := ParseToken(s.secret, raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}
