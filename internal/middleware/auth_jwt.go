package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InternalSecretHeader carries the shared secret of internal callers.
const InternalSecretHeader = "X-Internal-Secret"

// SessionClaims are the claims of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
}

type userKey string

const (
	userIDKey   userKey = "user_id"
	internalKey userKey = "internal"
)

// SignSession issues an HS256 session token for userID.
func SignSession(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifySession validates an HS256 session token and returns its claims.
func VerifySession(secret, token string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

// AuthJWT requires a valid bearer session token.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := bearerUser(w, r, secret)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// InternalOrSession accepts either the internal shared secret or a session token.
func InternalOrSession(internalSecret, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get(InternalSecretHeader); got != "" {
				if internalSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(internalSecret)) != 1 {
					writeError(w, http.StatusUnauthorized, "unauthorized", "invalid internal secret")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), internalKey, true)))
				return
			}
			userID, ok := bearerUser(w, r, jwtSecret)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func bearerUser(w http.ResponseWriter, r *http.Request, secret string) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization")
		return "", false
	}
	claims, err := VerifySession(secret, strings.TrimSpace(parts[1]))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	return claims.Subject, true
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// IsInternal reports whether the request authenticated with the internal secret.
func IsInternal(ctx context.Context) bool {
	v, _ := ctx.Value(internalKey).(bool)
	return v
}
