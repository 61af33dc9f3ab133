// Package auth resolves the caller identity from an HS256 JWT carried in the
// Authorization: Bearer header. Identity is optional for most routes: the
// Optional middleware never fails a request, Required answers 401.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when the request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

// contextKey avoids collisions with other context values.
type contextKey string

const callerKey contextKey = "caller_id"

// Verifier validates tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewVerifier returns a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string, logger *slog.Logger) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second, logger: logger}, nil
}

// Verify parses and validates a raw token and returns its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid token: missing subject")
	}
	return claims.Subject, nil
}

// Issue mints a token for subject valid for ttl. Used by the token command
// and tests.
func (v *Verifier) Issue(subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Caller returns the subject of the request's token, or ErrNoToken.
func (v *Verifier) Caller(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrNoToken
	}
	return v.Verify(strings.TrimSpace(token))
}

// Optional attaches the caller id when a valid token is present and passes
// every request through.
func (v *Verifier) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := v.Caller(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				v.logger.Debug("ignoring invalid token", "domain", "auth", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), sub)))
	})
}

// Required rejects requests without a valid token with 401.
func (v *Verifier) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := v.Caller(r)
		if err != nil {
			v.logger.Debug("authentication failed", "domain", "auth", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="vanish"`)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), sub)))
	})
}

// WithCaller stores the caller id in ctx.
func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

// CallerID returns the caller id stored in ctx, or "" for guests.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}
