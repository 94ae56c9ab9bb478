package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const ClaimsContextKey ContextKey = "claims"

// DefaultTokenTTL is used when no lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

const cookieName = "auth_token"

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid authentication token")
)

type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and checks HS256 bearer tokens. When disabled every
// request is let through unauthenticated.
type Authenticator struct {
	secret  []byte
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

// New returns an Authenticator. An enabled authenticator needs a secret.
func New(secret string, ttl time.Duration, enabled bool) (*Authenticator, error) {
	if enabled && secret == "" {
		return nil, errors.New("jwt secret is required when auth is enabled")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret:  []byte(secret),
		ttl:     ttl,
		enabled: enabled,
		now:     time.Now,
	}, nil
}

// Enabled returns whether authentication is enabled
func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// IssueToken creates a signed token for subject.
func (a *Authenticator) IssueToken(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses and checks a token string.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// authenticate extracts and validates the token from the Authorization
// header or the auth cookie.
func (a *Authenticator) authenticate(r *http.Request) (*Claims, error) {
	var tokenString string

	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	} else if cookie, err := r.Cookie(cookieName); err == nil {
		tokenString = cookie.Value
	}

	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return a.Validate(tokenString)
}

// RequireAuthMiddleware rejects requests without a valid token when auth is
// enabled. If auth is disabled, it allows all requests through.
func (a *Authenticator) RequireAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="codenav"`)
			if errors.Is(err, ErrMissingToken) {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
			} else {
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			}
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OptionalAuthMiddleware attaches the caller's claims to the context when a
// valid token is present and never rejects the request.
func (a *Authenticator) OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if claims, err := a.authenticate(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims))
		}
		next.ServeHTTP(w, r)
	}
}

// ClaimsFromContext extracts the authenticated claims from request context
func ClaimsFromContext(r *http.Request) *Claims {
	if claims, ok := r.Context().Value(ClaimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// Subject returns the authenticated subject, or "" for anonymous requests.
func Subject(r *http.Request) string {
	if c := ClaimsFromContext(r); c != nil {
		return c.Subject
	}
	return ""
}
