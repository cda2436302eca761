package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/hanko-field/orderflow/internal/platform/httpx"
)

const defaultLeeway = 30 * time.Second

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals any other verification failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the HS256 token payload.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures token verification.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Authenticator verifies HS256 bearer tokens and enforces role requirements.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithClock injects a clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator requires a non-empty signing secret.
func NewAuthenticator(cfg JWTConfig, opts ...Option) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	a := &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
	if a.leeway <= 0 {
		a.leeway = defaultLeeway
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Issue signs a token for the identity. Used by tooling and tests.
func (a *Authenticator) Issue(identity Identity, ttl time.Duration) (string, error) {
	role := normaliseRole(identity.Role)
	if !validRole(role) {
		return "", fmt.Errorf("auth: unknown role %q", identity.Role)
	}
	now := a.now().UTC()
	claims := Claims{
		Role:  role,
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses the token and returns the identity it carries.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := a.now()
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Add(a.leeway)) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Add(a.leeway).Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	role := normaliseRole(claims.Role)
	if !validRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// RequireAuth verifies the bearer token and, when roles are given, that the caller holds one of them.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}
			identity, err := a.Verify(token)
			switch {
			case errors.Is(err, ErrTokenExpired):
				writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "bearer token expired")
				return
			case err != nil:
				writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "bearer token invalid")
				return
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				writeAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
