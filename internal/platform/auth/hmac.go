package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/requestctx"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Signature-Timestamp"
	NonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 10 * time.Minute
)

// NonceStore records callback nonces so a captured request cannot be replayed.
type NonceStore interface {
	// UseNonce reports true when the nonce was unseen and is now recorded until expiry.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// SignatureValidator authenticates server-to-server callbacks (offline payment confirmations)
// signed with HMAC-SHA256 over method, path, timestamp, nonce and the body hash.
type SignatureValidator struct {
	scope     string
	secret    []byte
	nonces    NonceStore
	now       func() time.Time
	clockSkew time.Duration
	nonceTTL  time.Duration
}

// SignatureOption customises the validator.
type SignatureOption func(*SignatureValidator)

func WithSignatureClock(now func() time.Time) SignatureOption {
	return func(v *SignatureValidator) {
		if now != nil {
			v.now = now
		}
	}
}

func WithClockSkew(d time.Duration) SignatureOption {
	return func(v *SignatureValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// NewSignatureValidator builds a validator for one callback scope.
func NewSignatureValidator(scope, secret string, nonces NonceStore, opts ...SignatureOption) (*SignatureValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signature secret is required")
	}
	if nonces == nil {
		return nil, errors.New("auth: nonce store is required")
	}
	v := &SignatureValidator{
		scope:     strings.TrimSpace(scope),
		secret:    []byte(secret),
		nonces:    nonces,
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
	}
	if v.scope == "" {
		v.scope = "callbacks"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Sign returns the hex signature for the request parts. Callers use it to build test or tool requests.
func (v *SignatureValidator) Sign(method, path, timestamp, nonce string, body []byte) string {
	return hex.EncodeToString(computeHMAC(v.secret, canonicalString(method, path, timestamp, nonce, body)))
}

// RequireSignature rejects requests without a fresh, valid, unreplayed signature.
func (v *SignatureValidator) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
		timestampValue := strings.TrimSpace(r.Header.Get(TimestampHeader))
		nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
		if signature == "" || timestampValue == "" || nonce == "" {
			writeAuthError(ctx, w, http.StatusUnauthorized, "signature_missing", "signature headers missing")
			return
		}

		timestamp, err := parseSignatureTimestamp(timestampValue)
		if err != nil {
			writeAuthError(ctx, w, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
			return
		}
		if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
			writeAuthError(ctx, w, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
			return
		}

		body, err := readAndRestoreBody(r)
		if err != nil {
			writeAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
			return
		}

		given, err := decodeSignature(signature)
		if err != nil {
			writeAuthError(ctx, w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
			return
		}
		path := r.URL.EscapedPath()
		expected := computeHMAC(v.secret, canonicalString(r.Method, path, timestampValue, nonce, body))
		if !hmac.Equal(given, expected) {
			writeAuthError(ctx, w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
			return
		}

		stored, err := v.nonces.UseNonce(ctx, v.scope, nonce, v.now().Add(v.nonceTTL))
		if err != nil {
			requestctx.Logger(ctx).Warn("nonce store error", zap.Error(err))
			writeAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
			return
		}
		if !stored {
			writeAuthError(ctx, w, http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func canonicalString(method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
