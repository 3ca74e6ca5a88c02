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
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultClockSkew       = 5 * time.Minute
	defaultNonceTTL        = 5 * time.Minute
	maxSignedBodyBytes     = 1 << 20
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// NonceStore tracks nonces for replay prevention. UseNonce reports false when the nonce was
// already used within its scope.
type NonceStore interface {
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a process-local nonce registry.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NonceStoreOption customises InMemoryNonceStore.
type NonceStoreOption func(*InMemoryNonceStore)

// WithNonceClock overrides the clock used to prune expired nonces.
func WithNonceClock(now func() time.Time) NonceStoreOption {
	return func(s *InMemoryNonceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore(opts ...NonceStoreOption) *InMemoryNonceStore {
	s := &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// UseNonce records the nonce until expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "::" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator verifies signed callbacks from carriers and payment providers. The signature is
// HMAC-SHA256 over "METHOD\nPATH\nTIMESTAMP\nNONCE\nSHA256HEX(BODY)", base64 or hex encoded.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          nopLogger{},
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) { v.metrics = metrics }
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names; empty values keep the defaults.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL customises the nonce retention duration.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes a verified callback for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacContextKey struct{}

// WithHMACMetadata stores the metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata from the context.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

type hmacFailure struct {
	status  int
	code    string
	reason  string
	message string
}

func (f *hmacFailure) Error() string { return f.reason }

func unauthorized(reason, message string) *hmacFailure {
	return &hmacFailure{status: http.StatusUnauthorized, code: reason, reason: reason, message: message}
}

func unavailable(reason, message string) *hmacFailure {
	return &hmacFailure{status: http.StatusServiceUnavailable, code: "verification_unavailable", reason: reason, message: message}
}

// RequireHMACResolver selects the secret per request (for example from the carrier path
// parameter) and rejects requests whose resolver returns false.
func (v *HMACValidator) RequireHMACResolver(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			secretName, ok := resolve(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				v.record(r.Context(), false, "provider_unknown", start)
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}

			meta, err := v.verify(r, strings.TrimSpace(secretName))
			if err != nil {
				var failure *hmacFailure
				if !errors.As(err, &failure) {
					failure = unavailable("internal", "signature verification failed")
				}
				v.record(r.Context(), false, failure.reason, start)
				respondAuthError(w, failure.status, failure.code, failure.message)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(r.Context(), meta)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, secretName string) (*HMACMetadata, error) {
	ctx := r.Context()
	if v.provider == nil {
		return nil, unavailable("secret_unavailable", "hmac secret unavailable")
	}
	secret, err := v.provider.GetSecret(ctx, secretName)
	if err != nil || secret == "" {
		v.logger.Printf("auth: hmac secret %q lookup failed: %v", secretName, err)
		return nil, unavailable("secret_unavailable", "hmac secret unavailable")
	}

	rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if rawSignature == "" {
		return nil, unauthorized("signature_missing", "signature header missing")
	}
	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, unauthorized("timestamp_invalid", "signature timestamp missing or invalid")
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, unauthorized("timestamp_skew", "signature timestamp outside allowed window")
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, unauthorized("nonce_missing", "signature nonce missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, &hmacFailure{status: http.StatusBadRequest, code: "invalid_body", reason: "body_unreadable", message: "unable to read body"}
	}
	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return nil, unauthorized("signature_invalid", "signature encoding invalid")
	}
	expected := computeHMAC([]byte(secret), canonicalString(r.Method, r.URL.EscapedPath(), body, rawTimestamp, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, unauthorized("signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return nil, unavailable("nonce_store_unavailable", "nonce store unavailable")
	}
	expiry := v.now().Add(v.nonceTTL)
	stored, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		v.logger.Printf("auth: nonce store error: %v", err)
		return nil, unavailable("nonce_store_error", "nonce storage error")
	}
	if !stored {
		return nil, unauthorized("nonce_replay", "duplicate signature nonce")
	}
	return &HMACMetadata{SecretName: secretName, Timestamp: timestamp, Nonce: nonce}, nil
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
	}
}

// SignRequest computes the signature header value for a request body. Callers (tests, local
// tooling) use it to produce requests the validator accepts.
func SignRequest(secret, method, path, timestamp, nonce string, body []byte) string {
	return base64.StdEncoding.EncodeToString(computeHMAC([]byte(secret), canonicalString(method, path, body, timestamp, nonce)))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBodyBytes {
		return nil, errors.New("auth: body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
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

func canonicalString(method, path string, body []byte, timestamp, nonce string) []byte {
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
