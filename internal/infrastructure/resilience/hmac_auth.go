package resilience

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
)

// MaxClockDrift is the maximum allowed gap between a request's timestamp
// and the receiver's clock before the request is rejected.
const MaxClockDrift = 60 * time.Second

// InternalAuthenticator verifies the x-internal-service / x-timestamp /
// x-internal-signature header triple used for service-to-service calls.
// Grounded on the token broker's HMAC-over-canonical-string approach,
// adapted from a bearer token to this spec's literal header scheme.
type InternalAuthenticator struct {
	secret      []byte
	allowedSvcs map[string]struct{}

	mu    sync.Mutex
	drift driftHistogram
}

// driftHistogram buckets observed |now - timestamp| samples for a crude
// rolling distribution, used for alerting on clock skew trending toward
// the limit, not for authorization decisions.
type driftHistogram struct {
	buckets [6]int // <1s,<5s,<15s,<30s,<60s,>=60s
	total   int
}

func (h *driftHistogram) observe(d time.Duration) {
	h.total++
	switch {
	case d < time.Second:
		h.buckets[0]++
	case d < 5*time.Second:
		h.buckets[1]++
	case d < 15*time.Second:
		h.buckets[2]++
	case d < 30*time.Second:
		h.buckets[3]++
	case d < 60*time.Second:
		h.buckets[4]++
	default:
		h.buckets[5]++
	}
}

// NewInternalAuthenticator builds an authenticator for the given shared
// secret and allow-listed caller service names.
func NewInternalAuthenticator(secret []byte, allowedServices []string) *InternalAuthenticator {
	allowed := make(map[string]struct{}, len(allowedServices))
	for _, s := range allowedServices {
		allowed[s] = struct{}{}
	}
	return &InternalAuthenticator{secret: secret, allowedSvcs: allowed}
}

// Verify checks the header triple against bodyJSON, the exact bytes the
// caller signed. now is injected so tests can control drift deterministically.
func (a *InternalAuthenticator) Verify(service, timestampMs, signatureHex string, bodyJSON []byte, now time.Time) error {
	if _, ok := a.allowedSvcs[service]; !ok {
		return apperr.New(codes.Unauthenticated, fmt.Sprintf("service %q is not allow-listed", service))
	}

	tsMillis, err := strconv.ParseInt(timestampMs, 10, 64)
	if err != nil {
		return apperr.Wrap(err, codes.Unauthenticated, "invalid timestamp")
	}
	ts := time.UnixMilli(tsMillis)

	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	a.mu.Lock()
	a.drift.observe(drift)
	a.mu.Unlock()

	if drift > MaxClockDrift {
		return apperr.New(codes.Unauthenticated, "timestamp drift exceeds allowed window")
	}

	expected := a.sign(service, timestampMs, bodyJSON)
	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return apperr.Wrap(err, codes.Unauthenticated, "invalid signature encoding")
	}
	if !hmac.Equal(expected, given) {
		return apperr.New(codes.Unauthenticated, "signature mismatch")
	}
	return nil
}

// Sign produces the hex-encoded signature a caller should send in
// x-internal-signature.
func (a *InternalAuthenticator) Sign(service, timestampMs string, bodyJSON []byte) string {
	return hex.EncodeToString(a.sign(service, timestampMs, bodyJSON))
}

func (a *InternalAuthenticator) sign(service, timestampMs string, bodyJSON []byte) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(service))
	mac.Write([]byte(":"))
	mac.Write([]byte(timestampMs))
	mac.Write([]byte(":"))
	mac.Write(bodyJSON)
	return mac.Sum(nil)
}
