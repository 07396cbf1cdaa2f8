package resilience

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInternalAuthenticator_VerifyAcceptsValidSignature(t *testing.T) {
	authn := NewInternalAuthenticator([]byte("internal-shared-secret-0123456789"), []string{"scancore"})
	body := []byte(`{"status":"completed"}`)
	now := time.Now()
	ts := fmt.Sprintf("%d", now.UnixMilli())
	sig := authn.Sign("scancore", ts, body)

	err := authn.Verify("scancore", ts, sig, body, now)
	require.NoError(t, err)
}

func TestInternalAuthenticator_RejectsUnlistedService(t *testing.T) {
	authn := NewInternalAuthenticator([]byte("internal-shared-secret-0123456789"), []string{"scancore"})
	body := []byte(`{}`)
	now := time.Now()
	ts := fmt.Sprintf("%d", now.UnixMilli())
	sig := authn.Sign("some-other-service", ts, body)

	err := authn.Verify("some-other-service", ts, sig, body, now)
	require.Error(t, err)
}

func TestInternalAuthenticator_RejectsExcessiveDrift(t *testing.T) {
	authn := NewInternalAuthenticator([]byte("internal-shared-secret-0123456789"), []string{"scancore"})
	body := []byte(`{}`)
	stale := time.Now().Add(-2 * time.Minute)
	ts := fmt.Sprintf("%d", stale.UnixMilli())
	sig := authn.Sign("scancore", ts, body)

	err := authn.Verify("scancore", ts, sig, body, time.Now())
	require.Error(t, err)
}

func TestInternalAuthenticator_RejectsTamperedBody(t *testing.T) {
	authn := NewInternalAuthenticator([]byte("internal-shared-secret-0123456789"), []string{"scancore"})
	now := time.Now()
	ts := fmt.Sprintf("%d", now.UnixMilli())
	sig := authn.Sign("scancore", ts, []byte(`{"status":"completed"}`))

	err := authn.Verify("scancore", ts, sig, []byte(`{"status":"failed"}`), now)
	require.Error(t, err)
}
