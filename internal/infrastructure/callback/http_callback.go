// Package callback implements entity.EventStatusCallback, the outbound
// notification the Sync Consumer fires once a blockchain_sync_requested
// message reaches a terminal state: a signed PUT against the owning
// event service's /internal/events/{id}/blockchain-status endpoint,
// which this core calls but never serves itself.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
	"github.com/ticketcore/scancore/pkg/api"
)

// HTTPCallback PUTs the blockchain-status callback against the owning
// event service, signing the request with the internal HMAC auth header
// triple so the receiver can verify it came from this core.
type HTTPCallback struct {
	baseURL string
	client  *http.Client
	authn   *resilience.InternalAuthenticator
	breaker *resilience.Breaker
}

var _ entity.EventStatusCallback = (*HTTPCallback)(nil)

// NewHTTPCallback builds an HTTPCallback targeting baseURL (the event
// service's address), signing requests with authn.
func NewHTTPCallback(baseURL string, client *http.Client, authn *resilience.InternalAuthenticator, breaker *resilience.Breaker) *HTTPCallback {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCallback{baseURL: baseURL, client: client, authn: authn, breaker: breaker}
}

type statusBody struct {
	Status string            `json:"status"`
	Detail map[string]string `json:"detail,omitempty"`
}

// ReportStatus implements entity.EventStatusCallback.
func (c *HTTPCallback) ReportStatus(ctx context.Context, eventID string, status string, detail map[string]string) error {
	body, err := json.Marshal(statusBody{Status: status, Detail: detail})
	if err != nil {
		return fmt.Errorf("marshal callback body: %w", err)
	}

	resp, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (*http.Response, error) {
		url := fmt.Sprintf("%s/internal/events/%s/blockchain-status", c.baseURL, eventID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.sign(req, body)
		return c.client.Do(req)
	})
	if resp != nil {
		defer resp.Body.Close()
	}

	if appErr := api.FromHTTP(err, resp, "callback: report blockchain status"); appErr != nil {
		return appErr
	}
	return nil
}

// sign attaches the x-internal-service / x-timestamp / x-internal-signature
// header triple the internal auth authenticator expects.
func (c *HTTPCallback) sign(req *http.Request, body []byte) {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Header.Set("x-internal-service", "scancore")
	req.Header.Set("x-timestamp", ts)
	req.Header.Set("x-internal-signature", c.authn.Sign("scancore", ts, body))
}
