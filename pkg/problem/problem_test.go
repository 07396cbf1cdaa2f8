package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/stretchr/testify/require"
)

func TestFrom_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid argument", apperr.New(codes.InvalidArgument, "bad input"), http.StatusBadRequest},
		{"unauthenticated", apperr.New(codes.Unauthenticated, "no token"), http.StatusUnauthorized},
		{"permission denied", apperr.New(codes.PermissionDenied, "nope"), http.StatusForbidden},
		{"not found", apperr.New(codes.NotFound, "missing"), http.StatusNotFound},
		{"already exists", apperr.New(codes.AlreadyExists, "dup"), http.StatusConflict},
		{"aborted", apperr.New(codes.Aborted, "in progress"), http.StatusConflict},
		{"resource exhausted", apperr.New(codes.ResourceExhausted, "limited"), http.StatusTooManyRequests},
		{"deadline exceeded", apperr.New(codes.DeadlineExceeded, "slow upstream"), http.StatusGatewayTimeout},
		{"unavailable", apperr.New(codes.Unavailable, "down"), http.StatusServiceUnavailable},
		{"bare error", errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := From(tc.err, "/scan")
			require.Equal(t, tc.wantStatus, d.Status)
			require.Equal(t, "/scan", d.Instance)
			require.NotEmpty(t, d.Title)
			require.NotEmpty(t, d.Timestamp)
		})
	}
}

func TestWriteJSON_SetsHeadersAndBody(t *testing.T) {
	d := From(apperr.New(codes.Unavailable, "bulkhead capacity exhausted"), "/mint")
	d.RetryAfterSeconds = 4
	d.BulkheadType = "mint"

	rec := httptest.NewRecorder()
	WriteJSON(rec, d)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Equal(t, "4", rec.Header().Get("Retry-After"))
	require.Equal(t, "mint", rec.Header().Get("X-Bulkhead-Type"))

	var body Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, http.StatusServiceUnavailable, body.Status)
	require.Equal(t, "mint", body.BulkheadType)
	require.Equal(t, 4, body.RetryAfterSeconds)
}

func TestWriteJSON_OmitsOptionalHeadersWhenUnset(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, From(apperr.New(codes.NotFound, "ticket: no matching row"), "/scan"))

	require.Empty(t, rec.Header().Get("Retry-After"))
	require.Empty(t, rec.Header().Get("X-Bulkhead-Type"))
}
