// Package problem renders application errors as RFC 7807 Problem-Details
// bodies for the HTTP boundary, following pkg/api's one-conversion-
// function-per-direction idiom.
package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
)

// Details is the wire shape for a surfaced error:
// {type, title, status, detail, code, instance, timestamp} plus
// category-specific fields.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	Instance  string `json:"instance"`
	Timestamp string `json:"timestamp"`

	RetryAfterSeconds int    `json:"retryAfter,omitempty"`
	BulkheadType      string `json:"bulkheadType,omitempty"`
	RecoveryPoint     string `json:"recoveryPoint,omitempty"`
}

// statusFor maps an apperr/codes.Code to the HTTP status this boundary
// surfaces, inverting pkg/api.FromHTTP's status-to-code direction.
func statusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// titleFor gives a short, stable title per status class; it never echoes
// internal error text that might leak implementation detail.
func titleFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate limited"
	case http.StatusGatewayTimeout:
		return "upstream timeout"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	default:
		return "internal error"
	}
}

// sentinelCodes pairs each apperr sentinel with the code it carries, in
// the order they are probed. Matching through errors.Is is the library's
// intended surface: apperr.New/Wrap attach the sentinel for their code.
var sentinelCodes = []struct {
	sentinel error
	code     codes.Code
}{
	{apperr.ErrInvalidArgument, codes.InvalidArgument},
	{apperr.ErrUnauthenticated, codes.Unauthenticated},
	{apperr.ErrPermissionDenied, codes.PermissionDenied},
	{apperr.ErrNotFound, codes.NotFound},
	{apperr.ErrAlreadyExists, codes.AlreadyExists},
	{apperr.ErrAborted, codes.Aborted},
	{apperr.ErrFailedPrecondition, codes.FailedPrecondition},
	{apperr.ErrResourceExhausted, codes.ResourceExhausted},
	{apperr.ErrDeadlineExceeded, codes.DeadlineExceeded},
	{apperr.ErrUnavailable, codes.Unavailable},
	{apperr.ErrCanceled, codes.Canceled},
}

// codeOf recovers the apperr/codes.Code carried by err, defaulting to
// Internal when err doesn't wrap one (programmer error or a bare
// standard-library error).
func codeOf(err error) codes.Code {
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.sentinel) {
			return sc.code
		}
	}
	return codes.Internal
}

// From builds a Details for err, scoped to instance (typically the
// request path). Tenant-violation errors must already have been
// translated to codes.NotFound by the caller — this function never
// distinguishes "not found" from "not allowed to know".
func From(err error, instance string) Details {
	code := codeOf(err)
	status := statusFor(code)
	return Details{
		Type:      "about:blank",
		Title:     titleFor(status),
		Status:    status,
		Detail:    err.Error(),
		Code:      code.String(),
		Instance:  instance,
		Timestamp: nowRFC3339(),
	}
}

// WriteJSON writes d as the HTTP response body, setting the status line
// and Content-Type, and Retry-After / X-Bulkhead-Type when populated.
func WriteJSON(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	if d.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	}
	if d.BulkheadType != "" {
		w.Header().Set("X-Bulkhead-Type", d.BulkheadType)
	}
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// nowRFC3339 is isolated so it's the only clock read in this file.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
