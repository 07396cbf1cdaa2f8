// Package dlq implements the dead-letter queue policy: classifying a
// failed job as retryable, non-retryable, or unknown, and a background
// processor that retries due items and archives stale non-retryable ones.
package dlq

import (
	"errors"
	"strings"

	"github.com/pannpers/go-apperr/apperr"

	"github.com/ticketcore/scancore/internal/entity"
)

// nonRetryableSubstrings matches error text that indicates the failure
// will never succeed on replay: validation problems, permanent chain
// rejections, permission failures, and duplicate submissions.
var nonRetryableSubstrings = []string{
	"already minted",
	"invalid signature",
	"invalid address",
	"insufficient funds",
	"nonexistent token",
	"wallet archived",
	"duplicate",
	"unauthorized",
	"forbidden",
	"401",
	"403",
}

// retryableSubstrings matches error text for transient failures: network
// resets/timeouts, the chain's own rate-limit/unavailable responses, and
// an expired blockhash (the transaction simply needs rebuilding).
var retryableSubstrings = []string{
	"unavailable",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"econnreset",
	"econnrefused",
	"429",
	"502",
	"503",
	"expired blockhash",
	"blockhash not found",
}

// nonRetryableSentinels are apperr sentinels that can never succeed on
// replay: the input or state that caused them won't change by retrying.
var nonRetryableSentinels = []error{
	apperr.ErrInvalidArgument,
	apperr.ErrAlreadyExists,
	apperr.ErrPermissionDenied,
	apperr.ErrFailedPrecondition,
}

// Classify inspects err and returns the DLQ category it falls into.
// Classification first checks known apperr sentinels (the strongest
// signal), then falls back to substring matching against the error text
// for errors that cross a boundary (e.g. raw chain RPC errors) without an
// apperr sentinel attached.
func Classify(err error) entity.DLQCategory {
	if err == nil {
		return entity.DLQUnknown
	}

	for _, sentinel := range nonRetryableSentinels {
		if errors.Is(err, sentinel) {
			return entity.DLQNonRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return entity.DLQNonRetryable
		}
	}

	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return entity.DLQRetryable
		}
	}

	return entity.DLQUnknown
}
