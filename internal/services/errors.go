package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTransientNetwork marks connectivity failures and timeouts that are
	// worth retrying with backoff.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrRateLimited marks provider throttling; retryable after a delay.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedResponse marks provider output that failed schema validation.
	// Not retryable: the same request produces the same shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrContentPolicy marks a provider refusal on content policy grounds.
	ErrContentPolicy = errors.New("content policy rejected")
	// ErrProtectedRecord marks an attempt to overwrite curator-protected
	// enrichment without an explicit protection decision.
	ErrProtectedRecord = errors.New("protected record")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	// ErrConflict marks an optimistic concurrency failure on record save.
	ErrConflict = errors.New("conflict")
)

// Classification tags an error with the retry taxonomy used by the batch
// retry policy and recorded into EnrichmentRecord.LastError.
type Classification string

const (
	ClassTransientNetwork Classification = "transient_network"
	ClassRateLimited      Classification = "rate_limited"
	ClassMalformed        Classification = "malformed_response"
	ClassContentPolicy    Classification = "content_policy_rejected"
	ClassUnknown          Classification = "unknown"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps any error to the retry taxonomy. Context deadline expiry and
// net timeouts count as transient network failures so a stalled call cannot
// distort retry accounting.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrTransientNetwork):
		return ClassTransientNetwork
	case errors.Is(err, ErrMalformedResponse):
		return ClassMalformed
	case errors.Is(err, ErrContentPolicy):
		return ClassContentPolicy
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransientNetwork
	}
	return ClassUnknown
}

// IsRetryable reports whether the retry policy may attempt the operation again.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassTransientNetwork, ClassRateLimited:
		return true
	default:
		return false
	}
}

type retryAfterCarrier interface {
	RetryAfterHint() (time.Duration, bool)
}

// RetryAfterHint surfaces a provider-supplied minimum wait before retrying,
// typically parsed from a Retry-After header on a 429 response.
func RetryAfterHint(err error) (time.Duration, bool) {
	var carrier retryAfterCarrier
	if errors.As(err, &carrier) {
		return carrier.RetryAfterHint()
	}
	return 0, false
}

// ParseRetryAfter interprets a Retry-After header value, accepting both
// delta-seconds and HTTP-date forms.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
