// Package llm shapes requests for the configured models, calls the provider
// and fails over along the model chain.
package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType categorizes provider failures. Each type drives a distinct
// retry/fallback action in the orchestrator.
type ErrorType string

const (
	ErrorTypeUnknown   ErrorType = "unknown"
	ErrorTypeRateLimit ErrorType = "rate_limit" // 429: wait, retry same model
	ErrorTypeBilling   ErrorType = "billing"    // 402 / quota exhausted: skip model
	ErrorTypeServer    ErrorType = "server"     // 5xx: back off, retry same model
	ErrorTypeClient    ErrorType = "client"     // other 4xx: next model
	ErrorTypeAuth      ErrorType = "auth"       // 401/403: next model
	ErrorTypeTimeout   ErrorType = "timeout"    // deadline hit: next model
	ErrorTypeFormat    ErrorType = "format"     // malformed or empty body: next model
)

// Retryable reports whether the same model should be tried again.
func (t ErrorType) Retryable() bool {
	return t == ErrorTypeRateLimit || t == ErrorTypeServer
}

// ProviderError is a classified failure of one attempt against one model.
type ProviderError struct {
	Model      string
	Status     int           // HTTP status, 0 when the request never got a response
	Type       ErrorType
	RetryAfter time.Duration // provider hint, 0 when absent
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Model, e.Type, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Model, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError is returned when every model in the chain failed.
type AllProvidersFailedError struct {
	Attempts []Attempt
	Last     error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all models failed after %d attempts (last: %v)", len(e.Attempts), e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

// ErrEmptyReply marks a syntactically valid response without usable text.
var ErrEmptyReply = errors.New("empty reply")

// TypeOf returns the classification of err, ErrorTypeUnknown for
// unclassified errors.
func TypeOf(err error) ErrorType {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeUnknown
}

// ClassifyStatus maps an HTTP status to an error type. Status 0 yields
// ErrorTypeUnknown so the caller can fall back to ClassifyError.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusPaymentRequired:
		return ErrorTypeBilling
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusRequestTimeout:
		return ErrorTypeTimeout
	case status >= 500 && status < 600:
		return ErrorTypeServer
	case status >= 400 && status < 500:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// Message patterns, checked in order. Billing comes before rate limiting
// because quota messages often mention "limit" too.
var messagePatterns = []struct {
	typ      ErrorType
	patterns []string
}{
	{ErrorTypeBilling, []string{
		"payment required", "insufficient credits", "insufficient_quota",
		"credit balance", "account balance", "quota exhausted", "billing",
	}},
	{ErrorTypeRateLimit, []string{
		"rate_limit", "rate limit", "too many requests", "resource_exhausted",
		"requests per minute", "requests per day",
	}},
	{ErrorTypeAuth, []string{
		"invalid api key", "invalid_api_key", "unauthorized", "forbidden",
		"no auth credentials", "invalid credentials",
	}},
	{ErrorTypeTimeout, []string{
		"timeout", "timed out", "deadline exceeded", "connection reset",
	}},
	{ErrorTypeServer, []string{
		"overloaded", "server is busy", "temporarily unavailable",
		"bad gateway", "internal server error",
	}},
	{ErrorTypeFormat, []string{
		"malformed", "unexpected end of json", "invalid character",
		"roles must alternate", "invalid_request_error",
	}},
}

// ClassifyError determines the error type from an error message.
// Returns ErrorTypeUnknown if the message doesn't match any known pattern.
func ClassifyError(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	lower := strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.typ
			}
		}
	}
	return ErrorTypeUnknown
}

// classify prefers the status code and falls back to the message text.
func classify(status int, msg string) ErrorType {
	if t := ClassifyStatus(status); t != ErrorTypeUnknown {
		return t
	}
	return ClassifyError(msg)
}

// ParseRetryAfter reads a Retry-After header value, either delta-seconds
// (scaled by unit) or an HTTP date. Returns 0 when absent or unparsable.
func ParseRetryAfter(value string, unit time.Duration, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * unit
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
