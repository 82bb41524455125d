package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Kind classifies a failed provider call. The rotation manager counts
// RateLimited, QuotaExceeded and ContentSafetyBlocked against credential
// health; Truncated triggers batch halving in the executor.
type Kind int

const (
	KindTransport Kind = iota
	KindTimeout
	KindRateLimited
	KindQuotaExceeded
	KindContentSafetyBlocked
	KindTruncated
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindTimeout:
		return "Timeout"
	case KindRateLimited:
		return "RateLimited"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindContentSafetyBlocked:
		return "ContentSafetyBlocked"
	case KindTruncated:
		return "Truncated"
	case KindMalformed:
		return "MalformedResponse"
	default:
		return "Unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind Kind, providerName, message string) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message}
}

func WrapError(kind Kind, providerName, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message, Cause: cause}
}

// KindOf extracts the classification from err.
func KindOf(err error) (Kind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// CountsAgainstHealth reports whether the failure should increment the
// credential's error count. Transport blips and timeouts are not the
// key's fault.
func CountsAgainstHealth(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindRateLimited, KindQuotaExceeded, KindContentSafetyBlocked, KindMalformed:
		return true
	default:
		return false
	}
}

// classifyHTTP maps an HTTP failure status to a Kind using status code
// and response body hints shared by the provider APIs.
func classifyHTTP(statusCode int, body string) Kind {
	lower := strings.ToLower(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") {
			return KindQuotaExceeded
		}
		return KindRateLimited
	case statusCode == http.StatusPaymentRequired || strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient credit"):
		return KindQuotaExceeded
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindTransport
	}
}

// classifyTransport maps a request-level error (no HTTP response) to a Kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTimeout
	}
	return KindTransport
}
