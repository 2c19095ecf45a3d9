package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
)

// Error type constants for metrics labels.
const (
	ErrorTypeAuth        = "auth"
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeClientError = "client_error"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeCanceled    = "canceled"
	ErrorTypeNetwork     = "network"
	ErrorTypeCircuitOpen = "circuit_open"
	ErrorTypeUnknown     = "unknown"
)

// ErrThrottled marks calls the client-side rate limiter refused to wait for.
var ErrThrottled = errors.New("pangolin request throttled")

// statusCoder is implemented by Pangolin API errors.
type statusCoder interface {
	HTTPStatusCode() int
}

// ClassifyAPIError maps a Pangolin client error to a metrics label.
// Returns an empty string for nil errors.
func ClassifyAPIError(err error) string {
	if err == nil {
		return ""
	}

	var apiErr statusCoder
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode())
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrorTypeCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, ErrThrottled):
		return ErrorTypeRateLimit
	}

	return classifyTransport(err)
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode >= http.StatusInternalServerError && statusCode < 600:
		return ErrorTypeServerError
	case statusCode >= http.StatusBadRequest:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

// classifyTransport labels failures that never produced an HTTP response.
func classifyTransport(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)

	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}
