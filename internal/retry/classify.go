package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ClassTransient = "transient"
	ClassPermanent = "permanent"
	ClassCanceled  = "canceled"
	ClassUnknown   = "unknown"
)

// HTTPStatusError carries a non-2xx response from a plain HTTP endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// RetryableStatus lists HTTP statuses worth another attempt.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Class buckets an error for logs, metrics and retry decisions.
func Class(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpClass(httpErr.StatusCode)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return httpClass(apiErr.Code)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return grpcClass(st.Code())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}
	return ClassUnknown
}

func IsTransient(err error) bool { return Class(err) == ClassTransient }

func IsPermanent(err error) bool { return Class(err) == ClassPermanent }

// Code extracts the gRPC code, mapping REST errors onto the closest code.
func Code(err error) codes.Code {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return httpToCode(apiErr.Code)
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpToCode(httpErr.StatusCode)
	}
	return status.Code(err)
}

func grpcClass(code codes.Code) string {
	switch code {
	case codes.ResourceExhausted, codes.DeadlineExceeded, codes.Unavailable, codes.Aborted:
		return ClassTransient
	case codes.PermissionDenied, codes.NotFound, codes.InvalidArgument,
		codes.Unauthenticated, codes.FailedPrecondition, codes.AlreadyExists, codes.Unimplemented:
		return ClassPermanent
	case codes.Canceled:
		return ClassCanceled
	default:
		return ClassUnknown
	}
}

func httpClass(code int) string {
	if RetryableStatus(code) {
		return ClassTransient
	}
	if code >= 400 && code < 500 {
		return ClassPermanent
	}
	return ClassUnknown
}

func httpToCode(code int) codes.Code {
	switch code {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusInternalServerError:
		return codes.Internal
	default:
		return codes.Unknown
	}
}
