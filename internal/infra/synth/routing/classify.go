// Package routing decides what happens around a provider call.
//
// This package contains:
//   - ClassifySignal / Classify: map raw failures to a closed set of error kinds
//   - RetryPolicy: per-kind retry decisions with bounded exponential backoff
//   - Circuit / Breakers: per-provider circuit breakers
package routing

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/synth/provider"
)

var (
	authPatterns = []string{
		"unauthorized", "forbidden", "invalid api key", "incorrect api key",
		"authentication", "unauthenticated", "permission to access",
	}
	rateLimitPatterns = []string{
		"rate limit", "ratelimit", "throttl", "too many requests", "quota", "resource exhausted",
	}
	networkPatterns = []string{
		"timeout", "timed out", "connection refused", "connection reset", "no such host",
		"unexpected eof", ": eof", "deadline exceeded", "network is unreachable", "broken pipe", "tls handshake",
		"not found",
	}
	validationPatterns = []string{
		"invalid", "too long", "unsupported voice", "unsupported format", "malformed",
		"text cannot be empty",
	}
	fileSystemPatterns = []string{
		"permission denied", "no space left", "read-only file system", "file exists",
		"disk quota", "is a directory", "not a directory",
	}
	providerPatterns = []string{
		"internal error", "internal server error", "server error", "overloaded",
		"service unavailable", "bad gateway", "empty audio",
	}
)

// ClassifySignal maps a status code and message to an error kind.
// Rules are evaluated in a fixed order; the first match wins.
// It is pure: the same signal always yields the same kind.
func ClassifySignal(code int, message string) domain.ErrorKind {
	msg := strings.ToLower(message)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden || containsAny(msg, authPatterns):
		return domain.KindAuthentication
	case code == http.StatusTooManyRequests || containsAny(msg, rateLimitPatterns):
		return domain.KindRateLimit
	case isNetworkCode(code) || msg == "eof" || containsAny(msg, networkPatterns):
		return domain.KindNetwork
	case isValidationCode(code) || containsAny(msg, validationPatterns):
		return domain.KindValidation
	case containsAny(msg, fileSystemPatterns):
		return domain.KindFileSystem
	case code >= 500 || containsAny(msg, providerPatterns):
		return domain.KindProvider
	default:
		return domain.KindConfiguration
	}
}

// Classify adapts a Go error to ClassifySignal. A nil error has no kind.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		return ClassifySignal(perr.Code, perr.Message)
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.OK && s.Code() != codes.Unknown {
		return ClassifySignal(grpcToHTTP(s.Code()), s.Message())
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.KindNetwork
	}

	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrExist) ||
		errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EROFS) {
		return domain.KindFileSystem
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return domain.KindFileSystem
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.KindNetwork
	}

	return ClassifySignal(0, err.Error())
}

// RetryHint returns a server supplied delay carried by err, or 0.
// HTTP providers report Retry-After; gRPC backends attach a RetryInfo detail.
func RetryHint(err error) time.Duration {
	if err == nil {
		return 0
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.RetryAfter
	}

	if s, ok := status.FromError(err); ok {
		for _, detail := range s.Details() {
			if info, ok := detail.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
				return info.GetRetryDelay().AsDuration()
			}
		}
	}

	return 0
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isNetworkCode(code int) bool {
	switch code {
	case http.StatusNotFound, http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isValidationCode(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity,
		http.StatusUnsupportedMediaType:
		return true
	}
	return false
}

// grpcToHTTP follows the canonical gRPC -> HTTP status mapping.
func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable, codes.Aborted:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return http.StatusRequestTimeout
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Internal, codes.DataLoss:
		return http.StatusInternalServerError
	default:
		return 0
	}
}
