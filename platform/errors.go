package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/onnwee/stream-tagger/apperr"
)

// ErrorClass says whether an adapter failure is worth retrying.
type ErrorClass int

const (
	// ErrorClassRetryable covers transient failures (network, 5xx, rate limiting).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers permanent failures (missing content, bad input, auth).
	ErrorClassFatal
)

func (ec ErrorClass) String() string {
	if ec == ErrorClassFatal {
		return "fatal"
	}
	return "retryable"
}

// StatusError is returned by adapters when a platform API answers with a non-2xx status.
type StatusError struct {
	Platform   Platform
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api: %d %s: %s", e.Platform, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// CheckStatus converts a platform response status into an error.
// 404 maps straight to NotFound since the platform has told us the resource is absent.
func CheckStatus(p Platform, resp *http.Response, body string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return apperr.NotFound("%s: resource not found", p)
	}
	return &StatusError{Platform: p, StatusCode: resp.StatusCode, Body: body}
}

// ClassifyError sorts an adapter error into retryable vs fatal.
//
// Fatal: NotFound, 4xx other than 408/429, malformed or unsupported references.
// Retryable: deadlines, network failures, 5xx, 408, 429. Unknown errors are retryable.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalid) {
		return ErrorClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassRetryable
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRetryable
		case se.StatusCode >= 500:
			return ErrorClassRetryable
		case se.StatusCode >= 400:
			return ErrorClassFatal
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"invalid url", "malformed url", "unsupported url", "invalid video id", "no such host"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsRetryable reports whether err should count as a platform outage rather than a miss.
func IsRetryable(err error) bool { return ClassifyError(err) == ErrorClassRetryable }
