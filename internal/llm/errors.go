package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a completion backend failure
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindServer      ErrorKind = "server_error"
	KindClient      ErrorKind = "client_error"
	KindAuth        ErrorKind = "auth"
	KindUnknown     ErrorKind = "unknown"
)

// ErrEmptyCompletion is returned when the backend answers with no content
var ErrEmptyCompletion = errors.New("llm: empty completion")

// BackendError wraps a backend failure with its classification
type BackendError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm backend %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm backend %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying
func (e *BackendError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindServer:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable backend failure
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient()
}

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyError maps a raw provider error onto an ErrorKind. The openai
// compatible clients report HTTP failures as "status code: NNN" in the
// message; ollama reports them through its own error text.
func classifyError(err error) *BackendError {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &BackendError{Kind: KindServer, Err: err}
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &BackendError{Kind: kindForStatus(code), StatusCode: code, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return &BackendError{Kind: KindRateLimited, Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return &BackendError{Kind: KindTimeout, Err: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return &BackendError{Kind: KindServer, Err: err}
	}
	return &BackendError{Kind: KindUnknown, Err: err}
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 408:
		return KindTimeout
	case code == 401 || code == 403:
		return KindAuth
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	}
	return KindUnknown
}
