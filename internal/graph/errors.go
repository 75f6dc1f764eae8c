package graph

import (
	"fmt"
	"net/http"
)

type APIError struct {
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	Message      string `json:"message"`
	FBTraceID    string `json:"fbtrace_id"`
	IsTransient  bool   `json:"is_transient"`
	Retryable    bool   `json:"retryable"`
	StatusCode   int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf(
		"graph api error status=%d type=%s code=%d subcode=%d fbtrace_id=%s: %s",
		e.StatusCode,
		e.Type,
		e.Code,
		e.ErrorSubcode,
		e.FBTraceID,
		e.Message,
	)
}

// RateLimited reports whether the error is one of the throttling signals that
// warrant the long cooldown instead of exponential backoff.
func (e *APIError) RateLimited() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return isRateLimitCode(e.Code)
}

type TransientError struct {
	Message    string
	StatusCode int
}

func (e *TransientError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// RetryExhaustedError is returned once the retry policy gives up on a
// retryable failure. Call sites treat it as fatal for the request.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Last
}

func isRateLimitCode(code int) bool {
	switch code {
	case 4, 17, 32, 613, 80000, 80003, 80004, 80014:
		return true
	default:
		return false
	}
}
