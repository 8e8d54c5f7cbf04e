package zoteroapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy every caller checks with errors.Is,
// checked at every call site instead of inspecting status codes directly.
var (
	ErrNotFound     = errors.New("zoteroapi: not found")
	ErrConflict     = errors.New("zoteroapi: version conflict")
	ErrRateLimited  = errors.New("zoteroapi: rate limited")
	ErrValidation   = errors.New("zoteroapi: validation failed")
	ErrTransport    = errors.New("zoteroapi: transport failure")
	ErrTooLarge     = errors.New("zoteroapi: payload too large")
	ErrEmptyResult  = errors.New("zoteroapi: empty result")
	ErrUnauthorized = errors.New("zoteroapi: unauthorized")
)

// APIError wraps a non-2xx Zotero response, carrying enough context for
// callers and logs without forcing them to parse the body twice.
type APIError struct {
	StatusCode int
	Body       string
	Sentinel   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoteroapi: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Sentinel }

// classifyStatus maps an HTTP status code to a sentinel error, following
// the status semantics table in the write-operation section of the spec.
func classifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 404:
		return ErrNotFound
	case status == 409 || status == 412:
		return ErrConflict
	case status == 413:
		return ErrTooLarge
	case status == 429 || status == 503:
		return ErrRateLimited
	case status >= 500:
		return ErrTransport
	default:
		return nil
	}
}

// isRetryable reports whether status should be retried by Client.do rather
// than surfaced immediately. 412/413/404 are terminal-for-the-attempt;
// 429/503/5xx are retried after backoff.
func isRetryable(status int) bool {
	return status == 429 || status == 503 || status >= 500
}
