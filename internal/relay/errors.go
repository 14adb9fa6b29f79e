package relay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotAuthenticated = errors.New("not authenticated: please authenticate through the OneNote MCP server first")
)

// NotFoundError reports a name resolution that matched nothing. It
// always carries the entity kind and the searched name so the caller
// can correct the request.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AmbiguousNameError reports a name shared by two or more entities.
// The relay never silently picks one; all matched ids are returned so
// the caller can retry with an explicit id.
type AmbiguousNameError struct {
	Kind       string
	Name       string
	MatchedIDs []string
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("%s name %q is ambiguous: matches ids %s", e.Kind, e.Name, strings.Join(e.MatchedIDs, ", "))
}

// UpstreamError wraps a failure reported by the upstream note store.
// StatusCode is the upstream HTTP status, Code the upstream error code
// when one was supplied.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}
