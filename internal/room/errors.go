package room

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyJoined is returned by Join when this client already
	// owns a live session.
	ErrAlreadyJoined = errors.New("room: already joined")

	// ErrNotJoined is returned by operations that need a live session.
	ErrNotJoined = errors.New("room: not joined")

	// ErrClosed is returned by operations on a client that is not
	// open.
	ErrClosed = errors.New("room: client closed")
)

// ValidationError reports input rejected before any remote call was
// made.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}
