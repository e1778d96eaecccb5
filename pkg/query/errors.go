package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies a missing or unusable caller argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound classifies lookups of unknown named resources.
	ErrNotFound = errors.New("not found")
)

// InvalidArgument wraps ErrInvalidArgument with a message.
func InvalidArgument(format string, args ...any) error {
	return queryError(ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a message.
func NotFound(format string, args ...any) error {
	return queryError(ErrNotFound, fmt.Sprintf(format, args...))
}

func queryError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
