package telegram

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable matches every failure to retrieve updates.
var ErrSourceUnavailable = errors.New("telegram source unavailable")

// SourceError describes a failed getUpdates call.
//
// Status is the HTTP status of the response, or 0 when the request never
// produced one.
type SourceError struct {
	Op     string
	Status int
	Err    error
}

// Error implements the error interface. It never contains the bot token.
func (e *SourceError) Error() string {
	msg := fmt.Sprintf("telegram %s: status=%d", e.Op, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrSourceUnavailable.
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Unwrap returns the underlying cause, if any.
func (e *SourceError) Unwrap() error {
	return e.Err
}
