package fibery

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandFailed matches every workspace operation failure.
	ErrCommandFailed = errors.New("workspace command failed")

	// ErrDocumentNotLinked means the entity has no resolvable document secret.
	// It also matches ErrCommandFailed.
	ErrDocumentNotLinked = fmt.Errorf("%w: document not linked", ErrCommandFailed)
)

// CommandError describes a failed workspace operation.
//
// Status is the HTTP status of the response, or 0 when the request never
// produced one (transport failure).
type CommandError struct {
	Operation Operation
	Status    int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("fibery %s failed: status=%d", e.Operation, e.Status)
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Unwrap returns the underlying cause, if any.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// OperationOf returns the failed operation if err is a CommandError.
func OperationOf(err error) (Operation, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Operation, true
	}
	return "", false
}
