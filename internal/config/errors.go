package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every configuration failure.
var ErrInvalid = errors.New("invalid configuration")

// ErrorCode categorizes configuration failures.
type ErrorCode string

const (
	// ErrCodeMissingFile indicates the credentials file does not exist or is a directory.
	ErrCodeMissingFile ErrorCode = "missing_file"

	// ErrCodeParse indicates the file is not valid INI.
	ErrCodeParse ErrorCode = "parse"

	// ErrCodeMissingSection indicates a required section is absent.
	ErrCodeMissingSection ErrorCode = "missing_section"

	// ErrCodeMissingKey indicates a required key is absent.
	ErrCodeMissingKey ErrorCode = "missing_key"

	// ErrCodeInvalid indicates a value fails schema validation.
	ErrCodeInvalid ErrorCode = "invalid"
)

// Error describes a configuration failure. Key is the dotted setting name
// ("telegram.token") or the file path for file-level failures.
type Error struct {
	Code ErrorCode
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("config %s", e.Code)
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrInvalid.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a configuration error, or "" if err is not one.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
