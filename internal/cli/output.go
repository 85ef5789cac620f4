package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/tg2fibery/internal/config"
	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/telegram"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Sync pass completed, failed updates included
	ExitFailure      = 1 // Runtime failure (source unavailable, scenarios failed)
	ExitCommandError = 2 // Configuration error, reported before any network call
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`    // "E_CONFIG_MISSING_KEY", "E_SOURCE_UNAVAILABLE", ...
	Message string `json:"message"` // human-readable message
}

// SyncSummary is the JSON payload of a completed sync pass.
type SyncSummary struct {
	Synced   int             `json:"synced"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Failures []UpdateFailure `json:"failures,omitempty"`
}

// UpdateFailure describes one failed update.
type UpdateFailure struct {
	UpdateID int64  `json:"update_id"`
	SyncKey  string `json:"sync_key"`
	Stage    string `json:"stage"`
	EntityID string `json:"entity_id,omitempty"`
	Error    string `json:"error"`
}

func (u UpdateFailure) String() string {
	s := fmt.Sprintf("update %d (%s) failed at %s", u.UpdateID, u.SyncKey, u.Stage)
	if u.EntityID != "" {
		s += " entity=" + u.EntityID
	}
	return s + ": " + u.Error
}

func summarize(report *engine.Report) SyncSummary {
	s := SyncSummary{
		Synced:  report.Synced(),
		Skipped: report.Skipped(),
		Failed:  report.Failed(),
	}
	for _, e := range report.Errors() {
		s.Failures = append(s.Failures, UpdateFailure{
			UpdateID: e.UpdateID,
			SyncKey:  e.SyncKey,
			Stage:    string(e.Stage),
			EntityID: e.EntityID,
			Error:    e.Err.Error(),
		})
	}
	return s
}

// OutputFormatter renders sync results as JSON or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // failure lines in verbose text mode; defaults to Writer
	Verbose   bool
}

// Report writes the outcome of a sync pass. Text mode prints the summary
// line, plus one line per failed update on ErrWriter when verbose.
func (f *OutputFormatter) Report(report *engine.Report) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   summarize(report),
		})
	}

	if _, err := fmt.Fprintln(f.Writer, report.Summary()); err != nil {
		return err
	}
	if !f.Verbose {
		return nil
	}
	w := f.errWriter()
	for _, failure := range summarize(report).Failures {
		fmt.Fprintln(w, failure)
	}
	return nil
}

// Fatal writes a JSON error response for err. Text mode writes nothing:
// main prints the returned error on stderr.
func (f *OutputFormatter) Fatal(err error) error {
	if f.Format != "json" {
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{
		Status: "error",
		Error: &CLIError{
			Code:    errorCode(err),
			Message: err.Error(),
		},
	})
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// errorCode maps a fatal error to a CLI error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalid):
		return "E_CONFIG_" + strings.ToUpper(string(config.CodeOf(err)))
	case errors.Is(err, telegram.ErrSourceUnavailable):
		return "E_SOURCE_UNAVAILABLE"
	default:
		return "E_RUNTIME"
	}
}
