package harness

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/telegram"
)

// AssertionError is returned when an assertion fails.
// It includes the trace of the asserted run to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] run=%d %s %s %s\n", event.Seq, event.Run, event.Operation, event.Method, event.Path)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertCreateOrder:
		return assertCreateOrder(result, a)
	case AssertDocumentContent:
		return assertDocumentContent(result, a)
	case AssertEntityCount:
		return assertEntityCount(result, a)
	case AssertOutcome:
		return assertOutcome(result, a)
	case AssertSummary:
		return assertSummary(result, a)
	case AssertFetchFailed:
		return assertFetchFailed(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertCallCount checks how often an operation was called.
func assertCallCount(result *Result, a Assertion) error {
	events := result.events(a.Run)
	count := 0
	for _, e := range events {
		if e.Operation == a.Operation {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d × %s", a.Count, a.Operation),
			Actual:   fmt.Sprintf("%d × %s", count, a.Operation),
			Trace:    events,
		}
	}
	return nil
}

// assertCreateOrder checks the sync keys of create_entity calls, in order.
func assertCreateOrder(result *Result, a Assertion) error {
	events := result.events(a.Run)
	keys := []string{}
	for _, e := range events {
		if e.Operation == string(fibery.OpCreateEntity) {
			keys = append(keys, createdSyncKey(e, result.Schema.SyncKeyField))
		}
	}
	if !slices.Equal(keys, a.SyncKeys) {
		return &AssertionError{
			Type:     AssertCreateOrder,
			Expected: fmt.Sprintf("%v", a.SyncKeys),
			Actual:   fmt.Sprintf("%v", keys),
			Trace:    events,
		}
	}
	return nil
}

// assertDocumentContent checks the final document content of an entity.
// An empty Content also matches a document that was never written.
func assertDocumentContent(result *Result, a Assertion) error {
	fail := func(actual string) error {
		return &AssertionError{
			Type:     AssertDocumentContent,
			Expected: fmt.Sprintf("%s holds %q", a.SyncKey, a.Content),
			Actual:   actual,
		}
	}

	n := 0
	var content *string
	linked := false
	for _, e := range result.Entities {
		if e.SyncKey != a.SyncKey {
			continue
		}
		n++
		if e.Document != nil {
			linked = true
			content = e.Document.Content
		}
	}
	switch {
	case n == 0:
		return fail("no entity")
	case n > 1:
		return fail(fmt.Sprintf("%d entities", n))
	case !linked:
		return fail("no linked document")
	case content == nil:
		if a.Content == "" {
			return nil
		}
		return fail("document never written")
	case *content != a.Content:
		return fail(fmt.Sprintf("%q", *content))
	}
	return nil
}

// assertEntityCount checks the number of entities in the final workspace.
func assertEntityCount(result *Result, a Assertion) error {
	if len(result.Entities) != a.Count {
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d entities", a.Count),
			Actual:   fmt.Sprintf("%d entities", len(result.Entities)),
		}
	}
	return nil
}

// assertOutcome checks the terminal state, and the failing stage if given,
// of one update in a run report.
func assertOutcome(result *Result, a Assertion) error {
	report, err := reportOf(result, a)
	if err != nil {
		return err
	}

	expected := a.State
	if a.Stage != "" {
		expected += " at " + a.Stage
	}
	for _, o := range report.Outcomes {
		if o.SyncKey != a.SyncKey {
			continue
		}
		actual := string(o.State)
		if o.Err != nil {
			actual += " at " + string(o.Err.Stage)
		}
		if string(o.State) != a.State || (a.Stage != "" && (o.Err == nil || string(o.Err.Stage) != a.Stage)) {
			return &AssertionError{Type: AssertOutcome, Expected: expected, Actual: actual}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertOutcome,
		Expected: fmt.Sprintf("%s for %s", expected, a.SyncKey),
		Actual:   "update not in report",
	}
}

// assertSummary checks the rendered report counts.
func assertSummary(result *Result, a Assertion) error {
	report, err := reportOf(result, a)
	if err != nil {
		return err
	}
	if report.Summary() != a.Summary {
		return &AssertionError{Type: AssertSummary, Expected: a.Summary, Actual: report.Summary()}
	}
	return nil
}

// assertFetchFailed checks that a run failed because the source was
// unavailable and touched no workspace endpoint.
func assertFetchFailed(result *Result, a Assertion) error {
	run, ok := result.run(a.Run)
	if !ok {
		return fmt.Errorf("run %d not executed", a.Run)
	}
	if run.Err == nil || !errors.Is(run.Err, telegram.ErrSourceUnavailable) {
		return &AssertionError{
			Type:     AssertFetchFailed,
			Expected: "source unavailable",
			Actual:   fmt.Sprintf("%v", run.Err),
		}
	}
	for _, e := range result.events(run.Run) {
		if e.Operation != OpFetchUpdates {
			return &AssertionError{
				Type:     AssertFetchFailed,
				Expected: "no workspace calls",
				Actual:   e.Operation,
				Trace:    result.events(run.Run),
			}
		}
	}
	return nil
}

func reportOf(result *Result, a Assertion) (*engine.Report, error) {
	run, ok := result.run(a.Run)
	if !ok {
		return nil, fmt.Errorf("run %d not executed", a.Run)
	}
	if run.Err != nil {
		return nil, fmt.Errorf("run %d failed: %v", run.Run, run.Err)
	}
	return run.Report, nil
}
