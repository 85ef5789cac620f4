package harness

import (
	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/fibery"
	"github.com/roach88/tg2fibery/internal/fiberytest"
)

// TraceEvent is one recorded HTTP request.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Run       int    `json:"run"`
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query,omitempty"`

	// Body is the decoded JSON body, with numbers as json.Number. nil for
	// requests without a body.
	Body any `json:"body,omitempty"`
}

// RunResult is the outcome of one job run.
type RunResult struct {
	Run    int
	Report *engine.Report
	Err    error
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if all assertions hold.
	Pass bool

	// Runs holds one entry per job run.
	Runs []RunResult

	// Trace contains every request to either fake, in arrival order.
	Trace []TraceEvent

	// Entities is the final workspace content.
	Entities []fiberytest.Entity

	// Schema is the workspace schema the job ran against.
	Schema fibery.Schema

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// run returns the given run (1-based), or the last run for 0.
func (r *Result) run(n int) (RunResult, bool) {
	if len(r.Runs) == 0 {
		return RunResult{}, false
	}
	if n == 0 {
		return r.Runs[len(r.Runs)-1], true
	}
	if n < 1 || n > len(r.Runs) {
		return RunResult{}, false
	}
	return r.Runs[n-1], true
}

// events returns the trace events of run n, or all events for 0.
func (r *Result) events(n int) []TraceEvent {
	if n == 0 {
		return r.Trace
	}
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Run == n {
			out = append(out, e)
		}
	}
	return out
}
