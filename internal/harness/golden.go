package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Snapshot converts a result into the canonical golden form: the scenario
// name, one entry per run with its outcomes, and the full request trace.
func Snapshot(name string, result *Result) ([]byte, error) {
	runs := make([]any, len(result.Runs))
	for i, r := range result.Runs {
		run := map[string]any{
			"run":      r.Run,
			"outcomes": []any{},
		}
		if r.Err != nil {
			run["error"] = r.Err.Error()
		}
		if r.Report != nil {
			run["summary"] = r.Report.Summary()
			outcomes := make([]any, len(r.Report.Outcomes))
			for j, o := range r.Report.Outcomes {
				m := map[string]any{
					"update_id": o.UpdateID,
					"sync_key":  o.SyncKey,
					"state":     string(o.State),
				}
				if o.EntityID != "" {
					m["entity_id"] = o.EntityID
				}
				if o.Err != nil {
					m["stage"] = string(o.Err.Stage)
					m["error"] = o.Err.Err.Error()
				}
				outcomes[j] = m
			}
			run["outcomes"] = outcomes
		}
		runs[i] = run
	}

	trace := make([]any, len(result.Trace))
	for i, e := range result.Trace {
		m := map[string]any{
			"seq":       e.Seq,
			"run":       e.Run,
			"service":   e.Service,
			"operation": e.Operation,
			"method":    e.Method,
			"path":      e.Path,
		}
		if e.Query != "" {
			m["query"] = e.Query
		}
		if e.Body != nil {
			m["body"] = e.Body
		}
		trace[i] = m
	}

	return MarshalCanonical(map[string]any{
		"scenario": name,
		"runs":     runs,
		"trace":    trace,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	require.NoError(t, err)
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := Snapshot(name, result)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
