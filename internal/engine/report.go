package engine

import "fmt"

// State is the position of an update in the per-update state machine.
type State string

const (
	StateFetched        State = "FETCHED"
	StateChecked        State = "CHECKED"
	StateSkipped        State = "SKIPPED"
	StateCreating       State = "CREATING"
	StateCreated        State = "CREATED"
	StateSecretResolved State = "SECRET_RESOLVED"
	StatePushed         State = "PUSHED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateSkipped || s == StatePushed || s == StateFailed
}

// Outcome is the result of one update.
type Outcome struct {
	UpdateID int64
	SyncKey  string

	// State is terminal: SKIPPED, PUSHED or FAILED.
	State State

	// Reached is the last state entered before State. For a FAILED update
	// it tells how far processing got; otherwise it equals State.
	Reached State

	// EntityID is the existing entity for SKIPPED, the created entity for
	// PUSHED, and the orphaned entity for a FAILED update that got past
	// CREATED. Empty otherwise.
	EntityID string

	// Err is set only for FAILED.
	Err *UpdateError
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Reached = s
}

func (o Outcome) fail(stage Stage, err error) Outcome {
	o.State = StateFailed
	o.Err = &UpdateError{
		UpdateID: o.UpdateID,
		SyncKey:  o.SyncKey,
		Stage:    stage,
		EntityID: o.EntityID,
		Err:      err,
	}
	return o
}

// Report collects the outcomes of one run in fetch order.
type Report struct {
	Outcomes []Outcome
}

func (r *Report) count(s State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Synced is the number of updates whose content was pushed.
func (r *Report) Synced() int { return r.count(StatePushed) }

// Skipped is the number of updates that already had an entity.
func (r *Report) Skipped() int { return r.count(StateSkipped) }

// Failed is the number of updates abandoned after an error.
func (r *Report) Failed() int { return r.count(StateFailed) }

// Errors returns the update-scoped failures in fetch order.
func (r *Report) Errors() []*UpdateError {
	var out []*UpdateError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Err)
		}
	}
	return out
}

// Summary renders the counts as "synced=N skipped=N failed=N".
func (r *Report) Summary() string {
	return fmt.Sprintf("synced=%d skipped=%d failed=%d", r.Synced(), r.Skipped(), r.Failed())
}
