package engine

import (
	"errors"
	"fmt"
)

// Stage identifies the workspace call an update failed in.
type Stage string

const (
	// StageLookup is the sync-key lookup that precedes every create.
	StageLookup Stage = "LOOKUP"

	// StageCreate is entity creation.
	StageCreate Stage = "CREATE"

	// StageResolveSecret is the query for the linked document secret.
	StageResolveSecret Stage = "RESOLVE_SECRET"

	// StagePush is the document content update.
	StagePush Stage = "PUSH"
)

// UpdateError is a failure scoped to one update.
//
// EntityID is set when the entity was created before the failure, i.e. the
// update left an entity without content behind.
type UpdateError struct {
	UpdateID int64
	SyncKey  string
	Stage    Stage
	EntityID string
	Err      error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: update %d (key=%s, entity=%s): %v", e.Stage, e.UpdateID, e.SyncKey, e.EntityID, e.Err)
	}
	return fmt.Sprintf("%s: update %d (key=%s): %v", e.Stage, e.UpdateID, e.SyncKey, e.Err)
}

// Unwrap returns the workspace error.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsOrphan reports whether err is an UpdateError that left a created entity
// without pushed content. Uses errors.As to handle wrapped errors.
func IsOrphan(err error) bool {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.EntityID != ""
	}
	return false
}

// StageOf returns the failing stage if err is an UpdateError.
func StageOf(err error) (Stage, bool) {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Stage, true
	}
	return "", false
}
