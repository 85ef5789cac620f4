// Package engine mirrors fetched bot updates into workspace entities.
//
// Each run fetches one bounded window of updates and then drives every
// update, in fetch order and one at a time, through
//
//	FETCHED -> CHECKED -> SKIPPED
//	FETCHED -> CHECKED -> CREATING -> CREATED -> SECRET_RESOLVED -> PUSHED
//
// or to FAILED at the stage that raised. The only guard against duplicate
// entities is the lookup by sync key that precedes every create; there is
// no local state between runs. Two overlapping runs can both miss the
// lookup and create twice; within a run, updates are never processed
// concurrently.
//
// Failures are scoped to the update that raised them. A failed update is
// logged and recorded in the Report and the next update is attempted.
// Side effects already applied (an entity created whose content was never
// pushed) are left in place; the FAILED outcome carries the entity id.
package engine
