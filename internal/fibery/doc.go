// Package fibery is a typed client for the Fibery workspace command API.
//
// Commands sent to POST /api/commands are modeled as a sealed set of request
// variants (CreateMaterial, FindBySyncKey, ResolveSecret), each with its own
// serializer. Destination field names are spelled once, in Schema, and every
// variant reads them from there.
//
// Wire format of a command batch:
//
//	[{"command": "fibery.entity/query",
//	  "args": {"query": {"q/from": ..., "q/select": [...], "q/where": [...], "q/limit": 1},
//	           "params": {"$id": ...}}}]
//
// Responses are a list with one element {"success": bool, "result": ...}.
// Any failure surfaces as *CommandError, which matches ErrCommandFailed.
//
// The client never retries. One call is one HTTP round trip.
package fibery
