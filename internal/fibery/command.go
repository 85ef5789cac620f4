package fibery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command names understood by POST /api/commands.
const (
	CommandCreate = "fibery.entity/create"
	CommandQuery  = "fibery.entity/query"
)

// Operation names a workspace client operation in errors and logs.
type Operation string

const (
	OpFindBySyncKey Operation = "find_entity_by_sync_key"
	OpCreateEntity  Operation = "create_entity"
	OpResolveSecret Operation = "resolve_document_secret"
	OpPushContent   Operation = "push_content"
)

// Command is one request variant for the command endpoint.
//
// Sealed: only CreateMaterial, FindBySyncKey and ResolveSecret implement it.
// Each variant owns its serializer so the wire shape of a command is defined
// in exactly one place.
type Command interface {
	json.Marshaler
	Operation() Operation
	commandNode()
}

// IDParam is the parameter name both queries bind their lookup value to.
const IDParam = "$id"

type envelope struct {
	Command string `json:"command"`
	Args    any    `json:"args"`
}

type createArgs struct {
	Type   string            `json:"type"`
	Entity map[string]string `json:"entity"`
}

type queryArgs struct {
	Query  Query          `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// CreateMaterial creates an entity with a caller-generated id and its sync key.
type CreateMaterial struct {
	Schema  Schema
	ID      string
	SyncKey string
}

func (CreateMaterial) commandNode() {}

// Operation implements Command.
func (CreateMaterial) Operation() Operation { return OpCreateEntity }

// MarshalJSON encodes:
//
//	{"command": "fibery.entity/create",
//	 "args": {"type": <type>, "entity": {<id-field>: <id>, <sync-key-field>: <key>}}}
func (c CreateMaterial) MarshalJSON() ([]byte, error) {
	if strings.TrimSpace(c.ID) == "" {
		return nil, fmt.Errorf("create: entity id is required")
	}
	if strings.TrimSpace(c.SyncKey) == "" {
		return nil, fmt.Errorf("create: sync key is required")
	}
	return json.Marshal(envelope{
		Command: CommandCreate,
		Args: createArgs{
			Type: c.Schema.Type,
			Entity: map[string]string{
				c.Schema.IDField:      c.ID,
				c.Schema.SyncKeyField: c.SyncKey,
			},
		},
	})
}

// FindBySyncKey looks up the id of the entity carrying a sync key.
type FindBySyncKey struct {
	Schema  Schema
	SyncKey string
}

func (FindBySyncKey) commandNode() {}

// Operation implements Command.
func (FindBySyncKey) Operation() Operation { return OpFindBySyncKey }

// Query returns the entity query restricted to the sync key, limit 1.
func (c FindBySyncKey) Query() Query {
	return Query{
		From:   c.Schema.Type,
		Select: []Field{FieldName(c.Schema.IDField)},
		Where:  Equals{Field: c.Schema.SyncKeyField, Param: IDParam},
		Limit:  1,
	}
}

// MarshalJSON encodes a fibery.entity/query with params {"$id": <sync key>}.
func (c FindBySyncKey) MarshalJSON() ([]byte, error) {
	if strings.TrimSpace(c.SyncKey) == "" {
		return nil, fmt.Errorf("find: sync key is required")
	}
	return json.Marshal(envelope{
		Command: CommandQuery,
		Args: queryArgs{
			Query:  c.Query(),
			Params: map[string]any{IDParam: c.SyncKey},
		},
	})
}

// ResolveSecret selects the secret of the document linked to an entity.
type ResolveSecret struct {
	Schema   Schema
	EntityID string
}

func (ResolveSecret) commandNode() {}

// Operation implements Command.
func (ResolveSecret) Operation() Operation { return OpResolveSecret }

// Query returns the entity query selecting the linked document secret, limit 1.
func (c ResolveSecret) Query() Query {
	return Query{
		From: c.Schema.Type,
		Select: []Field{
			FieldName(c.Schema.IDField),
			Nested{
				Field:  c.Schema.DocumentField,
				Select: []Field{FieldName(c.Schema.SecretField)},
			},
		},
		Where: Equals{Field: c.Schema.IDField, Param: IDParam},
		Limit: 1,
	}
}

// MarshalJSON encodes a fibery.entity/query with params {"$id": <entity id>}.
func (c ResolveSecret) MarshalJSON() ([]byte, error) {
	if strings.TrimSpace(c.EntityID) == "" {
		return nil, fmt.Errorf("resolve secret: entity id is required")
	}
	return json.Marshal(envelope{
		Command: CommandQuery,
		Args: queryArgs{
			Query:  c.Query(),
			Params: map[string]any{IDParam: c.EntityID},
		},
	})
}

// EncodeBatch serializes commands as the JSON list the endpoint expects.
func EncodeBatch(cmds ...Command) ([]byte, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("command batch must be non-empty")
	}
	return json.Marshal(cmds)
}
