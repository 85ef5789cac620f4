package fibery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one entry of a q/select list.
//
// Sealed: only FieldName and Nested implement it.
type Field interface {
	fieldNode()
}

// FieldName selects a primitive field by its qualified name.
//
//	FieldName("fibery/id")  ->  "fibery/id"
type FieldName string

func (FieldName) fieldNode() {}

// Nested selects fields of a related entity or document.
//
//	Nested{Field: "Knowledge Management/Praise", Select: []Field{FieldName("Collaboration~Documents/secret")}}
//	  ->  {"Knowledge Management/Praise": ["Collaboration~Documents/secret"]}
type Nested struct {
	Field  string
	Select []Field
}

func (Nested) fieldNode() {}

// MarshalJSON encodes the single-key object form.
func (n Nested) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]Field{n.Field: n.Select})
}

// Predicate is a q/where expression.
//
// Sealed: only Equals and And implement it.
type Predicate interface {
	json.Marshaler
	predicateNode()
	params() []string
}

// Equals compares a field with a named query parameter.
//
//	Equals{Field: "fibery/id", Param: "$id"}  ->  ["=", ["fibery/id"], "$id"]
//
// Values are never inlined; they travel in the command's params map.
type Equals struct {
	Field string
	Param string
}

func (Equals) predicateNode() {}

func (e Equals) params() []string { return []string{e.Param} }

// MarshalJSON encodes the prefix-list form.
func (e Equals) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"=", []string{e.Field}, e.Param})
}

// And is a conjunction. An empty And matches every row.
//
//	And{Predicates: []Predicate{a, b}}  ->  ["and", a, b]
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (a And) params() []string {
	var out []string
	for _, p := range a.Predicates {
		out = append(out, p.params()...)
	}
	return out
}

// MarshalJSON encodes the prefix-list form.
func (a And) MarshalJSON() ([]byte, error) {
	expr := make([]any, 0, len(a.Predicates)+1)
	expr = append(expr, "and")
	for _, p := range a.Predicates {
		expr = append(expr, p)
	}
	return json.Marshal(expr)
}

// Query is the body of a fibery.entity/query command.
type Query struct {
	From   string
	Select []Field
	Where  Predicate // nil = no filter
	Limit  int       // 0 = no limit
}

// Validate checks the query is complete and every parameter is "$"-prefixed.
func (q Query) Validate() error {
	if strings.TrimSpace(q.From) == "" {
		return fmt.Errorf("query q/from is required")
	}
	if len(q.Select) == 0 {
		return fmt.Errorf("query q/select must be non-empty")
	}
	if q.Limit < 0 {
		return fmt.Errorf("query q/limit must be non-negative, got %d", q.Limit)
	}
	if q.Where != nil {
		for _, p := range q.Where.params() {
			if !strings.HasPrefix(p, "$") {
				return fmt.Errorf("query parameter %q must start with $", p)
			}
		}
	}
	return nil
}

// MarshalJSON encodes the q/-prefixed object in from, select, where, limit order.
func (q Query) MarshalJSON() ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		From   string    `json:"q/from"`
		Select []Field   `json:"q/select"`
		Where  Predicate `json:"q/where,omitempty"`
		Limit  int       `json:"q/limit,omitempty"`
	}{
		From:   q.From,
		Select: q.Select,
		Where:  q.Where,
		Limit:  q.Limit,
	})
}
