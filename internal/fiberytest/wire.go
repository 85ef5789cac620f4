package fiberytest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/tg2fibery/internal/fibery"
)

type wireCommand struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

type wireCreateArgs struct {
	Type   string         `json:"type"`
	Entity map[string]any `json:"entity"`
}

type wireQueryArgs struct {
	Query  wireQuery      `json:"query"`
	Params map[string]any `json:"params"`
}

type wireQuery struct {
	From   string            `json:"q/from"`
	Select []json.RawMessage `json:"q/select"`
	Where  json.RawMessage   `json:"q/where"`
	Limit  *int              `json:"q/limit"`
}

type commandResult struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// decodeStrict decodes data into v, keeping numbers as json.Number.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// parseQuery turns the wire form of an entity query back into a fibery.Query.
func parseQuery(w wireQuery) (fibery.Query, error) {
	q := fibery.Query{From: w.From}
	for i, raw := range w.Select {
		f, err := parseField(raw)
		if err != nil {
			return fibery.Query{}, fmt.Errorf("q/select[%d]: %w", i, err)
		}
		q.Select = append(q.Select, f)
	}
	if len(w.Where) > 0 && !bytes.Equal(bytes.TrimSpace(w.Where), []byte("null")) {
		p, err := parsePredicate(w.Where)
		if err != nil {
			return fibery.Query{}, fmt.Errorf("q/where: %w", err)
		}
		q.Where = p
	}
	if w.Limit != nil {
		q.Limit = *w.Limit
	}
	return q, nil
}

// parseField accepts "name" or {"relation": [fields...]}.
func parseField(raw json.RawMessage) (fibery.Field, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return fibery.FieldName(name), nil
	}

	var nested map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("field must be a string or an object: %s", raw)
	}
	if len(nested) != 1 {
		return nil, fmt.Errorf("nested field must have exactly one key, got %d", len(nested))
	}
	for relation, items := range nested {
		n := fibery.Nested{Field: relation}
		for _, item := range items {
			f, err := parseField(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", relation, err)
			}
			n.Select = append(n.Select, f)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unreachable")
}

// parsePredicate accepts ["=", [field], "$param"] and ["and", pred...].
func parsePredicate(raw json.RawMessage) (fibery.Predicate, error) {
	var expr []json.RawMessage
	if err := json.Unmarshal(raw, &expr); err != nil || len(expr) == 0 {
		return nil, fmt.Errorf("predicate must be a non-empty list: %s", raw)
	}
	var op string
	if err := json.Unmarshal(expr[0], &op); err != nil {
		return nil, fmt.Errorf("predicate operator must be a string: %s", expr[0])
	}

	switch op {
	case "=":
		if len(expr) != 3 {
			return nil, fmt.Errorf("= takes 2 operands, got %d", len(expr)-1)
		}
		var path []string
		if err := json.Unmarshal(expr[1], &path); err != nil || len(path) != 1 {
			return nil, fmt.Errorf("= expects a one-element field path: %s", expr[1])
		}
		var param string
		if err := json.Unmarshal(expr[2], &param); err != nil {
			return nil, fmt.Errorf("= expects a parameter name: %s", expr[2])
		}
		return fibery.Equals{Field: path[0], Param: param}, nil
	case "and":
		and := fibery.And{}
		for _, sub := range expr[1:] {
			p, err := parsePredicate(sub)
			if err != nil {
				return nil, err
			}
			and.Predicates = append(and.Predicates, p)
		}
		return and, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
}
