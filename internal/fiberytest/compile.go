package fiberytest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tg2fibery/internal/fibery"
)

// compiledQuery is an entity query translated to SQLite.
//
// Paths has one entry per selected column, giving where the value is placed
// in the result row: ["fibery/id"] or ["<document field>", "<secret field>"].
type compiledQuery struct {
	SQL   string
	Args  []any
	Paths [][]string
}

// compiler translates fibery.Query values to parameterized SQL over the
// entities and documents tables.
//
// Every query is ordered by creation seq with an id tiebreaker so results
// are deterministic. Values are always bound, never interpolated.
type compiler struct {
	schema fibery.Schema
}

func (c compiler) compile(q fibery.Query, params map[string]any) (*compiledQuery, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := &compiledQuery{}
	columns := make([]string, 0, len(q.Select))
	for _, f := range q.Select {
		cols, paths, err := c.compileField(f)
		if err != nil {
			return nil, err
		}
		columns = append(columns, cols...)
		out.Paths = append(out.Paths, paths...)
	}

	where := "e.type = ?"
	out.Args = append(out.Args, q.From)
	if q.Where != nil {
		sql, args, err := c.compilePredicate(q.Where, params)
		if err != nil {
			return nil, fmt.Errorf("compile q/where: %w", err)
		}
		where += " AND " + sql
		out.Args = append(out.Args, args...)
	}

	out.SQL = fmt.Sprintf(
		"SELECT %s FROM entities e LEFT JOIN documents d ON d.id = e.document_id WHERE %s ORDER BY e.seq ASC, e.id ASC COLLATE BINARY",
		strings.Join(columns, ", "), where)
	if q.Limit > 0 {
		out.SQL += " LIMIT ?"
		out.Args = append(out.Args, q.Limit)
	}
	return out, nil
}

func (c compiler) compileField(f fibery.Field) ([]string, [][]string, error) {
	switch field := f.(type) {
	case fibery.FieldName:
		col, err := c.entityColumn(string(field))
		if err != nil {
			return nil, nil, err
		}
		return []string{col}, [][]string{{string(field)}}, nil
	case fibery.Nested:
		if field.Field != c.schema.DocumentField {
			return nil, nil, fmt.Errorf("unknown relation %q", field.Field)
		}
		if len(field.Select) == 0 {
			return nil, nil, fmt.Errorf("empty selection for %q", field.Field)
		}
		var cols []string
		var paths [][]string
		for _, sub := range field.Select {
			name, ok := sub.(fibery.FieldName)
			if !ok {
				return nil, nil, fmt.Errorf("nested selection under %q is not supported", field.Field)
			}
			col, err := c.documentColumn(string(name))
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, col)
			paths = append(paths, []string{field.Field, string(name)})
		}
		return cols, paths, nil
	default:
		return nil, nil, fmt.Errorf("unsupported field type: %T", f)
	}
}

func (c compiler) compilePredicate(p fibery.Predicate, params map[string]any) (string, []any, error) {
	switch pred := p.(type) {
	case fibery.Equals:
		col, err := c.entityColumn(pred.Field)
		if err != nil {
			return "", nil, err
		}
		value, ok := params[pred.Param]
		if !ok {
			return "", nil, fmt.Errorf("parameter %s is not bound", pred.Param)
		}
		arg, err := sqlValue(value)
		if err != nil {
			return "", nil, fmt.Errorf("parameter %s: %w", pred.Param, err)
		}
		return col + " = ?", []any{arg}, nil
	case fibery.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var args []any
		for _, sub := range pred.Predicates {
			sql, subArgs, err := c.compilePredicate(sub, params)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			args = append(args, subArgs...)
		}
		return "(" + strings.Join(parts, " AND ") + ")", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c compiler) entityColumn(field string) (string, error) {
	switch field {
	case c.schema.IDField:
		return "e.id", nil
	case c.schema.SyncKeyField:
		return "e.sync_key", nil
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}
}

func (c compiler) documentColumn(field string) (string, error) {
	switch field {
	case c.schema.IDField:
		return "d.id", nil
	case c.schema.SecretField:
		return "d.secret", nil
	default:
		return "", fmt.Errorf("unknown document field %q", field)
	}
}

// sqlValue converts a decoded JSON parameter to a driver value.
func sqlValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
