package query

import (
	"fmt"
	"strings"

	"github.com/mtgsql/mtgsql/internal/errors"
)

// Op is a predicate operator.
type Op string

const (
	OpEq       Op = "="
	OpNotEq    Op = "!="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpBetween  Op = "BETWEEN"
	OpLike     Op = "LIKE"
	OpIn       Op = "IN"
	OpNotIn    Op = "NOT IN"
	OpRegex    Op = "REGEX"
	OpFuzzy    Op = "FUZZY"
	OpIsNull   Op = "IS NULL"
	OpNotNull  Op = "IS NOT NULL"
	OpContains Op = "CONTAINS"
	OpOr       Op = "OR"
	OpAnd      Op = "AND"
)

// Predicate is one filter fragment. Values are never rendered into text;
// each becomes a bound parameter.
type Predicate struct {
	op        Op
	column    string
	values    []any
	threshold float64
	children  []Predicate
}

// Column returns the column the predicate tests, empty for groups.
func (p Predicate) Column() string { return p.column }

// Op returns the predicate operator.
func (p Predicate) Op() Op { return p.op }

func Eq(column string, value any) Predicate    { return cmp(OpEq, column, value) }
func NotEq(column string, value any) Predicate { return cmp(OpNotEq, column, value) }
func Gt(column string, value any) Predicate    { return cmp(OpGt, column, value) }
func Gte(column string, value any) Predicate   { return cmp(OpGte, column, value) }
func Lt(column string, value any) Predicate    { return cmp(OpLt, column, value) }
func Lte(column string, value any) Predicate   { return cmp(OpLte, column, value) }

// Between matches lo <= column <= hi.
func Between(column string, lo, hi any) Predicate {
	return Predicate{op: OpBetween, column: column, values: []any{lo, hi}}
}

// Like is a case-insensitive LIKE match.
func Like(column, pattern string) Predicate {
	return Predicate{op: OpLike, column: column, values: []any{pattern}}
}

// In matches any of values. An empty set matches nothing.
func In(column string, values ...any) Predicate {
	return Predicate{op: OpIn, column: column, values: append([]any(nil), values...)}
}

// NotIn excludes values. An empty set matches everything.
func NotIn(column string, values ...any) Predicate {
	return Predicate{op: OpNotIn, column: column, values: append([]any(nil), values...)}
}

// Regex matches column against a regular expression.
func Regex(column, pattern string) Predicate {
	return Predicate{op: OpRegex, column: column, values: []any{pattern}}
}

// Fuzzy matches when the Jaro-Winkler similarity of column and value
// exceeds threshold, which must lie in [0, 1].
func Fuzzy(column, value string, threshold float64) Predicate {
	return Predicate{op: OpFuzzy, column: column, values: []any{value}, threshold: threshold}
}

func IsNull(column string) Predicate  { return Predicate{op: OpIsNull, column: column} }
func NotNull(column string) Predicate { return Predicate{op: OpNotNull, column: column} }

// Contains matches array columns holding value.
func Contains(column string, value any) Predicate {
	return Predicate{op: OpContains, column: column, values: []any{value}}
}

// Or matches when any child matches.
func Or(preds ...Predicate) Predicate {
	return Predicate{op: OpOr, children: append([]Predicate(nil), preds...)}
}

// And matches when every child matches; useful inside Or.
func And(preds ...Predicate) Predicate {
	return Predicate{op: OpAnd, children: append([]Predicate(nil), preds...)}
}

// Values converts a typed slice for In and NotIn.
func Values[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func cmp(op Op, column string, value any) Predicate {
	return Predicate{op: op, column: column, values: []any{value}}
}

// empty reports whether a group has no children and renders to nothing.
func (p Predicate) empty() bool {
	return (p.op == OpOr || p.op == OpAnd) && len(p.children) == 0
}

// render produces the fragment and its parameters in placeholder order.
// resolve validates and quotes a column reference.
func (p Predicate) render(resolve func(ref, clause string) (string, error)) (string, []any, error) {
	switch p.op {
	case OpOr, OpAnd:
		var parts []string
		var params []any
		for _, c := range p.children {
			if c.empty() {
				continue
			}
			frag, ps, err := c.render(resolve)
			if err != nil {
				return "", nil, err
			}
			if frag == "" {
				continue
			}
			parts = append(parts, frag)
			params = append(params, ps...)
		}
		switch len(parts) {
		case 0:
			return "", nil, nil
		case 1:
			return parts[0], params, nil
		}
		return "(" + strings.Join(parts, " "+string(p.op)+" ") + ")", params, nil
	}

	col, err := resolve(p.column, "where")
	if err != nil {
		return "", nil, err
	}

	switch p.op {
	case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte:
		return fmt.Sprintf("%s %s ?", col, p.op), p.values, nil
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN ? AND ?", col), p.values, nil
	case OpLike:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", col), p.values, nil
	case OpIn, OpNotIn:
		if len(p.values) == 0 {
			if p.op == OpIn {
				return "FALSE", nil, nil
			}
			return "TRUE", nil, nil
		}
		return fmt.Sprintf("%s %s (%s)", col, p.op, placeholders(len(p.values))), p.values, nil
	case OpRegex:
		return fmt.Sprintf("regexp_matches(%s, ?)", col), p.values, nil
	case OpFuzzy:
		if p.threshold < 0 || p.threshold > 1 {
			return "", nil, errors.NewInvalidArgument(
				fmt.Sprintf("fuzzy threshold must be between 0 and 1, got %v", p.threshold)).
				WithDetails(map[string]interface{}{"column": p.column})
		}
		return fmt.Sprintf("jaro_winkler_similarity(%s, ?) > ?", col), []any{p.values[0], p.threshold}, nil
	case OpIsNull, OpNotNull:
		return fmt.Sprintf("%s %s", col, p.op), nil, nil
	case OpContains:
		return fmt.Sprintf("list_contains(%s, ?)", col), p.values, nil
	}
	return "", nil, errors.NewInvalidArgument(fmt.Sprintf("unknown predicate operator %q", p.op))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
