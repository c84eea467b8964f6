// Package query builds parameterized SQL for the embedded engine.
//
// Values always travel as bound parameters. Identifiers are checked against
// a Schema allow-list and the plain-identifier rule before they are quoted
// into the text, so neither channel can inject SQL. Builders are values:
// every method returns a new Builder and never changes its receiver.
package query

import (
	"fmt"
	"strings"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/schema"
)

// Aggregate is an allowed aggregate function.
type Aggregate string

const (
	Count    Aggregate = "COUNT"
	Min      Aggregate = "MIN"
	Max      Aggregate = "MAX"
	Avg      Aggregate = "AVG"
	Sum      Aggregate = "SUM"
	AnyValue Aggregate = "ANY_VALUE"
)

func (a Aggregate) valid() bool {
	switch a {
	case Count, Min, Max, Avg, Sum, AnyValue:
		return true
	}
	return false
}

type selectItem struct {
	column string
	agg    Aggregate
	alias  string
}

type tableRef struct {
	table string
	alias string
}

type join struct {
	kind  string
	ref   tableRef
	left  string
	right string
}

type having struct {
	agg    Aggregate
	column string
	op     Op
	value  any
}

type order struct {
	column string
	desc   bool
}

// Builder accumulates clauses. The zero value is not usable; call New.
type Builder struct {
	schema   *Schema
	from     tableRef
	distinct bool
	selects  []selectItem
	joins    []join
	where    []Predicate
	groupBy  []string
	having   []having
	orderBy  []order
	limit    int
	offset   int
	hasLimit bool
	hasOff   bool
}

// New starts a query over table, validated against s at Build time.
func New(s *Schema, table string) Builder {
	return Builder{schema: s, from: tableRef{table: table}}
}

// Table returns the FROM relation.
func (b Builder) Table() string { return b.from.table }

// As aliases the FROM relation.
func (b Builder) As(alias string) Builder {
	b.from.alias = alias
	return b
}

// Select adds plain columns. No Select means SELECT *.
func (b Builder) Select(columns ...string) Builder {
	items := make([]selectItem, 0, len(columns))
	for _, c := range columns {
		items = append(items, selectItem{column: c})
	}
	b.selects = appendCopy(b.selects, items...)
	return b
}

// SelectAs adds a column under an output alias.
func (b Builder) SelectAs(column, alias string) Builder {
	b.selects = appendCopy(b.selects, selectItem{column: column, alias: alias})
	return b
}

// SelectAgg adds an aggregate over column ("*" for COUNT(*)).
func (b Builder) SelectAgg(agg Aggregate, column, alias string) Builder {
	b.selects = appendCopy(b.selects, selectItem{column: column, agg: agg, alias: alias})
	return b
}

// Distinct makes the query SELECT DISTINCT.
func (b Builder) Distinct() Builder {
	b.distinct = true
	return b
}

// Join adds an inner equi-join: JOIN table AS alias ON left = right.
func (b Builder) Join(table, alias, left, right string) Builder {
	b.joins = appendCopy(b.joins, join{kind: "JOIN", ref: tableRef{table, alias}, left: left, right: right})
	return b
}

// LeftJoin adds a left outer equi-join.
func (b Builder) LeftJoin(table, alias, left, right string) Builder {
	b.joins = appendCopy(b.joins, join{kind: "LEFT JOIN", ref: tableRef{table, alias}, left: left, right: right})
	return b
}

// Where ANDs predicates onto the filter.
func (b Builder) Where(preds ...Predicate) Builder {
	b.where = appendCopy(b.where, preds...)
	return b
}

func (b Builder) WhereEq(column string, value any) Builder    { return b.Where(Eq(column, value)) }
func (b Builder) WhereNotEq(column string, value any) Builder { return b.Where(NotEq(column, value)) }
func (b Builder) WhereGt(column string, value any) Builder    { return b.Where(Gt(column, value)) }
func (b Builder) WhereGte(column string, value any) Builder   { return b.Where(Gte(column, value)) }
func (b Builder) WhereLt(column string, value any) Builder    { return b.Where(Lt(column, value)) }
func (b Builder) WhereLte(column string, value any) Builder   { return b.Where(Lte(column, value)) }
func (b Builder) WhereBetween(column string, lo, hi any) Builder {
	return b.Where(Between(column, lo, hi))
}
func (b Builder) WhereLike(column, pattern string) Builder { return b.Where(Like(column, pattern)) }
func (b Builder) WhereIn(column string, values ...any) Builder {
	return b.Where(In(column, values...))
}
func (b Builder) WhereNotIn(column string, values ...any) Builder {
	return b.Where(NotIn(column, values...))
}
func (b Builder) WhereRegex(column, pattern string) Builder { return b.Where(Regex(column, pattern)) }
func (b Builder) WhereFuzzy(column, value string, threshold float64) Builder {
	return b.Where(Fuzzy(column, value, threshold))
}
func (b Builder) WhereNull(column string) Builder    { return b.Where(IsNull(column)) }
func (b Builder) WhereNotNull(column string) Builder { return b.Where(NotNull(column)) }
func (b Builder) WhereContains(column string, value any) Builder {
	return b.Where(Contains(column, value))
}

// WhereOr adds one disjunction group. An empty group is ignored.
func (b Builder) WhereOr(preds ...Predicate) Builder {
	return b.Where(Or(preds...))
}

// GroupBy adds grouping columns.
func (b Builder) GroupBy(columns ...string) Builder {
	b.groupBy = appendCopy(b.groupBy, columns...)
	return b
}

// Having adds "agg(column) op ?" to the HAVING clause.
func (b Builder) Having(agg Aggregate, column string, op Op, value any) Builder {
	b.having = appendCopy(b.having, having{agg: agg, column: column, op: op, value: value})
	return b
}

// OrderBy sorts ascending by column.
func (b Builder) OrderBy(columns ...string) Builder {
	items := make([]order, 0, len(columns))
	for _, c := range columns {
		items = append(items, order{column: c})
	}
	b.orderBy = appendCopy(b.orderBy, items...)
	return b
}

// OrderByDesc sorts descending by column.
func (b Builder) OrderByDesc(column string) Builder {
	b.orderBy = appendCopy(b.orderBy, order{column: column, desc: true})
	return b
}

// Limit caps the number of rows.
func (b Builder) Limit(n int) Builder {
	b.limit, b.hasLimit = n, true
	return b
}

// Offset skips rows.
func (b Builder) Offset(n int) Builder {
	b.offset, b.hasOff = n, true
	return b
}

// PredicateRef names a column/operator pair used in the filter.
type PredicateRef struct {
	Column string
	Op     Op
}

// Predicates flattens the filter into column/operator pairs.
func (b Builder) Predicates() []PredicateRef {
	var out []PredicateRef
	var walk func(ps []Predicate)
	walk = func(ps []Predicate) {
		for _, p := range ps {
			if p.op == OpOr || p.op == OpAnd {
				walk(p.children)
				continue
			}
			out = append(out, PredicateRef{Column: p.column, Op: p.op})
		}
	}
	walk(b.where)
	return out
}

// Build renders the query. It has no side effects; repeated calls return
// the same text and parameters. Placeholders appear in the same order as
// the returned parameters.
func (b Builder) Build() (string, []any, error) {
	if b.schema == nil {
		return "", nil, errors.NewInvalidArgument("query builder has no schema")
	}
	if err := b.checkRelations(); err != nil {
		return "", nil, err
	}

	var parts []string
	var params []any

	sel, err := b.renderSelect()
	if err != nil {
		return "", nil, err
	}
	parts = append(parts, sel)
	parts = append(parts, "FROM "+renderRef(b.from))

	for _, j := range b.joins {
		left, err := b.resolve(j.left, "join")
		if err != nil {
			return "", nil, err
		}
		right, err := b.resolve(j.right, "join")
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, fmt.Sprintf("%s %s ON %s = %s", j.kind, renderRef(j.ref), left, right))
	}

	if len(b.where) > 0 {
		var conds []string
		for _, p := range b.where {
			frag, ps, err := p.render(b.resolve)
			if err != nil {
				return "", nil, err
			}
			if frag == "" {
				continue
			}
			conds = append(conds, frag)
			params = append(params, ps...)
		}
		if len(conds) > 0 {
			parts = append(parts, "WHERE "+strings.Join(conds, " AND "))
		}
	}

	if len(b.groupBy) > 0 {
		cols := make([]string, 0, len(b.groupBy))
		for _, g := range b.groupBy {
			c, err := b.resolve(g, "group by")
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, c)
		}
		parts = append(parts, "GROUP BY "+strings.Join(cols, ", "))
	}

	if len(b.having) > 0 {
		conds := make([]string, 0, len(b.having))
		for _, h := range b.having {
			expr, err := b.renderAgg(h.agg, h.column, "having")
			if err != nil {
				return "", nil, err
			}
			switch h.op {
			case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte:
			default:
				return "", nil, errors.NewInvalidArgument(fmt.Sprintf("operator %q is not allowed in having", h.op))
			}
			conds = append(conds, fmt.Sprintf("%s %s ?", expr, h.op))
			params = append(params, h.value)
		}
		parts = append(parts, "HAVING "+strings.Join(conds, " AND "))
	}

	if len(b.orderBy) > 0 {
		cols := make([]string, 0, len(b.orderBy))
		for _, o := range b.orderBy {
			c, err := b.resolveOrder(o.column)
			if err != nil {
				return "", nil, err
			}
			if o.desc {
				c += " DESC"
			}
			cols = append(cols, c)
		}
		parts = append(parts, "ORDER BY "+strings.Join(cols, ", "))
	}

	if b.hasLimit {
		if b.limit < 0 {
			return "", nil, errors.NewInvalidArgument(fmt.Sprintf("limit must be >= 0, got %d", b.limit))
		}
		parts = append(parts, fmt.Sprintf("LIMIT %d", b.limit))
	}
	if b.hasOff {
		if b.offset < 0 {
			return "", nil, errors.NewInvalidArgument(fmt.Sprintf("offset must be >= 0, got %d", b.offset))
		}
		parts = append(parts, fmt.Sprintf("OFFSET %d", b.offset))
	}

	return strings.Join(parts, "\n"), params, nil
}

func (b Builder) renderSelect() (string, error) {
	head := "SELECT "
	if b.distinct {
		head = "SELECT DISTINCT "
	}
	if len(b.selects) == 0 {
		return head + "*", nil
	}

	cols := make([]string, 0, len(b.selects))
	for _, s := range b.selects {
		var expr string
		var err error
		if s.agg != "" {
			expr, err = b.renderAgg(s.agg, s.column, "select")
		} else {
			expr, err = b.resolve(s.column, "select")
		}
		if err != nil {
			return "", err
		}
		if s.alias != "" {
			if !schema.ValidateIdentifier(s.alias) {
				return "", errors.NewIdentifierError(s.alias, "select alias")
			}
			expr += " AS " + schema.QuoteIdentifier(s.alias)
		}
		cols = append(cols, expr)
	}
	return head + strings.Join(cols, ", "), nil
}

func (b Builder) renderAgg(agg Aggregate, column, clause string) (string, error) {
	if !agg.valid() {
		return "", errors.NewIdentifierError(string(agg), clause+" aggregate")
	}
	if column == "*" {
		if agg != Count {
			return "", errors.NewIdentifierError("*", clause)
		}
		return "COUNT(*)", nil
	}
	col, err := b.resolve(column, clause)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", agg, col), nil
}

// checkRelations validates every relation and alias the query names.
func (b Builder) checkRelations() error {
	refs := append([]tableRef{b.from}, b.refsFromJoins()...)
	seen := make(map[string]bool)
	for _, r := range refs {
		if !schema.ValidateIdentifier(r.table) || !b.schema.HasRelation(r.table) {
			return errors.NewIdentifierError(r.table, "from")
		}
		name := r.table
		if r.alias != "" {
			if !schema.ValidateIdentifier(r.alias) {
				return errors.NewIdentifierError(r.alias, "table alias")
			}
			name = r.alias
		}
		if seen[name] {
			return errors.NewInvalidArgument(fmt.Sprintf("relation name %q used twice", name))
		}
		seen[name] = true
	}
	return nil
}

func (b Builder) refsFromJoins() []tableRef {
	out := make([]tableRef, len(b.joins))
	for i, j := range b.joins {
		out[i] = j.ref
	}
	return out
}

// resolve validates a column reference, either "column" or
// "qualifier.column", and returns it quoted.
func (b Builder) resolve(ref, clause string) (string, error) {
	if ref == "*" && clause == "select" {
		return "*", nil
	}

	qual, col := "", ref
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		qual, col = ref[:i], ref[i+1:]
		if !schema.ValidateIdentifier(qual) {
			return "", errors.NewIdentifierError(ref, clause)
		}
	}
	if !schema.ValidateIdentifier(col) {
		return "", errors.NewIdentifierError(ref, clause)
	}

	refs := append([]tableRef{b.from}, b.refsFromJoins()...)
	if qual != "" {
		for _, r := range refs {
			if (r.alias == qual || (r.alias == "" && r.table == qual)) && b.schema.HasColumn(r.table, col) {
				return schema.QuoteIdentifier(qual) + "." + schema.QuoteIdentifier(col), nil
			}
		}
		return "", errors.NewIdentifierError(ref, clause)
	}

	var owners []string
	for _, r := range refs {
		if b.schema.HasColumn(r.table, col) {
			owners = append(owners, renderName(r))
		}
	}
	switch len(owners) {
	case 0:
		return "", errors.NewIdentifierError(ref, clause)
	case 1:
		return schema.QuoteIdentifier(col), nil
	}
	return "", errors.NewInvalidArgument(
		fmt.Sprintf("column %q in %s is ambiguous between %s", col, clause, strings.Join(owners, ", "))).
		WithDetails(map[string]interface{}{"identifier": ref, "clause": clause, "relations": owners})
}

// renderName is the name a column of r is qualified with.
func renderName(r tableRef) string {
	if r.alias != "" {
		return r.alias
	}
	return r.table
}

// resolveOrder also accepts output aliases from the select list.
func (b Builder) resolveOrder(ref string) (string, error) {
	for _, s := range b.selects {
		if s.alias != "" && s.alias == ref {
			return schema.QuoteIdentifier(ref), nil
		}
	}
	return b.resolve(ref, "order by")
}

func renderRef(r tableRef) string {
	if r.alias == "" {
		return schema.QuoteIdentifier(r.table)
	}
	return schema.QuoteIdentifier(r.table) + " AS " + schema.QuoteIdentifier(r.alias)
}

// appendCopy appends without sharing the backing array of s, so builders
// derived from the same parent never see each other's clauses.
func appendCopy[T any](s []T, items ...T) []T {
	out := make([]T, 0, len(s)+len(items))
	out = append(out, s...)
	return append(out, items...)
}
