package query

import "sort"

// Schema is the identifier allow-list: every relation a query may name and
// the columns it exposes. It is immutable and safe for concurrent use.
type Schema struct {
	relations map[string]map[string]struct{}
}

// NewSchema builds a Schema from relation -> column names.
func NewSchema(relations map[string][]string) *Schema {
	s := &Schema{relations: make(map[string]map[string]struct{}, len(relations))}
	for rel, cols := range relations {
		set := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			set[c] = struct{}{}
		}
		s.relations[rel] = set
	}
	return s
}

// With returns a copy of s with relation added or replaced.
func (s *Schema) With(relation string, columns []string) *Schema {
	out := &Schema{relations: make(map[string]map[string]struct{}, len(s.relations)+1)}
	for rel, cols := range s.relations {
		out.relations[rel] = cols
	}
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	out.relations[relation] = set
	return out
}

// HasRelation reports whether relation is allowed.
func (s *Schema) HasRelation(relation string) bool {
	if s == nil {
		return false
	}
	_, ok := s.relations[relation]
	return ok
}

// HasColumn reports whether column is allowed on relation.
func (s *Schema) HasColumn(relation, column string) bool {
	if s == nil {
		return false
	}
	cols, ok := s.relations[relation]
	if !ok {
		return false
	}
	_, ok = cols[column]
	return ok
}

// Columns returns the sorted columns of relation.
func (s *Schema) Columns(relation string) []string {
	if s == nil {
		return nil
	}
	cols := s.relations[relation]
	out := make([]string, 0, len(cols))
	for c := range cols {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Relations returns the sorted relation names.
func (s *Schema) Relations() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.relations))
	for r := range s.relations {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
