// Package schema decides how raw artifact columns are exposed: which text
// or list columns are arrays, which hold JSON, and which columns of a wide
// legality artifact are per-format statuses.
package schema

import (
	"fmt"
	"strings"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/pkg/types"
)

// Tier records which rule produced a verdict.
type Tier int

const (
	TierDefault Tier = iota
	TierBlocklist
	TierBaseline
	TierHeuristic
)

func (t Tier) String() string {
	switch t {
	case TierBlocklist:
		return "blocklist"
	case TierBaseline:
		return "baseline"
	case TierHeuristic:
		return "heuristic"
	default:
		return "default"
	}
}

// Verdict is the classification of a single column.
type Verdict struct {
	Column string
	Shape  types.ColumnShape
	Tier   Tier

	// Split is set for ARRAY verdicts over delimited text that must be
	// split into a list when the view is built.
	Split bool

	// JSON is set for scalar text columns that hold JSON documents.
	JSON bool
}

// Classification is the result of classifying one relation.
type Classification struct {
	Relation string
	Verdicts []Verdict

	// Warnings holds SCHEMA_AMBIGUITY errors for downgraded columns.
	Warnings []error
}

// Shape returns the verdict for column and whether it was classified.
func (c Classification) Shape(column string) (types.ColumnShape, bool) {
	for _, v := range c.Verdicts {
		if v.Column == column {
			return v.Shape, true
		}
	}
	return types.ShapeScalar, false
}

// Arrays returns the ARRAY verdicts in column order.
func (c Classification) Arrays() []Verdict {
	var out []Verdict
	for _, v := range c.Verdicts {
		if v.Shape == types.ShapeArray {
			out = append(out, v)
		}
	}
	return out
}

// Classify assigns exactly one verdict to every column. It is pure and
// touches no engine state.
//
// Tier order: blocklist, then baseline, then the plural-noun heuristic.
// ARRAY verdicts need a storage type that can hold a list; otherwise the
// column is downgraded to SCALAR and a warning is recorded.
func Classify(relation string, columns []types.ColumnDescriptor, rules Rules) Classification {
	out := Classification{
		Relation: relation,
		Verdicts: make([]Verdict, 0, len(columns)),
	}

	for _, col := range columns {
		v := Verdict{Column: col.Name, Shape: types.ShapeScalar, Tier: TierDefault}

		switch {
		case rules.IsBlocked(col.Name):
			v.Tier = TierBlocklist
		case rules.IsBaseline(col.Name):
			v.Tier = TierBaseline
		case IsPluralNoun(col.Name):
			v.Tier = TierHeuristic
		}

		if v.Tier == TierBaseline || v.Tier == TierHeuristic {
			listType, split := ListCompatible(col)
			if listType {
				v.Shape = types.ShapeArray
				v.Split = split
			} else {
				out.Warnings = append(out.Warnings, errors.NewSchemaAmbiguity(relation, col.Name,
					fmt.Sprintf("%s: %s column %q has storage type %s, treating as scalar",
						relation, v.Tier, col.Name, col.StorageType)))
			}
		}

		if v.Shape == types.ShapeScalar && rules.IsJSON(col.Name) && isText(col.StorageType) {
			v.JSON = true
		}

		out.Verdicts = append(out.Verdicts, v)
	}

	return out
}

// ListCompatible reports whether a column can be exposed as an array, and
// whether doing so requires splitting delimited text.
func ListCompatible(col types.ColumnDescriptor) (ok bool, split bool) {
	t := strings.ToUpper(strings.TrimSpace(col.StorageType))
	switch {
	case strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "LIST"):
		return true, false
	case strings.HasPrefix(t, "STRUCT") || strings.HasPrefix(t, "MAP"):
		// containers, but not sequences
		return false, false
	case col.Nested:
		return true, false
	}
	if isText(col.StorageType) {
		return true, true
	}
	return false, false
}

func isText(storageType string) bool {
	switch strings.ToUpper(strings.TrimSpace(storageType)) {
	case "VARCHAR", "TEXT", "STRING":
		return true
	}
	return false
}
