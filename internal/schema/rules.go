package schema

import "sort"

// Rules holds the fixed tiers of the classifier for one relation.
type Rules struct {
	// Baseline columns are arrays whatever their name looks like
	Baseline map[string]struct{}

	// Blocklist columns are always scalar; beats Baseline
	Blocklist map[string]struct{}

	// JSON columns hold struct-like text and are cast to JSON in base views
	JSON map[string]struct{}
}

// Columns known to be list-valued despite not looking plural (colorIdentity,
// availability, producedMana) plus the plural ones we never want to leave
// to the heuristic.
var baselineColumns = map[string][]string{
	"cards": {
		"artistIds", "attractionLights", "availability", "boosterTypes",
		"cardParts", "colorIdentity", "colorIndicator", "colors", "finishes",
		"frameEffects", "keywords", "originalPrintings", "otherFaceIds",
		"printings", "producedMana", "promoTypes", "rebalancedPrintings",
		"subsets", "subtypes", "supertypes", "types", "variations",
	},
	"tokens": {
		"artistIds", "availability", "boosterTypes", "colorIdentity",
		"colorIndicator", "colors", "finishes", "frameEffects", "keywords",
		"otherFaceIds", "producedMana", "promoTypes", "reverseRelated",
		"subtypes", "supertypes", "types",
	},
}

// Free text that may contain ", ", JSON structs, and scalar fields that
// happen to end in s.
var blocklistColumns = []string{
	"text", "originalText", "flavorText", "printedText",
	"identifiers", "legalities", "leadershipSkills", "purchaseUrls",
	"relatedCards", "rulings", "sourceProducts", "foreignData",
	"translations", "toughness", "status", "format", "uris", "scryfallUri",
}

var jsonColumns = []string{
	"identifiers", "legalities", "leadershipSkills", "purchaseUrls",
	"relatedCards", "rulings", "sourceProducts", "foreignData", "translations",
}

// DefaultRules returns the built-in rules for relation.
func DefaultRules(relation string) Rules {
	return NewRules(baselineColumns[relation], blocklistColumns, jsonColumns)
}

// NewRules builds a rule set from plain lists.
func NewRules(baseline, blocklist, json []string) Rules {
	return Rules{
		Baseline:  toSet(baseline),
		Blocklist: toSet(blocklist),
		JSON:      toSet(json),
	}
}

// With returns a copy of r with extra baseline and blocklist columns.
func (r Rules) With(arrays, scalars []string) Rules {
	out := Rules{
		Baseline:  copySet(r.Baseline),
		Blocklist: copySet(r.Blocklist),
		JSON:      copySet(r.JSON),
	}
	for _, c := range arrays {
		out.Baseline[c] = struct{}{}
	}
	for _, c := range scalars {
		out.Blocklist[c] = struct{}{}
	}
	return out
}

// IsBaseline reports whether column is in the baseline tier.
func (r Rules) IsBaseline(column string) bool {
	_, ok := r.Baseline[column]
	return ok
}

// IsBlocked reports whether column is in the blocklist tier.
func (r Rules) IsBlocked(column string) bool {
	_, ok := r.Blocklist[column]
	return ok
}

// IsJSON reports whether column should be cast to JSON.
func (r Rules) IsJSON(column string) bool {
	_, ok := r.JSON[column]
	return ok
}

// BaselineRelations lists the relations that carry a built-in baseline.
func BaselineRelations() []string {
	out := make([]string, 0, len(baselineColumns))
	for rel := range baselineColumns {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
