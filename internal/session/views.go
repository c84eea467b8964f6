package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mtgsql/mtgsql/internal/artifact"
	"github.com/mtgsql/mtgsql/internal/engine"
	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/query"
	"github.com/mtgsql/mtgsql/internal/registry"
	"github.com/mtgsql/mtgsql/internal/schema"
	"github.com/mtgsql/mtgsql/internal/transform"
	"github.com/mtgsql/mtgsql/pkg/types"
)

const (
	KindBase     = "base"
	KindLegality = "legality"
	KindPrices   = "prices"
)

// LegalityView is the derived (uuid, format, status) relation.
const LegalityView = "card_legalities"

// entityKey identifies a card in every relation.
const entityKey = "uuid"

// probeConcurrency bounds the parallel domain probes of a legality build.
const probeConcurrency = 4

func viewKind(name, file string) string {
	switch {
	case name == LegalityView:
		return KindLegality
	case strings.HasSuffix(strings.ToLower(file), ".json"):
		return KindPrices
	default:
		return KindBase
	}
}

// builder returns the registry build function for view.
func (s *Session) builder(view string) registry.BuildFunc {
	file := s.files[view]
	switch viewKind(view, file) {
	case KindLegality:
		return func(ctx context.Context) (registry.BuildResult, error) {
			return s.buildLegalities(ctx, view, file)
		}
	case KindPrices:
		return func(ctx context.Context) (registry.BuildResult, error) {
			return s.buildPrices(ctx, view, file)
		}
	default:
		return func(ctx context.Context) (registry.BuildResult, error) {
			return s.buildBase(ctx, view, file)
		}
	}
}

func (s *Session) rules(view string) schema.Rules {
	return schema.DefaultRules(view).With(s.cfg.Schema.ArrayColumns[view], s.cfg.Schema.ScalarColumns)
}

// attachRaw exposes the artifact of view as view__raw, a plain view over
// the file, and returns its columns and the dataset version it came from.
func (s *Session) attachRaw(ctx context.Context, view, file string) (string, string, []types.ColumnDescriptor, error) {
	version, err := s.src.Version(ctx)
	if err != nil {
		return "", "", nil, err
	}
	path, err := s.src.Path(ctx, file)
	if err != nil {
		return "", "", nil, err
	}

	raw := view + "__raw"
	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)",
		schema.QuoteIdentifier(raw), engine.QuoteLiteral(path))
	if err := s.eng.Exec(ctx, stmt); err != nil {
		return "", "", nil, err
	}

	cols, err := s.eng.Columns(ctx, raw)
	if err != nil {
		return "", "", nil, err
	}
	if len(cols) == 0 {
		return "", "", nil, errors.NewTransformError(view, fmt.Sprintf("artifact %s has no columns", file), nil)
	}
	s.recordDrift(ctx, view, version, cols)
	return path, version, cols, nil
}

// buildBase publishes view as a projection of its parquet artifact in which
// ARRAY columns stored as delimited text become lists and JSON columns are
// cast to JSON. The view reads the file directly, so replacing it is a
// single catalog change.
func (s *Session) buildBase(ctx context.Context, view, file string) (registry.BuildResult, error) {
	path, version, cols, err := s.attachRaw(ctx, view, file)
	if err != nil {
		return registry.BuildResult{}, err
	}

	cl := schema.Classify(view, cols, s.rules(view))
	s.warn(view, cl.Warnings)

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT *%s FROM read_parquet(%s)",
		schema.QuoteIdentifier(view), replaceClause(cl), engine.QuoteLiteral(path))
	if err := s.eng.ExecTx(ctx, stmt); err != nil {
		return registry.BuildResult{}, err
	}

	rows, err := s.eng.Count(ctx, view)
	if err != nil {
		return registry.BuildResult{}, err
	}
	s.remember(version, cl)
	return registry.BuildResult{Rows: rows}, nil
}

// replaceClause renders the REPLACE list for cl, or nothing when every
// column passes through unchanged.
func replaceClause(cl schema.Classification) string {
	var exprs []string
	for _, v := range cl.Verdicts {
		col := schema.QuoteCatalogIdentifier(v.Column)
		switch {
		case v.Shape == types.ShapeArray && v.Split:
			exprs = append(exprs, fmt.Sprintf(
				"CASE WHEN %[1]s IS NULL OR TRIM(%[1]s) = '' THEN []::VARCHAR[] ELSE string_split(%[1]s, ', ') END AS %[1]s", col))
		case v.JSON:
			exprs = append(exprs, fmt.Sprintf("TRY_CAST(%[1]s AS JSON) AS %[1]s", col))
		}
	}
	if len(exprs) == 0 {
		return ""
	}
	return " REPLACE (" + strings.Join(exprs, ", ") + ")"
}

// buildLegalities publishes the (uuid, format, status) relation. A wide
// artifact is unpivoted over the columns whose observed values are all
// legality statuses; a long one is only normalised. The result is staged,
// validated and then swapped in.
func (s *Session) buildLegalities(ctx context.Context, view, file string) (registry.BuildResult, error) {
	_, version, cols, err := s.attachRaw(ctx, view, file)
	if err != nil {
		return registry.BuildResult{}, err
	}
	raw := view + "__raw"

	var sel string
	if transform.IsLongForm(cols, entityKey) {
		sel = transform.LegalityLongSelect(raw, entityKey)
	} else {
		candidates := schema.LegalityCandidates(cols, entityKey, s.rules(view))
		domains, err := s.probeDomains(ctx, raw, candidates)
		if err != nil {
			return registry.BuildResult{}, err
		}
		formats := schema.DiscoverFormatColumns(candidates, domains)
		if sel, err = transform.LegalitySelect(raw, entityKey, formats); err != nil {
			return registry.BuildResult{}, errors.NewTransformError(view, "legality unpivot failed", err)
		}
		log.Printf("session: %s unpivots %d of %d candidate columns", view, len(formats), len(candidates))
	}

	staging := view + "__staging"
	if err := s.eng.Drop(ctx, staging); err != nil {
		return registry.BuildResult{}, err
	}
	if err := s.eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", schema.QuoteIdentifier(staging), sel)); err != nil {
		return registry.BuildResult{}, err
	}

	if err := s.checkStatuses(ctx, view, staging); err != nil {
		s.eng.Drop(context.WithoutCancel(ctx), staging)
		return registry.BuildResult{}, err
	}
	if err := s.eng.Publish(ctx, staging, view); err != nil {
		s.eng.Drop(context.WithoutCancel(ctx), staging)
		return registry.BuildResult{}, err
	}

	rows, err := s.eng.Count(ctx, view)
	if err != nil {
		return registry.BuildResult{}, err
	}
	if err := s.classifyRelation(ctx, view, version); err != nil {
		return registry.BuildResult{}, err
	}
	return registry.BuildResult{Rows: rows}, nil
}

// probeDomains collects up to MaxStatusDomain+1 distinct non-null values of
// each candidate column. More than MaxStatusDomain values rules a column out.
func (s *Session) probeDomains(ctx context.Context, raw string, candidates []string) (map[string][]string, error) {
	values := make([][]string, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, col := range candidates {
		g.Go(func() error {
			q := fmt.Sprintf("SELECT DISTINCT CAST(%[1]s AS VARCHAR) FROM %[2]s WHERE %[1]s IS NOT NULL LIMIT %[3]d",
				schema.QuoteCatalogIdentifier(col), schema.QuoteIdentifier(raw), schema.MaxStatusDomain+1)
			rs, err := s.eng.Query(ctx, q)
			if err != nil {
				return err
			}
			values[i] = stringColumn(rs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	domains := make(map[string][]string, len(candidates))
	for i, col := range candidates {
		domains[col] = values[i]
	}
	return domains, nil
}

// checkStatuses fails the build if the staged relation holds a status
// outside the known set.
func (s *Session) checkStatuses(ctx context.Context, view, staging string) error {
	sch := query.NewSchema(map[string][]string{staging: transform.LegalityColumns})
	text, params, err := query.New(sch, staging).Select("status").Distinct().OrderBy("status").Build()
	if err != nil {
		return err
	}
	rs, err := s.eng.Query(ctx, text, params...)
	if err != nil {
		return err
	}
	return transform.ValidateStatuses(view, stringColumn(rs))
}

// buildPrices streams the price artifact of view into a table.
func (s *Session) buildPrices(ctx context.Context, view, file string) (registry.BuildResult, error) {
	version, err := s.src.Version(ctx)
	if err != nil {
		return registry.BuildResult{}, err
	}
	path, err := s.src.Path(ctx, file)
	if err != nil {
		return registry.BuildResult{}, err
	}

	rc, err := artifact.Open(path)
	if err != nil {
		return registry.BuildResult{}, err
	}
	defer rc.Close()

	res, err := transform.LoadPrices(ctx, s.eng, rc, view, s.priceOptions(view))
	if err != nil {
		return registry.BuildResult{}, err
	}

	s.metrics.PriceRecords.WithLabelValues(view, "loaded").Add(float64(res.Rows))
	s.metrics.PriceRecords.WithLabelValues(view, "null").Add(float64(res.Stats.NullPrices))
	s.metrics.PriceRecords.WithLabelValues(view, "non_positive").Add(float64(res.Stats.NonPositive))
	s.metrics.PriceRecords.WithLabelValues(view, "duplicate").Add(float64(res.Stats.Duplicates + (res.Stats.Records - res.Rows)))

	if err := s.classifyRelation(ctx, view, version); err != nil {
		return registry.BuildResult{}, err
	}
	return registry.BuildResult{Rows: res.Rows}, nil
}

func (s *Session) priceOptions(view string) transform.PriceOptions {
	opts := transform.DefaultPriceOptions(view)
	p := s.cfg.Prices
	if len(p.Sources) > 0 {
		opts.Sources = p.Sources
	}
	if len(p.PriceTypes) > 0 {
		opts.PriceTypes = p.PriceTypes
	}
	if p.ExpectedEntities > 0 {
		opts.ExpectedEntities = p.ExpectedEntities
	}
	if p.BufferSize > 0 {
		opts.BufferSize = p.BufferSize
	}
	return opts
}

// classifyRelation records verdicts for a derived relation so its columns
// are known to ColumnShape.
func (s *Session) classifyRelation(ctx context.Context, view, version string) error {
	cols, err := s.eng.Columns(ctx, view)
	if err != nil {
		return err
	}
	cl := schema.Classify(view, cols, s.rules(view))
	s.warn(view, cl.Warnings)
	s.remember(version, cl)
	return nil
}

func (s *Session) remember(version string, cl schema.Classification) {
	s.shapes.Store(version, cl)
	s.mu.Lock()
	s.classifications[cl.Relation] = cl
	s.mu.Unlock()
}

func (s *Session) warn(view string, warnings []error) {
	for _, w := range warnings {
		log.Printf("session: %v", w)
		s.metrics.ClassifierWarnings.WithLabelValues(view).Inc()
	}
}

// recordDrift snapshots the artifact's columns and logs any change since
// the previous dataset version.
func (s *Session) recordDrift(ctx context.Context, view, version string, cols []types.ColumnDescriptor) {
	if s.ledger == nil {
		return
	}
	drift, err := s.ledger.RecordColumns(ctx, view, version, cols)
	if err != nil {
		log.Printf("session: failed to snapshot columns of %s: %v", view, err)
		return
	}
	if !drift.Empty() {
		log.Printf("session: schema drift in %s", drift)
	}
}

func stringColumn(rs *engine.RowSet) []string {
	out := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		if v, ok := row[0].(string); ok {
			out = append(out, v)
		}
	}
	return out
}
