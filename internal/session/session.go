// Package session owns one analytical session over a dataset: the DuckDB
// engine, the view registry and the artifact source views are built from.
// Accessors reach the data only through EnsureView, Execute, Query/Run and
// ColumnShape.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mtgsql/mtgsql/internal/artifact"
	"github.com/mtgsql/mtgsql/internal/config"
	"github.com/mtgsql/mtgsql/internal/engine"
	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/events"
	"github.com/mtgsql/mtgsql/internal/manifest"
	"github.com/mtgsql/mtgsql/internal/observability"
	"github.com/mtgsql/mtgsql/internal/query"
	"github.com/mtgsql/mtgsql/internal/registry"
	"github.com/mtgsql/mtgsql/internal/schema"
	"github.com/mtgsql/mtgsql/internal/storage"
	"github.com/mtgsql/mtgsql/pkg/types"
)

const (
	// statsWindow bounds how long predicate usage is remembered
	statsWindow = 24 * time.Hour

	// eventBuffer is the channel size of each event subscriber
	eventBuffer = 64
)

// Session is safe for concurrent use.
type Session struct {
	cfg *config.Config

	// Shared resources
	src    artifact.Source
	eng    *engine.Engine
	reg    *registry.Registry
	shapes *schema.ShapeCache
	ledger *manifest.Ledger // nil when the manifest is disabled

	stats    *observability.QueryStats
	metrics  *observability.Metrics
	notifier *events.Notifier

	// files maps view names to artifact paths
	files map[string]string

	mu              sync.RWMutex
	classifications map[string]schema.Classification

	lifecycle *lifecycle
}

// Open resolves and validates cfg, then opens the engine, the ledger and
// the view registry. A nil src is built from cfg.Artifacts.
func Open(ctx context.Context, cfg *config.Config, src artifact.Source) (*Session, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError(err.Error())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.NewConfigError(err.Error())
	}

	var err error
	if src == nil {
		if src, err = NewSource(ctx, cfg); err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:             cfg,
		src:             src,
		stats:           observability.NewQueryStats(statsWindow),
		metrics:         observability.NewMetrics(),
		notifier:        events.NewNotifier(eventBuffer),
		files:           viewFiles(cfg),
		classifications: make(map[string]schema.Classification),
		lifecycle:       newLifecycle(defaultDrainTimeout),
	}

	if s.shapes, err = schema.NewShapeCache(cfg.Schema.ShapeCacheSize); err != nil {
		return nil, errors.NewInternalError("failed to create shape cache", err)
	}
	if err := s.metrics.WatchQueryStats(s.stats); err != nil {
		return nil, errors.NewInternalError("failed to export query stats", err)
	}

	s.eng, err = engine.Open(engine.Options{
		Path:         cfg.Engine.Path,
		Threads:      cfg.Engine.Threads,
		MemoryLimit:  cfg.Engine.MemoryLimit,
		MaxOpenConns: cfg.Engine.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	s.lifecycle.register(s.eng)

	if cfg.Manifest.Enabled {
		if s.ledger, err = manifest.Open(cfg.Manifest.Path); err != nil {
			s.lifecycle.close()
			return nil, errors.NewInternalError("failed to open manifest", err)
		}
		s.lifecycle.register(s.ledger)
		log.Printf("session: manifest %s (session %s)", cfg.Manifest.Path, s.ledger.SessionID())
	}

	s.lifecycle.register(s.notifier)

	s.reg = registry.New(s.fingerprint, s)
	for _, name := range sortedKeys(s.files) {
		if err := s.reg.Register(name, s.builder(name)); err != nil {
			s.lifecycle.close()
			return nil, err
		}
	}

	log.Printf("session: opened with %d views (artifacts=%s)", len(s.files), cfg.Artifacts.Type)
	return s, nil
}

// NewSource builds the artifact source described by cfg.
func NewSource(ctx context.Context, cfg *config.Config) (artifact.Source, error) {
	switch cfg.Artifacts.Type {
	case "", "local":
		return artifact.NewLocalDir(cfg.Artifacts.Dir)
	case "s3":
		store, err := storage.NewS3Storage(ctx, cfg.Artifacts.S3.Bucket, storage.S3Config{
			Region:       cfg.Artifacts.S3.Region,
			Endpoint:     cfg.Artifacts.S3.Endpoint,
			UsePathStyle: cfg.Artifacts.S3.UsePathStyle,
			Prefix:       cfg.Artifacts.S3.Prefix,
		})
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to initialize s3 storage: %v", err))
		}
		log.Printf("session: mirroring s3://%s/%s into %s", cfg.Artifacts.S3.Bucket, cfg.Artifacts.S3.Prefix, cfg.Artifacts.Dir)
		return artifact.NewMirror(store, cfg.Artifacts.Dir, artifact.MirrorOptions{
			CacheMaxBytes: cfg.Artifacts.CacheMaxBytes,
		})
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported artifacts type: %s", cfg.Artifacts.Type))
	}
}

// viewFiles overlays the configured artifact paths on the default catalog.
// An empty override removes the view.
func viewFiles(cfg *config.Config) map[string]string {
	files := make(map[string]string, len(artifact.DefaultFiles))
	for name, file := range artifact.DefaultFiles {
		files[name] = file
	}
	for name, file := range cfg.Artifacts.Files {
		if file == "" {
			delete(files, name)
			continue
		}
		files[name] = file
	}
	return files
}

// Close waits briefly for in-flight work, then closes the engine and the
// ledger. Calls after the first are no-ops.
func (s *Session) Close() error {
	return s.lifecycle.shutdown(context.Background())
}

// Config returns the resolved configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Engine exposes the underlying engine.
func (s *Session) Engine() *engine.Engine { return s.eng }

// Stats returns the session's query statistics.
func (s *Session) Stats() *observability.QueryStats { return s.stats }

// Metrics returns the session's Prometheus collectors.
func (s *Session) Metrics() *observability.Metrics { return s.metrics }

// Ledger returns the build ledger, or nil when disabled.
func (s *Session) Ledger() *manifest.Ledger { return s.ledger }

// Version returns the acknowledged dataset version.
func (s *Session) Version(ctx context.Context) (string, error) {
	return s.src.Version(ctx)
}

// EnsureView materializes view if it is not registered yet. Concurrent
// callers for one view share a single build. Views that are already
// registered return immediately.
func (s *Session) EnsureView(ctx context.Context, view string) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()
	return s.reg.Ensure(ctx, view)
}

// EnsureViews materializes every named view, building them concurrently.
func (s *Session) EnsureViews(ctx context.Context, views ...string) error {
	if err := s.lifecycle.enter(); err != nil {
		return err
	}
	defer s.lifecycle.leave()
	return s.reg.EnsureAll(ctx, views...)
}

// Execute runs parameterized SQL. It does not ensure any view; callers
// name the views they need with EnsureView first.
func (s *Session) Execute(ctx context.Context, text string, params ...any) (*engine.RowSet, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()
	return s.eng.Query(ctx, text, params...)
}

// Query ensures view and returns a builder over it. Every relation the
// engine currently exposes is on the builder's allow-list, so joins to
// other registered views or price tables resolve.
func (s *Session) Query(ctx context.Context, view string) (query.Builder, error) {
	if err := s.lifecycle.enter(); err != nil {
		return query.Builder{}, err
	}
	defer s.lifecycle.leave()

	if err := s.reg.Ensure(ctx, view); err != nil {
		return query.Builder{}, err
	}
	sch, err := s.schema(ctx)
	if err != nil {
		return query.Builder{}, err
	}
	return query.New(sch, view), nil
}

// Schema returns the allow-list of relations and columns visible to
// accessors. Staging and raw relations are hidden.
func (s *Session) Schema(ctx context.Context) (*query.Schema, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()
	return s.schema(ctx)
}

func (s *Session) schema(ctx context.Context) (*query.Schema, error) {
	rels, err := s.eng.Relations(ctx)
	if err != nil {
		return nil, err
	}
	for name := range rels {
		if isInternalRelation(name) {
			delete(rels, name)
		}
	}
	return query.NewSchema(rels), nil
}

// Run renders b, executes it and records which predicates were used.
func (s *Session) Run(ctx context.Context, b query.Builder) (*engine.RowSet, error) {
	text, params, err := b.Build()
	if err != nil {
		s.metrics.ObserveQuery(b.Table(), err)
		return nil, err
	}

	view := b.Table()
	s.stats.RecordView(view)
	for _, p := range b.Predicates() {
		s.stats.RecordPredicate(qualify(view, p.Column), string(p.Op))
	}

	rs, err := s.Execute(ctx, text, params...)
	s.metrics.ObserveQuery(view, err)
	return rs, err
}

// ColumnShape returns the classifier verdict for column in the current
// dataset version. A column classified as an array by any built view is
// ARRAY. Columns no built view has seen report SCALAR and false, as does
// every column once the session is closed.
func (s *Session) ColumnShape(column string) (types.ColumnShape, bool) {
	if err := s.lifecycle.enter(); err != nil {
		return types.ShapeScalar, false
	}
	defer s.lifecycle.leave()

	version, err := s.src.Version(context.Background())
	if err != nil {
		s.metrics.ShapeLookups.WithLabelValues("unknown").Inc()
		return types.ShapeScalar, false
	}
	shape, ok := s.shapes.Lookup(version, column)
	switch {
	case !ok:
		s.metrics.ShapeLookups.WithLabelValues("unknown").Inc()
		return types.ShapeScalar, false
	case shape == types.ShapeArray:
		s.metrics.ShapeLookups.WithLabelValues("array").Inc()
	default:
		s.metrics.ShapeLookups.WithLabelValues("scalar").Inc()
	}
	return shape, true
}

// Classification returns the verdicts recorded by the last build of view.
func (s *Session) Classification(view string) (schema.Classification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.classifications[view]
	return cl, ok
}

// Refresh checks the source for a newer dataset. When one exists it is
// acknowledged and every registered view is marked stale, to be rebuilt on
// next use. It reports whether a refresh happened.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	if err := s.lifecycle.enter(); err != nil {
		return false, err
	}
	defer s.lifecycle.leave()

	available, err := s.src.RefreshAvailable(ctx)
	if err != nil {
		return false, err
	}
	if !available {
		return false, nil
	}

	// Acknowledge first: a build that starts in between then reads the
	// new version, and one already running sees its fingerprint change.
	if err := s.src.Acknowledge(ctx); err != nil {
		return false, err
	}
	n := s.reg.InvalidateAll()

	version, _ := s.src.Version(ctx)
	log.Printf("session: refreshed to %s, %d views stale", version, n)
	s.notifier.Publish(events.Event{Type: events.DatasetRefreshed, Version: version})
	return true, nil
}

// Subscribe returns a subscriber for lifecycle events of views whose name
// starts with one of prefixes, plus every dataset refresh.
func (s *Session) Subscribe(prefixes ...string) *events.Subscriber {
	return s.notifier.Subscribe(prefixes...)
}

// Unsubscribe stops delivery to the subscriber with id and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.notifier.Unsubscribe(id)
}

// Views lists every known view with its state and last build.
func (s *Session) Views() []ViewInfo {
	names := s.reg.Names()
	out := make([]ViewInfo, 0, len(names))
	for _, name := range names {
		info := ViewInfo{
			Name:   name,
			File:   s.files[name],
			Kind:   viewKind(name, s.files[name]),
			Builds: s.reg.BuildCount(name),
		}
		info.State, _ = s.reg.Status(name)
		if v, ok := s.reg.View(name); ok {
			info.Last = &v
		}
		out = append(out, info)
	}
	return out
}

// Status returns the lifecycle state of view.
func (s *Session) Status(view string) (types.ViewState, error) {
	return s.reg.Status(view)
}

// History returns the ledger's newest builds of view, newest first.
func (s *Session) History(ctx context.Context, view string, limit int) ([]manifest.BuildRecord, error) {
	if err := s.lifecycle.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.leave()

	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.History(ctx, view, limit)
}

// FuzzyThreshold is the configured default for fuzzy name predicates.
func (s *Session) FuzzyThreshold() float64 {
	return s.cfg.Query.FuzzyThreshold
}

// fingerprint identifies the source artifact a view is currently built from.
func (s *Session) fingerprint(view string) (string, error) {
	file, ok := s.files[view]
	if !ok {
		return "", errors.NewUnknownView(view)
	}
	return s.src.Fingerprint(context.Background(), file)
}

// ViewBuilt implements registry.Observer.
func (s *Session) ViewBuilt(v types.RegisteredView) {
	s.metrics.ObserveBuild(v.Name, v.Duration, nil)
	s.record(manifest.BuildRecord{
		View:        v.Name,
		Fingerprint: v.Fingerprint,
		Result:      manifest.ResultOK,
		Rows:        v.Rows,
		Duration:    v.Duration,
		BuiltAt:     v.BuiltAt,
	})
	version, _ := s.src.Version(context.Background())
	s.notifier.Publish(events.Event{
		Type:        events.ViewBuilt,
		View:        v.Name,
		Version:     version,
		Fingerprint: v.Fingerprint,
		Rows:        v.Rows,
		Timestamp:   v.BuiltAt,
	})
}

// ViewFailed implements registry.Observer.
func (s *Session) ViewFailed(view string, err error, d time.Duration) {
	s.metrics.ObserveBuild(view, d, err)
	fp, _ := s.fingerprint(view)
	s.record(manifest.BuildRecord{
		View:        view,
		Fingerprint: fp,
		Result:      manifest.ResultFailed,
		Duration:    d,
		Error:       err.Error(),
		BuiltAt:     time.Now(),
	})
	s.notifier.Publish(events.Event{
		Type:        events.ViewFailed,
		View:        view,
		Fingerprint: fp,
		Err:         err.Error(),
	})
}

func (s *Session) record(rec manifest.BuildRecord) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.RecordBuild(context.Background(), rec); err != nil {
		log.Printf("session: failed to record build of %s: %v", rec.View, err)
	}
}

// ViewInfo describes one view of the session catalog.
type ViewInfo struct {
	Name   string                `json:"name"`
	File   string                `json:"file"`
	Kind   string                `json:"kind"`
	State  types.ViewState       `json:"-"`
	Builds int64                 `json:"builds"`
	Last   *types.RegisteredView `json:"last,omitempty"`
}

func isInternalRelation(name string) bool {
	return strings.Contains(name, "__")
}

func qualify(view, column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return view + "." + column
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
