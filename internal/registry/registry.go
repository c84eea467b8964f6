// Package registry tracks which derived views a session has materialized
// and builds each one at most once per artifact generation.
//
// Per view the lifecycle is Unregistered -> Building -> Registered, with
// Registered -> Stale on invalidation; a Stale view is rebuilt on the next
// Ensure. Concurrent Ensure calls for one view share a single build and
// its result. Builds of different views run independently. Invalidation
// waits for builds in flight and blocks new ones until it completes.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/pkg/types"
)

// BuildFunc materializes a view. It must publish atomically: on error
// nothing new may be visible. It must not call Ensure on the same registry.
type BuildFunc func(ctx context.Context) (BuildResult, error)

// BuildResult describes a finished build.
type BuildResult struct {
	Rows int64
}

// FingerprintFunc returns the current source fingerprint of a view.
type FingerprintFunc func(view string) (string, error)

// Observer is notified of build outcomes.
type Observer interface {
	ViewBuilt(view types.RegisteredView)
	ViewFailed(view string, err error, duration time.Duration)
}

type entry struct {
	build    BuildFunc
	state    types.ViewState
	view     types.RegisteredView
	builds   int64
	failures int64
}

// Registry is owned by one session.
type Registry struct {
	fingerprint FingerprintFunc
	observer    Observer

	// refresh is read-held by every running build and write-held by
	// invalidation.
	refresh sync.RWMutex
	flights singleflight.Group

	mu    sync.Mutex
	views map[string]*entry
}

// New creates a registry. observer may be nil.
func New(fingerprint FingerprintFunc, observer Observer) *Registry {
	return &Registry{
		fingerprint: fingerprint,
		observer:    observer,
		views:       make(map[string]*entry),
	}
}

// Register adds a view and its build function.
func (r *Registry) Register(name string, build BuildFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[name]; ok {
		return errors.NewInvalidArgument(fmt.Sprintf("view %q already registered", name))
	}
	r.views[name] = &entry{build: build, state: types.ViewUnregistered}
	return nil
}

// Ensure makes sure name is built. A Registered view returns at once.
// Otherwise the caller joins the build in flight or starts one. A build
// invalidated by a fingerprint change while running is retried once.
//
// Cancelling ctx releases the caller but not the shared build.
func (r *Registry) Ensure(ctx context.Context, name string) error {
	for attempt := 0; ; attempt++ {
		state, err := r.state(name)
		if err != nil {
			return err
		}
		if state == types.ViewRegistered {
			return nil
		}

		ch := r.flights.DoChan(name, func() (interface{}, error) {
			return r.run(context.WithoutCancel(ctx), name)
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return nil
			}
			if attempt == 0 && errors.HasCode(res.Err, errors.CodeStaleViewConflict) {
				log.Printf("registry: %s changed while building, retrying", name)
				continue
			}
			return res.Err
		}
	}
}

// EnsureAll ensures several views concurrently.
func (r *Registry) EnsureAll(ctx context.Context, names ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return r.Ensure(gctx, name)
		})
	}
	return g.Wait()
}

// run performs one build while holding the refresh read lock.
func (r *Registry) run(ctx context.Context, name string) (types.RegisteredView, error) {
	r.refresh.RLock()
	defer r.refresh.RUnlock()

	r.mu.Lock()
	e := r.views[name]
	if e.state == types.ViewRegistered {
		// finished by the flight we raced with
		v := e.view
		r.mu.Unlock()
		return v, nil
	}
	e.state = types.ViewBuilding
	e.builds++
	r.mu.Unlock()

	start := time.Now()
	before, err := r.fingerprint(name)
	if err != nil {
		return types.RegisteredView{}, r.fail(name, e, start, err)
	}

	res, err := e.build(ctx)
	if err != nil {
		return types.RegisteredView{}, r.fail(name, e, start, err)
	}

	after, err := r.fingerprint(name)
	if err != nil {
		return types.RegisteredView{}, r.fail(name, e, start, err)
	}
	if after != before {
		return types.RegisteredView{}, r.fail(name, e, start, errors.NewStaleViewError(name, before, after))
	}

	view := types.RegisteredView{
		Name:        name,
		BuiltAt:     time.Now().UTC(),
		Fingerprint: before,
		Rows:        res.Rows,
		Duration:    time.Since(start),
	}

	r.mu.Lock()
	e.state = types.ViewRegistered
	e.view = view
	r.mu.Unlock()

	log.Printf("registry: registered %s (fingerprint=%s rows=%d took=%s)", name, before, res.Rows, view.Duration)
	if r.observer != nil {
		r.observer.ViewBuilt(view)
	}
	return view, nil
}

func (r *Registry) fail(name string, e *entry, start time.Time, err error) error {
	r.mu.Lock()
	e.state = types.ViewUnregistered
	e.failures++
	r.mu.Unlock()

	var ae *errors.Error
	if stderrors.As(err, &ae) {
		err = ae.WithDetails(map[string]interface{}{"view": name})
	} else {
		err = fmt.Errorf("build %s: %w", name, err)
	}

	if !errors.HasCode(err, errors.CodeStaleViewConflict) {
		log.Printf("registry: build of %s failed: %v", name, err)
	}
	if r.observer != nil {
		r.observer.ViewFailed(name, err, time.Since(start))
	}
	return err
}

// InvalidateAll marks every Registered view Stale. It waits for builds in
// flight to finish first, and no build starts until it returns. Raw
// artifacts and published relations are left alone; each view is
// republished by its next build.
func (r *Registry) InvalidateAll() int {
	r.refresh.Lock()
	defer r.refresh.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.views {
		if e.state == types.ViewRegistered {
			e.state = types.ViewStale
			n++
		}
	}
	log.Printf("registry: invalidated %d views", n)
	return n
}

// Invalidate marks a single view Stale.
func (r *Registry) Invalidate(name string) error {
	r.refresh.Lock()
	defer r.refresh.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[name]
	if !ok {
		return errors.NewUnknownView(name)
	}
	if e.state == types.ViewRegistered {
		e.state = types.ViewStale
	}
	return nil
}

// Status returns the lifecycle state of name.
func (r *Registry) Status(name string) (types.ViewState, error) {
	return r.state(name)
}

func (r *Registry) state(name string) (types.ViewState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[name]
	if !ok {
		return types.ViewUnregistered, errors.NewUnknownView(name)
	}
	return e.state, nil
}

// View returns the registration record of a Registered view.
func (r *Registry) View(name string) (types.RegisteredView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[name]
	if !ok || e.state != types.ViewRegistered {
		return types.RegisteredView{}, false
	}
	return e.view, true
}

// Views returns the Registered views sorted by name.
func (r *Registry) Views() []types.RegisteredView {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.RegisteredView
	for _, e := range r.views {
		if e.state == types.ViewRegistered {
			out = append(out, e.view)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every known view name, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.views))
	for name := range r.views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BuildCount returns how many times the build of name has started.
func (r *Registry) BuildCount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.views[name]; ok {
		return e.builds
	}
	return 0
}

// FailureCount returns how many builds of name have failed.
func (r *Registry) FailureCount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.views[name]; ok {
		return e.failures
	}
	return 0
}
