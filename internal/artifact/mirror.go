package artifact

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/storage"
)

// Mirror fetches artifacts lazily from object storage into a local cache
// directory. Files are stored per dataset version, so acknowledging a new
// version never rewrites a file a published view still reads.
type Mirror struct {
	store storage.ObjectStorage
	dir   string
	cache *DownloadCache
	batch *storage.BatchDownloader

	flights singleflight.Group

	mu      sync.Mutex
	version string
}

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// CacheMaxBytes bounds the local copy (0 = default)
	CacheMaxBytes int64
	// Concurrency bounds Prefetch (0 = default)
	Concurrency int
}

// NewMirror creates a mirror of store under dir. The acknowledged version
// is read from dir/version.txt; an empty mirror acknowledges the remote
// version on first use.
func NewMirror(store storage.ObjectStorage, dir string, opts MirrorOptions) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewArtifactError(errors.CodeUnexpected, "create mirror directory", err)
	}
	m := &Mirror{
		store: store,
		dir:   dir,
		cache: NewDownloadCache(opts.CacheMaxBytes),
		batch: storage.NewBatchDownloader(store, opts.Concurrency),
	}
	if b, err := os.ReadFile(filepath.Join(dir, VersionFile)); err == nil {
		m.version = strings.TrimSpace(string(b))
	}
	return m, nil
}

// Cache exposes the download cache.
func (m *Mirror) Cache() *DownloadCache { return m.cache }

// RemoteVersion reads the version published in the bucket.
func (m *Mirror) RemoteVersion(ctx context.Context) (string, error) {
	v, err, _ := m.flights.Do("\x00meta", func() (interface{}, error) {
		return m.remoteVersion(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Mirror) remoteVersion(ctx context.Context) (string, error) {
	objects, err := m.store.ListObjects(ctx, MetaFile)
	if err != nil {
		return "", m.downloadError(MetaFile, err)
	}
	obj, ok := pickCandidate(MetaFile, objects)
	if !ok {
		return "", errors.NewArtifactError(errors.CodeArtifactNotFound, MetaFile+" not published", nil)
	}

	local := filepath.Join(m.dir, ".meta", path.Base(obj))
	if err := m.store.Download(ctx, obj, local); err != nil {
		return "", m.downloadError(obj, err)
	}
	meta, err := ReadMetaFile(local)
	if err != nil {
		return "", err
	}
	return meta.Version, nil
}

func (m *Mirror) Version(ctx context.Context) (string, error) {
	m.mu.Lock()
	v := m.version
	m.mu.Unlock()
	if v != "" {
		return v, nil
	}
	if err := m.Acknowledge(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

// RefreshAvailable compares the acknowledged version with the bucket. An
// unreachable bucket reports no refresh.
func (m *Mirror) RefreshAvailable(ctx context.Context) (bool, error) {
	remote, err := m.RemoteVersion(ctx)
	if err != nil {
		log.Printf("artifact: version check failed: %v", err)
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return remote != m.version, nil
}

// Acknowledge adopts the bucket's current version.
func (m *Mirror) Acknowledge(ctx context.Context) error {
	remote, err := m.RemoteVersion(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.dir, VersionFile), []byte(remote), 0644); err != nil {
		return errors.NewArtifactError(errors.CodeUnexpected, "write "+VersionFile, err)
	}

	m.mu.Lock()
	prev := m.version
	m.version = remote
	m.mu.Unlock()
	if prev != remote {
		log.Printf("artifact: acknowledged dataset version %s (was %q)", remote, prev)
	}
	return nil
}

func (m *Mirror) Fingerprint(ctx context.Context, name string) (string, error) {
	v, err := m.Version(ctx)
	if err != nil {
		return "", err
	}
	return hashParts(v, name), nil
}

// Path returns the local copy of name for the acknowledged version,
// downloading it on first use.
func (m *Mirror) Path(ctx context.Context, name string) (string, error) {
	v, err := m.Version(ctx)
	if err != nil {
		return "", err
	}
	key := v + "/" + name

	if p := m.cache.Get(key); p != "" {
		return p, nil
	}

	res, err, _ := m.flights.Do(key, func() (interface{}, error) {
		if p := m.cache.Get(key); p != "" {
			return p, nil
		}
		obj, err := m.resolve(ctx, name)
		if err != nil {
			return "", err
		}
		local := m.localPath(v, obj)
		if _, err := os.Stat(local); err != nil {
			log.Printf("artifact: downloading %s (version %s)", obj, v)
			if err := m.store.Download(ctx, obj, local); err != nil {
				return "", m.downloadError(obj, err)
			}
		}
		m.cache.Put(key, local)
		return local, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Prefetch downloads several artifacts concurrently.
func (m *Mirror) Prefetch(ctx context.Context, names ...string) error {
	v, err := m.Version(ctx)
	if err != nil {
		return err
	}

	items := make([]storage.BatchItem, 0, len(names))
	keys := make(map[string]string, len(names))
	for _, name := range names {
		obj, err := m.resolve(ctx, name)
		if err != nil {
			return err
		}
		items = append(items, storage.BatchItem{ObjectPath: obj, LocalPath: m.localPath(v, obj), Priority: 1})
		keys[obj] = v + "/" + name
	}

	res, err := m.batch.Download(ctx, items)
	if err != nil {
		return errors.NewArtifactError(errors.CodeUnexpected, "prefetch", err)
	}
	for obj, local := range res.LocalPaths {
		m.cache.Put(keys[obj], local)
	}
	if len(res.Errors) > 0 {
		failed := make([]string, 0, len(res.Errors))
		for obj := range res.Errors {
			failed = append(failed, obj)
		}
		sort.Strings(failed)
		return m.downloadError(failed[0], res.Errors[failed[0]])
	}
	log.Printf("artifact: prefetched %d files (%d already local)", res.Downloads, res.CacheHits)
	return nil
}

func (m *Mirror) resolve(ctx context.Context, name string) (string, error) {
	objects, err := m.store.ListObjects(ctx, name)
	if err != nil {
		return "", m.downloadError(name, err)
	}
	obj, ok := pickCandidate(name, objects)
	if !ok {
		return "", errors.NewArtifactError(errors.CodeArtifactNotFound,
			fmt.Sprintf("artifact %s not published", name), nil).
			WithDetails(map[string]interface{}{"artifact": name})
	}
	return obj, nil
}

func (m *Mirror) localPath(version, obj string) string {
	return filepath.Join(m.dir, sanitizeVersion(version), filepath.FromSlash(obj))
}

func (m *Mirror) downloadError(obj string, err error) error {
	if stderrors.Is(err, storage.ErrObjectNotFound) {
		return errors.NewArtifactError(errors.CodeArtifactNotFound, obj+" not published", err)
	}
	var ae *errors.Error
	if stderrors.As(err, &ae) {
		return err
	}
	return errors.NewArtifactError(errors.CodeDownloadFailed, "download "+obj, err).
		WithDetails(map[string]interface{}{"object": obj})
}

// pickCandidate selects the preferred published variant of name.
func pickCandidate(name string, objects []string) (string, bool) {
	have := make(map[string]bool, len(objects))
	for _, o := range objects {
		have[o] = true
	}
	for _, c := range Candidates(name) {
		if have[c] {
			return c, true
		}
	}
	return "", false
}

func sanitizeVersion(v string) string {
	if v == "" {
		return "unversioned"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(v)
}
