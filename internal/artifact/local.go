package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mtgsql/mtgsql/internal/errors"
)

// LocalDir serves artifacts from a directory maintained by an external
// fetcher. The fetcher announces a new dataset by rewriting version.txt
// (or Meta.json); the change is picked up by RefreshAvailable.
type LocalDir struct {
	dir string

	mu    sync.Mutex
	acked string
}

// NewLocalDir opens dir and acknowledges the version found there.
func NewLocalDir(dir string) (*LocalDir, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.NewArtifactError(errors.CodeArtifactNotFound,
			fmt.Sprintf("artifact directory %s does not exist", dir), err)
	}
	l := &LocalDir{dir: dir}
	l.acked = l.current()
	return l, nil
}

// Dir returns the artifact directory.
func (l *LocalDir) Dir() string { return l.dir }

// current reads the on-disk version: version.txt first, then Meta.json.
// A directory with neither is unversioned.
func (l *LocalDir) current() string {
	if b, err := os.ReadFile(filepath.Join(l.dir, VersionFile)); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v
		}
	}
	if p, err := Resolve(l.dir, MetaFile); err == nil {
		if m, err := ReadMetaFile(p); err == nil {
			return m.Version
		}
	}
	return ""
}

func (l *LocalDir) Path(_ context.Context, name string) (string, error) {
	return Resolve(l.dir, name)
}

func (l *LocalDir) Version(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acked, nil
}

func (l *LocalDir) Fingerprint(ctx context.Context, name string) (string, error) {
	version, _ := l.Version(ctx)
	path, err := Resolve(l.dir, name)
	if err != nil {
		path = filepath.Join(l.dir, filepath.FromSlash(name))
	}
	return Fingerprint(version, path), nil
}

func (l *LocalDir) RefreshAvailable(context.Context) (bool, error) {
	cur := l.current()
	l.mu.Lock()
	defer l.mu.Unlock()
	return cur != l.acked, nil
}

func (l *LocalDir) Acknowledge(context.Context) error {
	cur := l.current()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acked = cur
	return nil
}
