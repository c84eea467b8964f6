// Package storage provides read access to object storage holding published
// dataset artifacts.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage abstracts an artifact bucket.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Download copies objectPath to localPath. The destination is written
	// to a temporary sibling and renamed into place, so a failed download
	// never leaves a partial file at localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix,
	// slash-separated and relative to the storage root.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// tempPath returns the staging path used while localPath is downloaded.
func tempPath(localPath string) string {
	return localPath + ".tmp"
}
