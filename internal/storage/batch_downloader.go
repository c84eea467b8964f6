package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader coordinates parallel downloads from object storage.
// Requests are started in priority order and files already present locally
// are not downloaded again.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchItem is one object to fetch.
type BatchItem struct {
	ObjectPath string
	LocalPath  string
	Priority   int // 0=needed now, 1=prefetch
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a new batch downloader.
func NewBatchDownloader(storage ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Download fetches every item, at most concurrency at a time. Failures are
// reported per object in the result; the returned error is reserved for
// invalid requests.
func (b *BatchDownloader) Download(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	seen := make(map[string]bool, len(items))
	queue := make([]BatchItem, 0, len(items))
	for _, it := range items {
		if it.ObjectPath == "" || it.LocalPath == "" {
			return nil, fmt.Errorf("batch item needs both object and local path: %+v", it)
		}
		if seen[it.ObjectPath] {
			continue
		}
		seen[it.ObjectPath] = true

		if _, err := os.Stat(it.LocalPath); err == nil {
			result.LocalPaths[it.ObjectPath] = it.LocalPath
			result.CacheHits++
			continue
		}
		queue = append(queue, it)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority < queue[j].Priority
	})

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, it := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[it.ObjectPath] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(it BatchItem) {
			defer sem.Release(1)
			defer wg.Done()

			if err := b.storage.Download(ctx, it.ObjectPath, it.LocalPath); err != nil {
				mu.Lock()
				result.Errors[it.ObjectPath] = err
				mu.Unlock()
				return
			}

			mu.Lock()
			result.LocalPaths[it.ObjectPath] = it.LocalPath
			result.Downloads++
			mu.Unlock()
		}(it)
	}

	wg.Wait()
	return result, nil
}
