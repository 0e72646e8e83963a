package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads archived segments in parallel into a local directory.
// Objects already present in the directory are not downloaded again.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	dir         string
}

// FetchResult is the outcome of a Fetch call.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewFetcher creates a fetcher writing into dir.
func NewFetcher(storage ObjectStorage, concurrency int, dir string) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{storage: storage, concurrency: concurrency, dir: dir}
}

// Fetch downloads the given objects. Per object failures are reported in
// the result; the error is only set when the target directory is unusable.
func (f *Fetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create fetch directory: %w", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(f.concurrency))
	)
	for _, objectPath := range objectPaths {
		local := f.localPath(objectPath)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[objectPath] = local
			result.CacheHits++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[objectPath] = fmt.Errorf("storage: acquire download slot: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			// Download into a temporary name so a failed transfer never
			// counts as a cache hit later.
			tmp := local + ".part"
			err := f.storage.Download(ctx, objectPath, tmp)
			if err == nil {
				err = os.Rename(tmp, local)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				os.Remove(tmp)
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(objectPath, local)
	}
	wg.Wait()

	return result, nil
}

// localPath flattens the object path into a file name under dir.
func (f *Fetcher) localPath(objectPath string) string {
	return filepath.Join(f.dir, path.Base(objectPath))
}
