package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/vistream/vistream/internal/observability"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

const (
	digestCacheSize = 1024

	// maxConcurrentUploads bounds SaveDir's parallelism.
	maxConcurrentUploads = 8
)

// Store uploads artifact files to a bucket, skipping files whose
// content was already uploaded under the same key.
type Store struct {
	bucket *blob.Bucket
	logger *observability.Logger

	// uploaded maps key -> content digest of the last upload.
	uploaded *lru.Cache
}

func NewStore(
	bucket *blob.Bucket,
	logger *observability.Logger,
) (*Store, error) {
	uploaded, err := lru.New(digestCacheSize)
	if err != nil {
		return nil, err
	}

	return &Store{
		bucket:   bucket,
		logger:   logger,
		uploaded: uploaded,
	}, nil
}

// SaveBytes uploads data under key unless identical content is
// already there. Returns whether an upload happened.
func (s *Store) SaveBytes(
	ctx context.Context,
	key string,
	data []byte,
) (bool, error) {
	digest := sha256.Sum256(data)
	digestHex := hex.EncodeToString(digest[:])

	if previous, ok := s.uploaded.Get(key); ok && previous == digestHex {
		s.logger.Debug("artifacts: unchanged, skipping", "key", key)
		return false, nil
	}

	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return false, fmt.Errorf("artifacts: failed to write %q: %v", key, err)
	}

	s.uploaded.Add(key, digestHex)
	return true, nil
}

// SaveFile uploads the file at path under key, with the same
// deduplication as SaveBytes.
func (s *Store) SaveFile(
	ctx context.Context,
	key string,
	path string,
) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("artifacts: failed to read %q: %v", path, err)
	}
	return s.SaveBytes(ctx, key, data)
}

// SaveDir uploads every regular file under dir in parallel, keying
// each by its dir-relative path joined to prefix with forward
// slashes. Returns the number of files actually uploaded.
func (s *Store) SaveDir(
	ctx context.Context,
	prefix string,
	dir string,
) (int, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)

	var uploads atomic.Int64
	err := filepath.WalkDir(dir,
		func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return err
			}

			relative, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			key := prefix + "/" + filepath.ToSlash(relative)

			group.Go(func() error {
				uploaded, err := s.SaveFile(ctx, key, path)
				if uploaded {
					uploads.Add(1)
				}
				return err
			})
			return nil
		})
	if err != nil {
		_ = group.Wait()
		return int(uploads.Load()), fmt.Errorf(
			"artifacts: failed to walk %q: %v", dir, err)
	}

	if err := group.Wait(); err != nil {
		return int(uploads.Load()), err
	}
	return int(uploads.Load()), nil
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
