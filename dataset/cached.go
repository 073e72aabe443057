// cached.go - Read-only Sicht auf einen fertig gebauten Latent-Cache
package dataset

import (
	"fmt"
	"path/filepath"
)

// Cached exposes a validated shard directory as an indexable sequence ordered
// by shard index. It never re-derives the cache; Build owns the files.
type Cached struct {
	dir       string
	batchSize int
	count     int
}

// OpenCached validates that dir holds a contiguous shard set for batchSize
// and returns a read-only adapter over it.
func OpenCached(dir string, batchSize int) (*Cached, error) {
	indices, err := shardIndices(dir, batchSize)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no shards for batch size %d in %q", batchSize, dir)
	}
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("shard set in %q is not contiguous: missing index %d", dir, i)
		}
	}

	return &Cached{dir: dir, batchSize: batchSize, count: len(indices)}, nil
}

// Len returns the number of shards.
func (c *Cached) Len() int { return c.count }

// Batch loads the shard with the given index.
func (c *Cached) Batch(i int) (*Shard, error) {
	if i < 0 || i >= c.count {
		return nil, fmt.Errorf("shard index %d out of range [0,%d)", i, c.count)
	}
	return ReadShard(filepath.Join(c.dir, ShardName(c.batchSize, i)))
}
