// cache.go - Aufbau des Latent-Caches aus rohen Text-Bild-Paaren
//
// Dieses Modul enthaelt:
// - LatentCache: Konfiguration und Build-Pipeline
// - Build: kodiert Roh-Batches und schreibt je einen Shard pro Batch-Index
// - Idempotenz: vollstaendiger Shard-Satz -> Build wird uebersprungen
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/pdevine/tensor"
	"golang.org/x/sync/errgroup"
)

// LatentCache materializes an on-disk cache of encoded latents keyed by the
// configured batch size, so the expensive encode step is paid once per
// configuration.
type LatentCache struct {
	Dir        string
	BatchSize  int
	ImageSize  int
	MaxTextLen int

	// Workers bounds the encode pool. Zero means GOMAXPROCS.
	Workers int
}

// Build encodes pairs batch-by-batch in dataset order and writes one shard
// per batch index. If force is false and the shard set on disk is already
// complete for this batch size, nothing happens. An incomplete shard set is
// treated as "not cached" and rebuilt wholesale, never resumed.
func (c *LatentCache) Build(ctx context.Context, pairs []Pair, tok Tokenizer, enc Encoder, force bool) error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("cache batch size %d must be positive", c.BatchSize)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}

	expected := (len(pairs) + c.BatchSize - 1) / c.BatchSize
	if !force && c.complete(expected) {
		slog.Info("using existing cached dataset", "dir", c.Dir, "shards", expected)
		return nil
	}

	if err := c.removeShards(); err != nil {
		return err
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	slog.Info("caching dataset", "dir", c.Dir, "pairs", len(pairs), "shards", expected, "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < expected; i++ {
		lo := i * c.BatchSize
		hi := min(lo+c.BatchSize, len(pairs))
		batch := pairs[lo:hi]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			shard, err := c.encodeBatch(ctx, i, batch, tok, enc)
			if err != nil {
				return fmt.Errorf("encoding batch %d: %w", i, err)
			}
			return WriteShard(c.Dir, c.BatchSize, shard)
		})
	}
	return g.Wait()
}

// encodeBatch loads and tokenizes one raw batch, runs the external encoder
// and drops the pixel data once the latents exist.
func (c *LatentCache) encodeBatch(ctx context.Context, index int, batch []Pair, tok Tokenizer, enc Encoder) (*Shard, error) {
	n := len(batch)
	pixels := make([]float32, 0, n*3*c.ImageSize*c.ImageSize)
	tokens := make([][]int32, 0, n)

	for _, pair := range batch {
		px, err := loadPixels(pair.Image, c.ImageSize)
		if err != nil {
			return nil, err
		}
		pixels = append(pixels, px...)
		tokens = append(tokens, encodeTokens(tok, pair.Text, c.MaxTextLen))
	}

	batchPixels := tensor.New(tensor.WithShape(n, 3, c.ImageSize, c.ImageSize), tensor.WithBacking(pixels))
	latents, err := enc.EncodeBatch(ctx, batchPixels)
	if err != nil {
		return nil, err
	}

	return &Shard{Index: index, TokenIDs: tokens, Latents: latents}, nil
}

// complete reports whether the directory holds exactly the shard set
// 0..expected-1 for this batch size. Directory non-emptiness alone is not
// trusted.
func (c *LatentCache) complete(expected int) bool {
	indices, err := shardIndices(c.Dir, c.BatchSize)
	if err != nil || len(indices) != expected {
		return false
	}
	for i, idx := range indices {
		if idx != i {
			return false
		}
	}
	return expected > 0
}

// removeShards clears shard files and any temp files a crashed write left
// behind, so a rebuild starts from an empty directory.
func (c *LatentCache) removeShards() error {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == shardExt || strings.HasSuffix(name, shardExt+".tmp") {
			if err := os.Remove(filepath.Join(c.Dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// shardIndices enumerates shard files for batchSize, sorted by the index
// parsed from the file name, independent of directory listing order.
func shardIndices(dir string, batchSize int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var indices []int
	for _, e := range entries {
		if idx, ok := parseShardIndex(e.Name(), batchSize); ok {
			indices = append(indices, idx)
		}
	}

	// Index-Reihenfolge, nicht Verzeichnis-Reihenfolge
	slices.Sort(indices)
	return indices, nil
}
