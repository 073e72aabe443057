// shard.go - Binaeres Shard-Format des Latent-Caches
//
// Dieses Modul enthaelt:
// - Shard: Token-IDs und kodierte Latents eines Roh-Batches
// - WriteShard: atomares Schreiben (tmp + rename)
// - ReadShard: Einlesen und fp16 -> float32 Konvertierung
// - ShardName/parseShardIndex: Dateinamen kodieren Batchgroesse und Index
package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdevine/tensor"
	"github.com/x448/float16"

	"github.com/latentflow/latentflow/ml"
)

const (
	shardMagic   = "LFSH"
	shardVersion = uint32(1)
	shardExt     = ".shard"
)

// Shard is one persisted unit of the latent cache: the tokenized captions and
// encoded latents of a single raw batch. Shards are immutable once written.
type Shard struct {
	Index    int
	TokenIDs [][]int32
	Latents  *tensor.Dense // [batch, C, h, w] float32
}

// ShardName returns the file name for a shard, encoding the configured batch
// size and the batch index.
func ShardName(batchSize, index int) string {
	return fmt.Sprintf("batch_%d_%d%s", batchSize, index, shardExt)
}

// parseShardIndex recovers the batch index from a shard file name, requiring
// the encoded batch size to match. Foreign files return ok=false.
func parseShardIndex(name string, batchSize int) (int, bool) {
	var bs, idx int
	n, err := fmt.Sscanf(name, "batch_%d_%d"+shardExt, &bs, &idx)
	if err != nil || n != 2 || bs != batchSize || idx < 0 {
		return 0, false
	}
	if name != ShardName(batchSize, idx) {
		return 0, false
	}
	return idx, true
}

// WriteShard persists s under dir. The file is written to a temp name and
// renamed into place so a crash mid-write never leaves a partial shard
// visible.
func WriteShard(dir string, batchSize int, s *Shard) error {
	path := filepath.Join(dir, ShardName(batchSize, s.Index))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := encodeShard(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing shard %d: %w", s.Index, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// ReadShard loads a shard file written by WriteShard.
func ReadShard(path string) (*Shard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := decodeShard(f)
	if err != nil {
		return nil, fmt.Errorf("reading shard %q: %w", path, err)
	}
	return s, nil
}

func encodeShard(w io.Writer, s *Shard) error {
	if err := binary.Write(w, binary.LittleEndian, []byte(shardMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, shardVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.Index)); err != nil {
		return err
	}

	// Token-IDs: rows x cols int32
	rows := uint32(len(s.TokenIDs))
	var cols uint32
	if rows > 0 {
		cols = uint32(len(s.TokenIDs[0]))
	}
	if err := binary.Write(w, binary.LittleEndian, rows); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, cols); err != nil {
		return err
	}
	for _, row := range s.TokenIDs {
		if uint32(len(row)) != cols {
			return fmt.Errorf("ragged token rows: %d vs %d", len(row), cols)
		}
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}

	// Latents: 4 Dimensionen, Payload als fp16
	shape := s.Latents.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("latents have %d dimensions, expected 4", len(shape))
	}
	for _, d := range shape {
		if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}

	data, err := ml.Float32s(s.Latents)
	if err != nil {
		return err
	}
	half := make([]uint16, len(data))
	for i, v := range data {
		half[i] = float16.Fromfloat32(v).Bits()
	}
	return binary.Write(w, binary.LittleEndian, half)
}

func decodeShard(r io.Reader) (*Shard, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != shardMagic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != shardVersion {
		return nil, fmt.Errorf("unsupported shard version %d", version)
	}

	var index uint32
	if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
		return nil, err
	}

	var rows, cols uint32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, err
	}
	tokens := make([][]int32, rows)
	for i := range tokens {
		tokens[i] = make([]int32, cols)
		if err := binary.Read(r, binary.LittleEndian, tokens[i]); err != nil {
			return nil, err
		}
	}

	dims := make([]int, 4)
	n := 1
	for i := range dims {
		var d uint32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, err
		}
		dims[i] = int(d)
		n *= int(d)
	}

	half := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, half); err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i, u := range half {
		data[i] = float16.Frombits(u).Float32()
	}

	return &Shard{
		Index:    int(index),
		TokenIDs: tokens,
		Latents:  tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data)),
	}, nil
}
