// codec.go - Binaeres Checkpoint-Format
//
// Layout (little-endian, Version 1):
// - Magic "LFCK", Version u32
// - Run-ID String, Epoch u64, Step u64, Loss f64
// - Vier Sektionen: Model-Tensoren, Optimizer-Tensoren,
//   Optimizer-Skalare, Scheduler-Skalare (Keys sortiert)
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/latentflow/latentflow/ml"
)

const (
	recordMagic   = "LFCK"
	recordVersion = uint32(1)
)

func encodeRecord(w io.Writer, rec *Record) error {
	if err := binary.Write(w, binary.LittleEndian, []byte(recordMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, recordVersion); err != nil {
		return err
	}
	if err := writeString(w, rec.RunID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(rec.Epoch)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(rec.Step)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.Loss); err != nil {
		return err
	}

	if err := writeStateDict(w, rec.Model); err != nil {
		return err
	}
	if err := writeStateDict(w, rec.OptState); err != nil {
		return err
	}
	if err := writeScalars(w, rec.OptScalars); err != nil {
		return err
	}
	return writeScalars(w, rec.SchedScalars)
}

func decodeRecord(r io.Reader) (*Record, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != recordMagic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != recordVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}

	rec := &Record{}
	var err error
	if rec.RunID, err = readString(r); err != nil {
		return nil, err
	}

	var epoch, step uint64
	if err := binary.Read(r, binary.LittleEndian, &epoch); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &step); err != nil {
		return nil, err
	}
	rec.Epoch, rec.Step = int(epoch), int(step)
	if err := binary.Read(r, binary.LittleEndian, &rec.Loss); err != nil {
		return nil, err
	}

	if rec.Model, err = readStateDict(r); err != nil {
		return nil, err
	}
	if rec.OptState, err = readStateDict(r); err != nil {
		return nil, err
	}
	if rec.OptScalars, err = readScalars(r); err != nil {
		return nil, err
	}
	if rec.SchedScalars, err = readScalars(r); err != nil {
		return nil, err
	}
	return rec, nil
}

func writeStateDict(w io.Writer, dict ml.StateDict) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(dict))); err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(dict)) {
		t := dict[name]
		if err := writeString(w, name); err != nil {
			return err
		}

		shape := t.Shape()
		if err := binary.Write(w, binary.LittleEndian, uint32(len(shape))); err != nil {
			return err
		}
		for _, d := range shape {
			if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
				return err
			}
		}

		data, err := ml.Float32s(t)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		if err := binary.Write(w, binary.LittleEndian, data); err != nil {
			return err
		}
	}
	return nil
}

func readStateDict(r io.Reader) (ml.StateDict, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	dict := make(ml.StateDict, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}

		var ndims uint32
		if err := binary.Read(r, binary.LittleEndian, &ndims); err != nil {
			return nil, err
		}
		dims := make([]int, ndims)
		n := 1
		for j := range dims {
			var d uint32
			if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
				return nil, err
			}
			dims[j] = int(d)
			n *= int(d)
		}

		data := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, err
		}
		dict[name] = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
	}
	return dict, nil
}

func writeScalars(w io.Writer, scalars ml.Scalars) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(scalars))); err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(scalars)) {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, scalars[name]); err != nil {
			return err
		}
	}
	return nil
}

func readScalars(r io.Reader) (ml.Scalars, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	scalars := make(ml.Scalars, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		scalars[name] = v
	}
	return scalars, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, []byte(s))
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
