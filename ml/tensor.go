// tensor.go - Gemeinsame Tensor-Typen fuer Training und Checkpointing
//
// Dieses Modul enthaelt:
// - StateDict: benannte Parameter-Tensoren (Model/Optimizer State)
// - Scalars: benannte skalare Zustandswerte
// - Float32s: Zugriff auf das float32-Backing eines Dense-Tensors
package ml

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// StateDict maps parameter names to their float32 tensors. It is the unit of
// exchange between the training loop and the checkpoint codec.
type StateDict map[string]*tensor.Dense

// Scalars maps names to scalar state values (step counts, accumulators,
// scheduler internals).
type Scalars map[string]float64

// Float32s returns the contiguous float32 backing of t.
func Float32s(t *tensor.Dense) ([]float32, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor backing is %T, expected []float32", t.Data())
	}
	return data, nil
}

// Clone returns a deep copy of a StateDict. Checkpoint records hold clones so
// later optimizer steps cannot mutate a snapshot before it hits disk. A tensor
// without a float32 backing fails the clone rather than snapshotting empty.
func (s StateDict) Clone() (StateDict, error) {
	out := make(StateDict, len(s))
	for name, t := range s {
		data, err := Float32s(t)
		if err != nil {
			return nil, fmt.Errorf("cloning %q: %w", name, err)
		}
		cp := make([]float32, len(data))
		copy(cp, data)
		out[name] = tensor.New(tensor.WithShape(t.Shape()...), tensor.WithBacking(cp))
	}
	return out, nil
}

// Clone returns a copy of the scalar map.
func (s Scalars) Clone() Scalars {
	out := make(Scalars, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
