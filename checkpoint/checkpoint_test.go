// MODUL: checkpoint_test
// ZWECK: Tests fuer Checkpoint Save/Resume Roundtrip und Fehlerfaelle
// INPUT: Synthetische Records
// OUTPUT: Testresultate
// NEBENEFFEKTE: Temp-Verzeichnisse

package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdevine/tensor"

	"github.com/latentflow/latentflow/ml"
)

func testRecord() *Record {
	return &Record{
		RunID: "0f2c3b9a-run",
		Epoch: 2,
		Step:  350,
		Loss:  1.375,
		Model: ml.StateDict{
			"blocks.0.weight": tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6})),
			"embed.weight":    tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{0.5, -0.5, 0.25, -0.25})),
		},
		OptState: ml.StateDict{
			"blocks.0.weight.exp_avg": tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})),
		},
		OptScalars:   ml.Scalars{"step": 350, "beta1": 0.9},
		SchedScalars: ml.Scalars{"step": 350, "eta_min": 1e-6},
	}
}

// diffRecords vergleicht Records inklusive Tensor-Inhalten
func diffRecords(want, got *Record) string {
	return cmp.Diff(want, got, cmp.Comparer(func(a, b *tensor.Dense) bool {
		if !a.Shape().Eq(b.Shape()) {
			return false
		}
		da, _ := ml.Float32s(a)
		db, _ := ml.Float32s(b)
		return cmp.Equal(da, db)
	}))
}

func TestSaveResumeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints", "latest.ckpt")
	m := NewManager(path)

	want := testRecord()
	if err := m.Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := m.Resume()
	if err != nil {
		t.Fatal(err)
	}
	if diff := diffRecords(want, got); diff != "" {
		t.Errorf("record round trip (-want +got):\n%s", diff)
	}

	// Szenario: Prozess-Neustart setzt exakt bei epoch=2, step=350 fort
	if got.Epoch != 2 || got.Step != 350 {
		t.Errorf("resume position = epoch %d step %d, want epoch 2 step 350", got.Epoch, got.Step)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "latest.ckpt"))

	first := testRecord()
	if err := m.Save(first); err != nil {
		t.Fatal(err)
	}

	second := testRecord()
	second.Step = 400
	second.Loss = 0.5
	if err := m.Save(second); err != nil {
		t.Fatal(err)
	}

	got, err := m.Resume()
	if err != nil {
		t.Fatal(err)
	}
	if got.Step != 400 {
		t.Errorf("step = %d, want 400", got.Step)
	}

	// Kein Temp-File sichtbar
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "latest.ckpt" {
			t.Errorf("unexpected file %q in checkpoint dir", e.Name())
		}
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "latest.ckpt"))
	if _, err := m.Resume(); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestResumeRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	if err := os.WriteFile(path, []byte("GGUFnot-a-checkpoint"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewManager(path).Resume(); err == nil {
		t.Error("expected error for corrupt checkpoint")
	}
}
