// checkpoint.go - Atomares Sichern und Wiederherstellen des Trainingszustands
//
// Dieses Modul enthaelt:
// - Record: vollstaendiger Trainings-Snapshot (Model/Optimizer/Scheduler/Zaehler)
// - Manager: Save mit write-then-rename, Resume als reine Lese-Operation
// - ErrNoCheckpoint: Resume ohne vorhandenen Checkpoint ist fatal
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latentflow/latentflow/ml"
)

// ErrNoCheckpoint is returned by Resume when no checkpoint file exists.
// Callers must not fall back to fresh initialization silently.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// Record is a durable snapshot of everything needed to continue training as
// if uninterrupted. Resume returns a new Record; adopting it is the training
// loop's job, so no live objects are mutated behind the caller's back.
type Record struct {
	RunID string
	Epoch int
	Step  int
	Loss  float64

	Model        ml.StateDict
	OptState     ml.StateDict
	OptScalars   ml.Scalars
	SchedScalars ml.Scalars
}

// Manager persists checkpoints at a fixed path, overwriting the previous
// snapshot on every save.
type Manager struct {
	path string
}

// NewManager returns a Manager writing to path. Parent directories are
// created on demand.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Save serializes rec as a single unit. The record is written to a temp file
// and renamed into place, so a crash mid-save leaves the previous checkpoint
// untouched and a partial file is never visible to Resume.
func (m *Manager) Save(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := encodeRecord(f, rec); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, m.path)
}

// Resume loads the most recent checkpoint and returns it as a new Record.
func (m *Manager) Resume() (*Record, error) {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %q", ErrNoCheckpoint, m.path)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := decodeRecord(f)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %q: %w", m.path, err)
	}
	return rec, nil
}
