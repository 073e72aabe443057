// Package model - Registry fuer extern gelieferte Modell-Stacks.
//
// MODUL: registry
// ZWECK: Modellname -> Builder fuer Model/Optimizer/Scheduler/Tokenizer/Encoder
// INPUT: Options aus der CLI
// OUTPUT: Bundle mit allen Trainings-Collaborators
// NEBENEFFEKTE: keine (rein speicherbasiert)
// ABHAENGIGKEITEN: train, dataset
// HINWEISE: Die eigentlichen Implementierungen (Transformer, VAE, AdamW)
// registrieren sich ueber init() aus eigenen Builds; der Kern kennt nur die
// Schnittstellen.
package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/latentflow/latentflow/dataset"
	"github.com/latentflow/latentflow/train"
)

// Options are the model-facing knobs collected by the CLI.
type Options struct {
	Name                  string
	LearningRate          float64
	PatchSize             int
	ImageSize             int
	MaxTextLen            int
	DiffusionLossWeight   float64
	GradientCheckpointing bool
	TotalSteps            int // for cosine-style schedulers
	Seed                  int64
}

// Bundle holds every collaborator a builder supplies for one model name.
type Bundle struct {
	Model     train.Model
	Optimizer train.Optimizer
	Scheduler train.LRScheduler
	Tokenizer dataset.Tokenizer
	Encoder   dataset.Encoder
}

// Builder constructs a Bundle from options.
type Builder func(opts Options) (*Bundle, error)

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

// Register makes a builder available under name. Later registrations
// overwrite earlier ones.
func Register(name string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[name] = b
}

// Build resolves opts.Name and constructs the bundle.
func Build(opts Options) (*Bundle, error) {
	mu.RLock()
	b, ok := builders[opts.Name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %q is not registered (available: %v)", opts.Name, Names())
	}
	return b(opts)
}

// Names lists registered model names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
