// timestep.go - Noise-Level pro Sample und Schritt
package train

import (
	"math/rand"
)

// OverrideTimestep is the fixed noise level used on diagnostic steps, so
// debug renders stay comparable across the run.
const OverrideTimestep = 0.7

// TimestepScheduler draws one noise level in [0,1) per sample. On steps that
// hit the debug or inference cadence every sample receives OverrideTimestep
// instead. The decision depends only on the step counter, never on wall
// clock or batch content, so a seeded scheduler is fully reproducible.
type TimestepScheduler struct {
	rng        *rand.Rand
	debugEvery int
	inferEvery int
}

// NewTimestepScheduler returns a scheduler seeded with seed. A cadence of
// zero disables that override.
func NewTimestepScheduler(seed int64, debugEvery, inferEvery int) *TimestepScheduler {
	return &TimestepScheduler{
		rng:        rand.New(rand.NewSource(seed)),
		debugEvery: debugEvery,
		inferEvery: inferEvery,
	}
}

// Overridden reports whether step is a diagnostic step.
func (s *TimestepScheduler) Overridden(step int) bool {
	return (s.debugEvery > 0 && step%s.debugEvery == 0) ||
		(s.inferEvery > 0 && step%s.inferEvery == 0)
}

// Times returns n noise levels for the given global step.
func (s *TimestepScheduler) Times(step, n int) []float32 {
	times := make([]float32, n)
	if s.Overridden(step) {
		for i := range times {
			times[i] = OverrideTimestep
		}
		return times
	}
	for i := range times {
		times[i] = s.rng.Float32()
	}
	return times
}
