// loss.go - Begrenzte Moving-Average-Fenster fuer Loss-Komponenten
package train

import (
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gonum.org/v1/gonum/stat"
)

// DefaultLossWindow is the number of recent steps a window keeps.
const DefaultLossWindow = 100

// ErrEmptyWindow is returned when an average is requested before any value
// has been recorded under that name.
var ErrEmptyWindow = errors.New("loss window is empty")

// LossTracker keeps one bounded FIFO window per named loss component.
// Windows are created on first record; iteration order follows creation
// order so progress lines stay stable.
type LossTracker struct {
	size    int
	windows *orderedmap.OrderedMap[string, *lossWindow]
}

type lossWindow struct {
	values []float64
}

// NamedAverage is one component's current moving average.
type NamedAverage struct {
	Name  string
	Value float64
}

// NewLossTracker returns a tracker with the given window capacity.
// A non-positive size falls back to DefaultLossWindow.
func NewLossTracker(size int) *LossTracker {
	if size <= 0 {
		size = DefaultLossWindow
	}
	return &LossTracker{
		size:    size,
		windows: orderedmap.New[string, *lossWindow](),
	}
}

// Record appends v to the named window, evicting the oldest value once the
// window is full.
func (t *LossTracker) Record(name string, v float64) {
	w, ok := t.windows.Get(name)
	if !ok {
		w = &lossWindow{values: make([]float64, 0, t.size)}
		t.windows.Set(name, w)
	}

	if len(w.values) == t.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:t.size-1]
	}
	w.values = append(w.values, v)
}

// Average returns the arithmetic mean of the named window's contents.
func (t *LossTracker) Average(name string) (float64, error) {
	w, ok := t.windows.Get(name)
	if !ok || len(w.values) == 0 {
		return 0, ErrEmptyWindow
	}
	return stat.Mean(w.values, nil), nil
}

// Averages returns all component averages in creation order.
func (t *LossTracker) Averages() []NamedAverage {
	var avgs []NamedAverage
	for pair := t.windows.Oldest(); pair != nil; pair = pair.Next() {
		if len(pair.Value.values) == 0 {
			continue
		}
		avgs = append(avgs, NamedAverage{Name: pair.Key, Value: stat.Mean(pair.Value.values, nil)})
	}
	return avgs
}
