// MODUL: loop_test
// ZWECK: Tests fuer die Trainingsschleife mit Fake-Collaborators
// INPUT: In-Memory Shards, Fake-Model/Optimizer/Scheduler
// OUTPUT: Testresultate
// NEBENEFFEKTE: Temp-Verzeichnisse fuer Checkpoints

package train

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdevine/tensor"

	"github.com/latentflow/latentflow/checkpoint"
	"github.com/latentflow/latentflow/dataset"
	"github.com/latentflow/latentflow/ml"
)

// fakeDataset haelt Shards im Speicher
type fakeDataset struct {
	shards []*dataset.Shard
}

func (d *fakeDataset) Len() int { return len(d.shards) }
func (d *fakeDataset) Batch(i int) (*dataset.Shard, error) {
	return d.shards[i], nil
}

func newFakeDataset(shards, rows int) *fakeDataset {
	d := &fakeDataset{}
	for s := 0; s < shards; s++ {
		tokens := make([][]int32, rows)
		data := make([]float32, rows*4*4*4)
		for r := range tokens {
			tokens[r] = []int32{int32(s), int32(r), 1}
		}
		for i := range data {
			data[i] = float32(s*1000+i) * 0.5
		}
		d.shards = append(d.shards, &dataset.Shard{
			Index:    s,
			TokenIDs: tokens,
			Latents:  tensor.New(tensor.WithShape(rows, 4, 4, 4), tensor.WithBacking(data)),
		})
	}
	return d
}

type stepCall struct {
	step  int
	bsz   int
	times []float32
}

// fakeModel protokolliert Aufrufe und liefert konstante Losses
type fakeModel struct {
	loop  *Loop
	calls []stepCall
	state ml.StateDict
	order *[]string
}

func (m *fakeModel) ForwardLoss(_ context.Context, batch *Batch, times []float32) (*LossResult, error) {
	m.calls = append(m.calls, stepCall{step: m.loop.Step(), bsz: len(batch.TokenIDs), times: times})
	*m.order = append(*m.order, "forward")
	return &LossResult{
		Loss:          1.5,
		TextLoss:      1.0,
		DiffusionLoss: 0.5,
		Diagnostics:   &Diagnostics{},
	}, nil
}

func (m *fakeModel) Backward(context.Context) error {
	*m.order = append(*m.order, "backward")
	return nil
}

func (m *fakeModel) State() ml.StateDict {
	if m.state == nil {
		m.state = ml.StateDict{
			"w": tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 2})),
		}
	}
	return m.state
}

func (m *fakeModel) LoadState(s ml.StateDict) error {
	m.state = s
	return nil
}

type fakeOptimizer struct {
	order *[]string
	steps int
}

func (o *fakeOptimizer) Step() error {
	o.steps++
	*o.order = append(*o.order, "opt-step")
	return nil
}
func (o *fakeOptimizer) ZeroGrad() { *o.order = append(*o.order, "zero-grad") }
func (o *fakeOptimizer) State() (ml.StateDict, ml.Scalars) {
	return ml.StateDict{}, ml.Scalars{"step": float64(o.steps)}
}
func (o *fakeOptimizer) LoadState(_ ml.StateDict, s ml.Scalars) error {
	o.steps = int(s["step"])
	return nil
}

type fakeScheduler struct {
	steps int
}

func (s *fakeScheduler) Step()       { s.steps++ }
func (s *fakeScheduler) LR() float64 { return 5e-5 }
func (s *fakeScheduler) State() ml.Scalars {
	return ml.Scalars{"step": float64(s.steps)}
}
func (s *fakeScheduler) LoadState(sc ml.Scalars) error {
	s.steps = int(sc["step"])
	return nil
}

type countingCollective struct {
	barriers int
}

func (c *countingCollective) Barrier(ctx context.Context) error {
	c.barriers++
	return ctx.Err()
}

// roundTripRenderer prueft die mitgelieferte Unpatchify-Closure
type roundTripRenderer struct {
	t        *testing.T
	prepared bool
	frames   []int
}

func (r *roundTripRenderer) Prepare(_ context.Context, sample *Sample) error {
	r.prepared = true
	if got := sample.Latents.Shape(); !got.Eq(tensor.Shape{1, 4, 4, 4}) {
		r.t.Errorf("sample latent shape = %v", got)
	}
	return nil
}

func (r *roundTripRenderer) RenderDebug(_ context.Context, frame *DebugFrame) error {
	r.frames = append(r.frames, frame.Step)

	back, err := frame.Unpatchify(frame.Latents)
	if err != nil {
		return err
	}
	again, err := ml.Patchify(back, 2)
	if err != nil {
		return err
	}

	want, _ := ml.Float32s(frame.Latents)
	got, _ := ml.Float32s(again)
	if diff := cmp.Diff(want, got); diff != "" {
		r.t.Errorf("unpatchify closure not inverse (-want +got):\n%s", diff)
	}
	return nil
}

type loopFixture struct {
	model      *fakeModel
	opt        *fakeOptimizer
	sched      *fakeScheduler
	collective *countingCollective
	renderer   *roundTripRenderer
	manager    *checkpoint.Manager
	order      []string
}

func newLoop(t *testing.T, cfg Config, data Dataset, ckptPath string) (*Loop, *loopFixture) {
	t.Helper()
	f := &loopFixture{
		opt:        &fakeOptimizer{},
		sched:      &fakeScheduler{},
		collective: &countingCollective{},
		renderer:   &roundTripRenderer{t: t},
		manager:    checkpoint.NewManager(ckptPath),
	}
	f.model = &fakeModel{order: &f.order}
	f.opt.order = &f.order

	l := New(cfg, data, Collaborators{
		Model:       f.model,
		Optimizer:   f.opt,
		Scheduler:   f.sched,
		Collective:  f.collective,
		Renderer:    f.renderer,
		Checkpoints: f.manager,
	})
	f.model.loop = l
	return l, f
}

func testConfig() Config {
	return Config{
		NumEpochs:      2,
		CacheBatchSize: 2,
		PatchSize:      2,
		DebugEvery:     2,
		InferEvery:     200,
		SaveEvery:      3,
		LogEvery:       1000,
		Seed:           42,
	}
}

func TestLoopRunsAllSteps(t *testing.T) {
	data := newFakeDataset(4, 2) // 4 Shards, cacheBatch 2 -> 2 Schritte/Epoche
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")
	l, f := newLoop(t, testConfig(), data, ckpt)

	if err := l.Run(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	// 2 Epochen x 2 Schritte, globaler Zaehler 1..4
	var steps []int
	for _, c := range f.model.calls {
		steps = append(steps, c.step)
		// Flache Batch-Dimension: 2 Shards x 2 Zeilen
		if c.bsz != 4 {
			t.Errorf("step %d: bsz = %d, want 4", c.step, c.bsz)
		}
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, steps); diff != "" {
		t.Errorf("global steps (-want +got):\n%s", diff)
	}

	// Timestep-Override an Debug-Schritten 2 und 4
	for _, c := range f.model.calls {
		fixed := c.times[0] == OverrideTimestep && c.times[1] == OverrideTimestep
		if wantFixed := c.step%2 == 0; fixed != wantFixed {
			t.Errorf("step %d: fixed times = %v, want %v (times %v)", c.step, fixed, wantFixed, c.times)
		}
	}

	if !f.renderer.prepared {
		t.Error("renderer was not prepared with the sample exemplar")
	}
	if diff := cmp.Diff([]int{2, 4}, f.renderer.frames); diff != "" {
		t.Errorf("debug frames (-want +got):\n%s", diff)
	}

	// Barrieren: Debug bei 2,4 + Save bei 3
	if f.collective.barriers != 3 {
		t.Errorf("barriers = %d, want 3", f.collective.barriers)
	}
}

func TestLoopStepOrdering(t *testing.T) {
	data := newFakeDataset(1, 2)
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")
	cfg := testConfig()
	cfg.NumEpochs = 1
	cfg.CacheBatchSize = 1
	l, f := newLoop(t, cfg, data, ckpt)

	if err := l.Run(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	want := []string{"forward", "backward", "opt-step", "zero-grad"}
	if diff := cmp.Diff(want, f.order); diff != "" {
		t.Errorf("per-step ordering (-want +got):\n%s", diff)
	}
}

func TestLoopSaveAndResume(t *testing.T) {
	data := newFakeDataset(2, 2)
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")

	cfg := testConfig()
	cfg.CacheBatchSize = 1 // 2 Schritte/Epoche
	cfg.SaveEvery = 2
	l, _ := newLoop(t, cfg, data, ckpt)
	if err := l.Run(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	rec, err := checkpoint.NewManager(ckpt).Resume()
	if err != nil {
		t.Fatal(err)
	}
	// Letzter Save bei Schritt 4 (Epoche 1)
	if rec.Step != 4 || rec.Epoch != 1 {
		t.Fatalf("checkpoint at epoch %d step %d, want epoch 1 step 4", rec.Epoch, rec.Step)
	}
	if rec.Loss != 1.5 {
		t.Errorf("checkpoint loss = %f, want 1.5", rec.Loss)
	}

	// Resume: Epoche 1 wird fortgesetzt, Zaehler laeuft bei 5 weiter
	cfg.NumEpochs = 3
	l2, f2 := newLoop(t, cfg, data, ckpt)
	if err := l2.Run(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	var steps []int
	for _, c := range f2.model.calls {
		steps = append(steps, c.step)
	}
	// Epochen 1 und 2 mit je 2 Schritten, keine Wiederholung von 1..4
	if diff := cmp.Diff([]int{5, 6, 7, 8}, steps); diff != "" {
		t.Errorf("resumed steps (-want +got):\n%s", diff)
	}
	if f2.opt.steps != 8 {
		t.Errorf("optimizer steps after resume = %d, want 8 (4 restored + 4 new)", f2.opt.steps)
	}
}

func TestLoopResumeScenario(t *testing.T) {
	// Szenario: Checkpoint bei step=350, epoch=2 -> Fortsetzung exakt dort
	data := newFakeDataset(1, 1)
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")

	rec := &checkpoint.Record{
		RunID:        "resumed-run",
		Epoch:        2,
		Step:         350,
		Loss:         0.25,
		Model:        ml.StateDict{"w": tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{9, 9}))},
		OptState:     ml.StateDict{},
		OptScalars:   ml.Scalars{"step": 350},
		SchedScalars: ml.Scalars{"step": 350},
	}
	if err := checkpoint.NewManager(ckpt).Save(rec); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.NumEpochs = 3
	cfg.CacheBatchSize = 1
	cfg.SaveEvery = 0
	l, f := newLoop(t, cfg, data, ckpt)
	if err := l.Run(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	var steps []int
	for _, c := range f.model.calls {
		steps = append(steps, c.step)
	}
	if diff := cmp.Diff([]int{351}, steps); diff != "" {
		t.Errorf("steps after resume (-want +got):\n%s", diff)
	}
	if l.Epoch() != 2 {
		t.Errorf("epoch = %d, want 2", l.Epoch())
	}
}

func TestLoopResumeWithoutCheckpoint(t *testing.T) {
	data := newFakeDataset(1, 1)
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")
	l, _ := newLoop(t, testConfig(), data, ckpt)

	err := l.Run(context.Background(), true)
	if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestLoopCancellation(t *testing.T) {
	data := newFakeDataset(2, 1)
	ckpt := filepath.Join(t.TempDir(), "latest.ckpt")
	l, _ := newLoop(t, testConfig(), data, ckpt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx, false); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
