// loop.go - Trainingsschleife ueber Epochen und gecachte Shards
//
// Dieses Modul enthaelt:
// - Config/Collaborators: Verdrahtung der Schleife
// - Loop.Run: Epochen- und Schritt-Zustandsmaschine
// - Cadence-Seiteneffekte: Debug-Render, Inference-Barrier, Checkpoint-Save
package train

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/pdevine/tensor"

	"github.com/latentflow/latentflow/checkpoint"
	"github.com/latentflow/latentflow/ml"
)

// Config carries the run-scoped knobs of the training loop.
type Config struct {
	NumEpochs      int
	CacheBatchSize int
	PatchSize      int

	// Cadences in global steps; zero disables the side effect.
	DebugEvery int
	InferEvery int
	SaveEvery  int

	LogEvery   int
	LossWindow int
	Seed       int64
}

// MetricsRecorder receives one row per completed step. Optional.
type MetricsRecorder interface {
	RecordStep(runID string, epoch, step int, textLoss, diffusionLoss, lr float64) error
}

// StatusSink receives progress snapshots. Optional.
type StatusSink interface {
	Update(Status)
}

// Collaborators are the external parties the loop composes. Model, Optimizer,
// Scheduler and Checkpoints are required; nil Collective and Renderer default
// to SingleProcess and NopRenderer.
type Collaborators struct {
	Model       Model
	Optimizer   Optimizer
	Scheduler   LRScheduler
	Collective  Collective
	Renderer    Renderer
	Checkpoints *checkpoint.Manager
	Metrics     MetricsRecorder
	Status      StatusSink
}

// Loop drives multi-epoch training over a cached dataset. The global step
// counter increments once per step and is never reset, not across epochs and
// not across resumptions.
type Loop struct {
	cfg  Config
	data Dataset
	c    Collaborators

	losses   *LossTracker
	times    *TimestepScheduler
	progress *Progress

	runID string
	epoch int
	step  int
}

// New assembles a training loop.
func New(cfg Config, data Dataset, c Collaborators) *Loop {
	if cfg.CacheBatchSize <= 0 {
		cfg.CacheBatchSize = 1
	}
	if c.Collective == nil {
		c.Collective = SingleProcess{}
	}
	if c.Renderer == nil {
		c.Renderer = NopRenderer{}
	}

	return &Loop{
		cfg:    cfg,
		data:   data,
		c:      c,
		losses: NewLossTracker(cfg.LossWindow),
		times:  NewTimestepScheduler(cfg.Seed, cfg.DebugEvery, cfg.InferEvery),
		runID:  uuid.New().String(),
	}
}

// Step returns the current global step counter.
func (l *Loop) Step() int { return l.step }

// Epoch returns the current epoch.
func (l *Loop) Epoch() int { return l.epoch }

// Run executes training from the current state until NumEpochs epochs are
// done. With resume set it first adopts the most recent checkpoint; a missing
// checkpoint is a fatal error, never a silent fresh start.
func (l *Loop) Run(ctx context.Context, resume bool) error {
	if resume {
		rec, err := l.c.Checkpoints.Resume()
		if err != nil {
			return err
		}
		if err := l.adopt(rec); err != nil {
			return fmt.Errorf("adopting checkpoint: %w", err)
		}
		slog.Info("resumed from checkpoint", "run_id", l.runID, "epoch", l.epoch, "step", l.step, "loss", rec.Loss)
	}

	if err := l.prepareSample(ctx); err != nil {
		return err
	}

	stepsPerEpoch := (l.data.Len() + l.cfg.CacheBatchSize - 1) / l.cfg.CacheBatchSize
	l.progress = NewProgress(os.Stderr, l.cfg.LogEvery)
	defer l.progress.Done()

	slog.Info("training", "run_id", l.runID, "epochs", l.cfg.NumEpochs, "start_epoch", l.epoch,
		"steps_per_epoch", stepsPerEpoch, "start_step", l.step)

	for epoch := l.epoch; epoch < l.cfg.NumEpochs; epoch++ {
		l.epoch = epoch
		for si := 0; si < stepsPerEpoch; si++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			l.step++
			if err := l.runStep(ctx, si); err != nil {
				return fmt.Errorf("step %d: %w", l.step, err)
			}
		}
	}
	return nil
}

// runStep executes one full training step for the si-th group of shards of
// the current epoch.
func (l *Loop) runStep(ctx context.Context, si int) error {
	tokens, latents, err := l.gather(si)
	if err != nil {
		return err
	}

	shape := latents.Shape()
	bsz, channels, height, width := shape[0], shape[1], shape[2], shape[3]

	patched, err := ml.Patchify(latents, l.cfg.PatchSize)
	if err != nil {
		return err
	}

	times := l.times.Times(l.step, bsz)

	res, err := l.c.Model.ForwardLoss(ctx, &Batch{TokenIDs: tokens, Latents: patched}, times)
	if err != nil {
		return err
	}

	// Gradient update strictly before any reporting or side effect
	if err := l.c.Model.Backward(ctx); err != nil {
		return err
	}
	if err := l.c.Optimizer.Step(); err != nil {
		return err
	}
	l.c.Scheduler.Step()
	l.c.Optimizer.ZeroGrad()

	l.losses.Record("text", res.TextLoss)
	l.losses.Record("diffusion", res.DiffusionLoss)

	avgs := l.losses.Averages()
	lr := l.c.Scheduler.LR()
	l.progress.Step(l.epoch, l.cfg.NumEpochs, l.step, avgs, lr)
	l.publish(avgs, lr)

	if l.c.Metrics != nil {
		text, _ := l.losses.Average("text")
		diffusion, _ := l.losses.Average("diffusion")
		if err := l.c.Metrics.RecordStep(l.runID, l.epoch, l.step, text, diffusion, lr); err != nil {
			return err
		}
	}

	if l.cfg.DebugEvery > 0 && l.step%l.cfg.DebugEvery == 0 {
		if err := l.c.Collective.Barrier(ctx); err != nil {
			return err
		}
		p := l.cfg.PatchSize
		frame := &DebugFrame{
			Epoch:       l.epoch,
			Step:        l.step,
			Latents:     patched,
			Diagnostics: res.Diagnostics,
			Unpatchify: func(t *tensor.Dense) (*tensor.Dense, error) {
				return ml.Unpatchify(t, p, bsz, channels, height, width)
			},
		}
		if err := l.c.Renderer.RenderDebug(ctx, frame); err != nil {
			return err
		}
	}

	if l.cfg.InferEvery > 0 && l.step%l.cfg.InferEvery == 0 {
		if err := l.c.Collective.Barrier(ctx); err != nil {
			return err
		}
	}

	if l.cfg.SaveEvery > 0 && l.step%l.cfg.SaveEvery == 0 {
		if err := l.c.Collective.Barrier(ctx); err != nil {
			return err
		}
		if err := l.save(res.Loss); err != nil {
			return err
		}
		slog.Debug("checkpoint saved", "epoch", l.epoch, "step", l.step, "loss", res.Loss)
	}

	return nil
}

// gather loads the si-th group of CacheBatchSize shards and flattens the
// (cache-batch, inner-batch) leading dimensions into one batch dimension.
func (l *Loop) gather(si int) ([][]int32, *tensor.Dense, error) {
	lo := si * l.cfg.CacheBatchSize
	hi := min(lo+l.cfg.CacheBatchSize, l.data.Len())

	var tokens [][]int32
	var data []float32
	var channels, height, width int
	for i := lo; i < hi; i++ {
		shard, err := l.data.Batch(i)
		if err != nil {
			return nil, nil, err
		}

		shape := shard.Latents.Shape()
		channels, height, width = shape[1], shape[2], shape[3]

		latents, err := ml.Float32s(shard.Latents)
		if err != nil {
			return nil, nil, err
		}
		data = append(data, latents...)
		tokens = append(tokens, shard.TokenIDs...)
	}

	bsz := len(tokens)
	if bsz == 0 {
		return nil, nil, fmt.Errorf("empty shard group %d", si)
	}
	return tokens, tensor.New(tensor.WithShape(bsz, channels, height, width), tensor.WithBacking(data)), nil
}

// prepareSample hands the renderer its fixed inference exemplar: the first
// cached sample blended half-and-half with seeded gaussian noise.
func (l *Loop) prepareSample(ctx context.Context) error {
	if l.data.Len() == 0 {
		return fmt.Errorf("cached dataset is empty")
	}

	shard, err := l.data.Batch(0)
	if err != nil {
		return err
	}
	if len(shard.TokenIDs) == 0 {
		return fmt.Errorf("shard 0 is empty")
	}

	shape := shard.Latents.Shape()
	n := shape[1] * shape[2] * shape[3]
	src, err := ml.Float32s(shard.Latents)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(l.cfg.Seed))
	blended := make([]float32, n)
	for i := range blended {
		blended[i] = 0.5*src[i] + 0.5*float32(rng.NormFloat64())
	}

	sample := &Sample{
		TokenIDs: shard.TokenIDs[0],
		Latents:  tensor.New(tensor.WithShape(1, shape[1], shape[2], shape[3]), tensor.WithBacking(blended)),
	}
	return l.c.Renderer.Prepare(ctx, sample)
}

func (l *Loop) publish(avgs []NamedAverage, lr float64) {
	if l.c.Status == nil {
		return
	}

	st := Status{RunID: l.runID, Epoch: l.epoch, Step: l.step, LR: lr}
	for _, a := range avgs {
		switch a.Name {
		case "text":
			st.TextLoss = a.Value
		case "diffusion":
			st.DiffusionLoss = a.Value
		}
	}
	l.c.Status.Update(st)
}

// save snapshots the full training state plus the last observed loss.
// Collaborator states are cloned so the snapshot cannot be mutated by later
// steps while it is being written.
func (l *Loop) save(loss float64) error {
	modelState, err := l.c.Model.State().Clone()
	if err != nil {
		return fmt.Errorf("snapshotting model state: %w", err)
	}
	optState, optScalars := l.c.Optimizer.State()
	opt, err := optState.Clone()
	if err != nil {
		return fmt.Errorf("snapshotting optimizer state: %w", err)
	}

	rec := &checkpoint.Record{
		RunID:        l.runID,
		Epoch:        l.epoch,
		Step:         l.step,
		Loss:         loss,
		Model:        modelState,
		OptState:     opt,
		OptScalars:   optScalars.Clone(),
		SchedScalars: l.c.Scheduler.State().Clone(),
	}
	return l.c.Checkpoints.Save(rec)
}

// adopt replaces the loop's state with a restored checkpoint.
func (l *Loop) adopt(rec *checkpoint.Record) error {
	if err := l.c.Model.LoadState(rec.Model); err != nil {
		return err
	}
	if err := l.c.Optimizer.LoadState(rec.OptState, rec.OptScalars); err != nil {
		return err
	}
	if err := l.c.Scheduler.LoadState(rec.SchedScalars); err != nil {
		return err
	}

	l.epoch = rec.Epoch
	l.step = rec.Step
	if rec.RunID != "" {
		l.runID = rec.RunID
	}
	return nil
}
