// types.go - Vertraege zwischen Trainingsschleife und externen Mitspielern
package train

import (
	"context"

	"github.com/pdevine/tensor"

	"github.com/latentflow/latentflow/dataset"
	"github.com/latentflow/latentflow/ml"
)

// Batch is one flattened training step input: token rows paired with the
// patchified latent sequence, one row per sample.
type Batch struct {
	TokenIDs [][]int32
	Latents  *tensor.Dense // [B, S, C*p*p]
}

// Diagnostics carries the auxiliary tensors a forward pass produces. They
// feed the debug renderer only and never influence the optimization step.
type Diagnostics struct {
	DenoisedTokens [][]int32
	Noise          *tensor.Dense
	TargetFlow     *tensor.Dense
	PredictedFlow  *tensor.Dense
	NoisedImage    *tensor.Dense
}

// LossResult is the named result bundle of a forward-and-loss invocation,
// replacing the positional tuple the model call would otherwise return.
type LossResult struct {
	Loss          float64
	TextLoss      float64
	DiffusionLoss float64
	Diagnostics   *Diagnostics
}

// Model is the external generative model. Forward-and-loss, backward and
// state access are all the loop needs.
type Model interface {
	ForwardLoss(ctx context.Context, batch *Batch, times []float32) (*LossResult, error)
	Backward(ctx context.Context) error
	State() ml.StateDict
	LoadState(ml.StateDict) error
}

// Optimizer advances model parameters after a backward pass.
type Optimizer interface {
	Step() error
	ZeroGrad()
	State() (ml.StateDict, ml.Scalars)
	LoadState(ml.StateDict, ml.Scalars) error
}

// LRScheduler adjusts the learning rate once per step.
type LRScheduler interface {
	Step()
	LR() float64
	State() ml.Scalars
	LoadState(ml.Scalars) error
}

// Collective is the distributed runtime boundary. The loop only ever asks for
// a barrier before shard-crossing side effects; gradient synchronization
// happens inside the external runtime.
type Collective interface {
	Barrier(ctx context.Context) error
}

// Sample is the fixed inference exemplar handed to the renderer once at
// startup: the first cached sample with seeded noise blended in.
type Sample struct {
	TokenIDs []int32
	Latents  *tensor.Dense // [1, C, h, w]
}

// DebugFrame hands one step's diagnostics to the renderer together with an
// inverse-patchify closure bound to this step's shape parameters.
type DebugFrame struct {
	Epoch       int
	Step        int
	Latents     *tensor.Dense // patchified, as seen by the model
	Diagnostics *Diagnostics
	Unpatchify  func(*tensor.Dense) (*tensor.Dense, error)
}

// Renderer visualizes training state. Implementations live outside the core;
// NopRenderer is used when no renderer is attached.
type Renderer interface {
	Prepare(ctx context.Context, sample *Sample) error
	RenderDebug(ctx context.Context, frame *DebugFrame) error
}

// Dataset is the read-only cached-shard view the loop consumes,
// satisfied by *dataset.Cached.
type Dataset interface {
	Len() int
	Batch(i int) (*dataset.Shard, error)
}
