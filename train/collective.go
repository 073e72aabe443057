// collective.go - Barrier-Implementierungen
package train

import "context"

// SingleProcess is the Collective for a run without data parallelism; its
// barrier only observes cancellation.
type SingleProcess struct{}

func (SingleProcess) Barrier(ctx context.Context) error {
	return ctx.Err()
}

// NopRenderer drops all diagnostics.
type NopRenderer struct{}

func (NopRenderer) Prepare(ctx context.Context, _ *Sample) error { return ctx.Err() }

func (NopRenderer) RenderDebug(ctx context.Context, _ *DebugFrame) error { return ctx.Err() }
