// progress.go - Live-Fortschrittsanzeige pro Trainingsschritt
package train

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Progress reports per-step training progress. On a terminal it renders a
// single rewritten line; otherwise it logs at a fixed step interval to keep
// non-interactive logs readable.
type Progress struct {
	out      *os.File
	tty      bool
	logEvery int
}

// NewProgress returns a reporter writing to out.
func NewProgress(out *os.File, logEvery int) *Progress {
	if logEvery <= 0 {
		logEvery = 10
	}
	return &Progress{
		out:      out,
		tty:      term.IsTerminal(int(out.Fd())),
		logEvery: logEvery,
	}
}

// Step reports one completed step with the current moving averages and
// learning rate.
func (p *Progress) Step(epoch, numEpochs, step int, avgs []NamedAverage, lr float64) {
	if p.tty {
		var b strings.Builder
		fmt.Fprintf(&b, "\repoch %d/%d step %d", epoch+1, numEpochs, step)
		for _, a := range avgs {
			fmt.Fprintf(&b, " avg_%s_loss=%.4f", a.Name, a.Value)
		}
		fmt.Fprintf(&b, " lr=%.6f", lr)
		fmt.Fprint(p.out, b.String())
		return
	}

	if step%p.logEvery != 0 {
		return
	}
	args := []any{"epoch", epoch + 1, "step", step, "lr", lr}
	for _, a := range avgs {
		args = append(args, "avg_"+a.Name+"_loss", a.Value)
	}
	slog.Info("training", args...)
}

// Done terminates the progress line.
func (p *Progress) Done() {
	if p.tty {
		fmt.Fprintln(p.out)
	}
}
