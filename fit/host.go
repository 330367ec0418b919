package fit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// RunState is the mutable handle shared by every callback of one fit.
// Setting StopTraining asks the host to stop after the current epoch.
type RunState struct {
	StopTraining bool
}

// Callback is notified by the host after each completed epoch.
// Callbacks are invoked sequentially, in registration order. A returned
// error aborts the fit and is propagated by the host.
type Callback interface {
	OnEpochEnd(epoch int, metrics Metrics, state *RunState) error
}

// Dataset holds inputs X and targets Y, one sample per row.
type Dataset struct {
	X *mat.Dense
	Y *mat.Dense
}

// Rows returns the number of samples, or 0 for an empty dataset.
func (d Dataset) Rows() int {
	if d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// Empty reports whether the dataset holds no inputs.
func (d Dataset) Empty() bool {
	return d.X == nil
}

// FitOptions is everything a host needs to run one training loop.
// Validation is used only when ValidationSplit is zero. Logger, when set,
// carries the run's fields for the host's own diagnostics.
type FitOptions struct {
	Train           Dataset
	Validation      Dataset
	ValidationSplit float64
	BatchSize       int
	Epochs          int
	Shuffle         bool
	Callbacks       []Callback
	Logger          *logrus.Entry
}

// Serializer is the host's model-serialization capability: a structure
// description and a separate weights blob.
type Serializer interface {
	StructureJSON() ([]byte, error)
	WriteWeights(w io.Writer) error
}

// Model is a trainable model provided by a host framework.
//
// Fit must call every callback's OnEpochEnd once per completed epoch, stop
// after an epoch in which any callback set RunState.StopTraining, return the
// first callback error, and return ctx.Err() if the context is cancelled.
type Model interface {
	Serializer
	Fit(ctx context.Context, opts FitOptions) error
}
