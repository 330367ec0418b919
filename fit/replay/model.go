package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/bestfit/fit"
)

const validationPrefix = "val_"

// FitStats describes how the last Fit partitioned its data.
type FitStats struct {
	TrainRows      int
	ValidationRows int
	Batches        int // per epoch
	Shuffle        bool
	EpochsRun      int
}

// Model replays a Trace as if it were training. It implements fit.Model.
type Model struct {
	trace   *Trace
	weights *mat.Dense
	last    FitStats
}

// NewModel validates trace and returns a Model with its initial weights.
func NewModel(trace *Trace) (*Model, error) {
	if err := trace.Validate(); err != nil {
		return nil, err
	}
	m := &Model{trace: trace}
	m.resetWeights()
	return m, nil
}

func (m *Model) resetWeights() {
	ws := m.trace.Weights
	var data []float64
	if len(ws.Data) > 0 {
		data = make([]float64, len(ws.Data))
		copy(data, ws.Data)
	}
	m.weights = mat.NewDense(ws.Rows, ws.Cols, data)
}

// Weights returns a copy of the current weight matrix.
func (m *Model) Weights() *mat.Dense {
	return mat.DenseCopyOf(m.weights)
}

// LastFit returns the data partitioning of the most recent Fit.
func (m *Model) LastFit() FitStats { return m.last }

// StructureJSON describes the model as JSON.
func (m *Model) StructureJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":      m.trace.Name,
		"structure": m.trace.Structure,
		"weights":   []int{m.trace.Weights.Rows, m.trace.Weights.Cols},
	})
}

// WriteWeights writes the weight matrix in gonum's binary encoding.
func (m *Model) WriteWeights(w io.Writer) error {
	_, err := m.weights.MarshalBinaryTo(w)
	return err
}

func checkShapes(name string, d fit.Dataset) error {
	if d.X == nil || d.Y == nil {
		return fmt.Errorf("%s data: inputs and targets are required", name)
	}
	xr, _ := d.X.Dims()
	yr, _ := d.Y.Dims()
	if xr != yr {
		return fmt.Errorf("%s data: %d input rows but %d target rows", name, xr, yr)
	}
	return nil
}

func (m *Model) partition(opts fit.FitOptions) (FitStats, bool, error) {
	var stats FitStats
	if err := checkShapes("training", opts.Train); err != nil {
		return stats, false, err
	}
	rows := opts.Train.Rows()
	stats.TrainRows = rows
	stats.Shuffle = opts.Shuffle

	hasValidation := false
	switch {
	case opts.ValidationSplit != 0:
		if opts.ValidationSplit < 0 || opts.ValidationSplit >= 1 {
			return stats, false, fmt.Errorf("validation split must be in [0, 1), got %v", opts.ValidationSplit)
		}
		splitAt := int(float64(rows) * (1 - opts.ValidationSplit))
		if splitAt == 0 || splitAt == rows {
			return stats, false, fmt.Errorf("validation split %v of %d rows leaves an empty partition", opts.ValidationSplit, rows)
		}
		stats.TrainRows, stats.ValidationRows = splitAt, rows-splitAt
		hasValidation = true
	case !opts.Validation.Empty():
		if err := checkShapes("validation", opts.Validation); err != nil {
			return stats, false, err
		}
		_, tc := opts.Train.X.Dims()
		_, vc := opts.Validation.X.Dims()
		if tc != vc {
			return stats, false, fmt.Errorf("validation data: %d input columns, training has %d", vc, tc)
		}
		stats.ValidationRows = opts.Validation.Rows()
		hasValidation = true
	}

	if opts.BatchSize <= 0 {
		return stats, false, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	stats.Batches = (stats.TrainRows + opts.BatchSize - 1) / opts.BatchSize
	return stats, hasValidation, nil
}

// Fit replays min(opts.Epochs, len(trace.Epochs)) epochs. Without validation
// data the trace's val_* metrics are not logged.
func (m *Model) Fit(ctx context.Context, opts fit.FitOptions) error {
	stats, hasValidation, err := m.partition(opts)
	if err != nil {
		return err
	}
	m.last = stats

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	epochs := opts.Epochs
	if epochs > len(m.trace.Epochs) {
		log.Warnf("trace %q records %d epochs; replaying %d of the %d requested",
			m.trace.Name, len(m.trace.Epochs), len(m.trace.Epochs), epochs)
		epochs = len(m.trace.Epochs)
	}
	if !hasValidation {
		log.Warnf("no validation data; %s* metrics will not be logged", validationPrefix)
	}

	state := &fit.RunState{}
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.step()
		logs := m.epochLogs(epoch, hasValidation)
		for _, cb := range opts.Callbacks {
			if err := cb.OnEpochEnd(epoch, logs, state); err != nil {
				return err
			}
		}
		m.last.EpochsRun = epoch + 1
		if state.StopTraining {
			log.Debugf("stop requested after epoch %d", epoch)
			break
		}
	}
	return nil
}

func (m *Model) step() {
	step := m.trace.Weights.Step
	if step == 0 {
		return
	}
	m.weights.Apply(func(_, _ int, v float64) float64 { return v + step }, m.weights)
}

func (m *Model) epochLogs(epoch int, hasValidation bool) fit.Metrics {
	logs := m.trace.Epochs[epoch].Clone()
	if !hasValidation {
		for k := range logs {
			if strings.HasPrefix(k, validationPrefix) {
				delete(logs, k)
			}
		}
	}
	return logs
}
