package fit

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

// StopMode selects whether the monitored metric should rise or fall.
type StopMode string

const (
	StopModeAuto StopMode = "auto" // max for accuracy-like metrics, min otherwise
	StopModeMin  StopMode = "min"
	StopModeMax  StopMode = "max"
)

// EarlyStopping stops training once the monitored metric has not improved
// for Patience consecutive epochs.
type EarlyStopping struct {
	Monitor  string
	Patience int
	MinDelta float64
	Mode     StopMode
	Baseline *float64 // the first value must beat this to count as an improvement
	Logger   *logrus.Entry

	maximize     bool
	best         float64
	wait         int
	stoppedEpoch int
	stopped      bool
}

// NewEarlyStopping returns a stopper monitoring metric with the given patience.
func NewEarlyStopping(metric string, patience int) (*EarlyStopping, error) {
	es := &EarlyStopping{Monitor: metric, Patience: patience, Mode: StopModeAuto}
	if err := es.Reset(); err != nil {
		return nil, err
	}
	return es, nil
}

// Reset clears the stopper's progress and resolves its mode.
func (es *EarlyStopping) Reset() error {
	if es.Patience < 0 {
		return fmt.Errorf("patience must be >= 0, got %d", es.Patience)
	}
	switch es.Mode {
	case StopModeMax:
		es.maximize = true
	case StopModeMin:
		es.maximize = false
	case StopModeAuto, "":
		es.maximize = strings.Contains(es.Monitor, "acc")
	default:
		return fmt.Errorf("unknown early-stopping mode %q; valid: auto, min, max", es.Mode)
	}
	es.MinDelta = math.Abs(es.MinDelta)
	es.wait = 0
	es.stopped = false
	es.stoppedEpoch = 0
	switch {
	case es.Baseline != nil:
		es.best = *es.Baseline
	case es.maximize:
		es.best = math.Inf(-1)
	default:
		es.best = math.Inf(1)
	}
	if es.Logger == nil {
		es.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return nil
}

func (es *EarlyStopping) improved(current float64) bool {
	if es.maximize {
		return current-es.MinDelta > es.best
	}
	return current+es.MinDelta < es.best
}

// OnEpochEnd updates the patience counter and requests a stop when it runs out.
// Epochs without the monitored metric are skipped.
func (es *EarlyStopping) OnEpochEnd(epoch int, metrics Metrics, state *RunState) error {
	current, ok := metrics.Lookup(es.Monitor)
	if !ok {
		es.Logger.Warnf("early stopping conditioned on %q which is not available; available metrics: %s",
			es.Monitor, strings.Join(metrics.Keys(), ","))
		return nil
	}
	if es.improved(current) {
		es.best = current
		es.wait = 0
		return nil
	}
	es.wait++
	if es.wait >= es.Patience {
		es.stopped = true
		es.stoppedEpoch = epoch
		if state != nil {
			state.StopTraining = true
		}
		es.Logger.WithField("epoch", epoch).Debugf("early stopping: no improvement in %s for %d epochs", es.Monitor, es.wait)
	}
	return nil
}

// Stopped reports whether the stopper requested a stop, and at which epoch.
func (es *EarlyStopping) Stopped() (bool, int) {
	return es.stopped, es.stoppedEpoch
}

// Best returns the best monitored value seen so far.
func (es *EarlyStopping) Best() float64 { return es.best }
