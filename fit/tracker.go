package fit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultMetric is the monitored metric when none is configured.
const DefaultMetric = "val_acc"

// DefaultProgressFormat renders metric values in progress lines.
const DefaultProgressFormat = "%1.10f"

// ErrMissingMetric is returned when an epoch's logs lack the monitored metric.
var ErrMissingMetric = errors.New("monitored metric missing from epoch logs")

// MissingMetricPolicy decides what the Tracker does with an epoch whose logs
// lack the monitored metric (or log it as NaN).
type MissingMetricPolicy string

const (
	// MissingMetricError aborts the run with ErrMissingMetric.
	MissingMetricError MissingMetricPolicy = "error"
	// MissingMetricFail treats the value as never improving and as failing
	// the sniff test once the sniff window has passed.
	MissingMetricFail MissingMetricPolicy = "fail"
)

var validMissingMetricPolicies = map[MissingMetricPolicy]bool{
	MissingMetricError: true,
	MissingMetricFail:  true,
	"":                 true, // empty defaults to error
}

// IsValidMissingMetricPolicy returns true if policy is a recognized policy name.
func IsValidMissingMetricPolicy(policy string) bool {
	return validMissingMetricPolicies[MissingMetricPolicy(policy)]
}

// SavePoint records the epoch and metric value of a persisted snapshot.
type SavePoint struct {
	Epoch  int     `yaml:"epoch" json:"epoch"`
	Metric float64 `yaml:"metric" json:"metric"`
}

// TrackerState is the Tracker's bookkeeping after the latest epoch.
// IsBest, IsNewBestSoFar, SavedThisEpoch and SnifftestFailed describe the
// latest epoch only; RunBest and BestSoFar never decrease.
type TrackerState struct {
	Epoch             int
	Current           *float64 // nil when the metric was missing
	RunBest           float64
	RunBestEpoch      int
	BestSoFar         float64
	PreviousBestSoFar float64
	IsBest            bool
	IsNewBestSoFar    bool
	SavedThisEpoch    bool
	SnifftestFailed   bool
	SaveCount         int
	LastSave          *SavePoint
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Metric             string
	BestSoFar          float64 // historical best carried over from prior runs
	SnifftestMaxEpoch  int
	SnifftestMinMetric float64
	SaveBest           bool
	Persister          Persister
	Model              Serializer
	ShowProgress       bool
	ProgressFormat     string
	Out                io.Writer
	MissingMetric      MissingMetricPolicy
	Instruments        *Instruments
	Logger             *logrus.Entry
}

// Tracker follows the monitored metric across epochs, keeps the run-best and
// best-so-far, persists new best-so-far models and fails runs that do not
// clear the sniff test. A Tracker belongs to exactly one run.
type Tracker struct {
	cfg   TrackerConfig
	state TrackerState
	log   RunLog
}

// NewTracker validates cfg, fills defaults and returns a Tracker seeded with
// cfg.BestSoFar.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Metric == "" {
		cfg.Metric = DefaultMetric
	}
	if cfg.ProgressFormat == "" {
		cfg.ProgressFormat = DefaultProgressFormat
	}
	if cfg.MissingMetric == "" {
		cfg.MissingMetric = MissingMetricError
	}
	if !IsValidMissingMetricPolicy(string(cfg.MissingMetric)) {
		return nil, fmt.Errorf("unknown missing-metric policy %q; valid: error, fail", cfg.MissingMetric)
	}
	if cfg.SaveBest && (cfg.Persister == nil || cfg.Model == nil) {
		return nil, fmt.Errorf("save_best requires a persister and a model")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		cfg: cfg,
		state: TrackerState{
			BestSoFar:         cfg.BestSoFar,
			PreviousBestSoFar: cfg.BestSoFar,
		},
		log: make(RunLog, 0),
	}, nil
}

// OnEpochEnd records the epoch and updates the tracker's state. It sets
// state.StopTraining when the sniff test fails and never clears it.
func (t *Tracker) OnEpochEnd(epoch int, metrics Metrics, state *RunState) error {
	t.log = append(t.log, EpochRecord{Epoch: epoch, Metrics: metrics.Clone()})

	s := &t.state
	s.Epoch = epoch
	s.Current = nil
	s.IsBest = false
	s.IsNewBestSoFar = false
	s.SavedThisEpoch = false
	s.SnifftestFailed = false

	value, ok := metrics.Lookup(t.cfg.Metric)
	if ok {
		s.Current = &value
	} else if t.cfg.MissingMetric == MissingMetricError {
		return fmt.Errorf("epoch %d: %w: %q", epoch, ErrMissingMetric, t.cfg.Metric)
	}

	pastSniffWindow := epoch >= t.cfg.SnifftestMaxEpoch
	s.SnifftestFailed = pastSniffWindow && (!ok || value <= t.cfg.SnifftestMinMetric)
	if s.SnifftestFailed && state != nil {
		state.StopTraining = true
	}

	if !s.SnifftestFailed && ok && value > s.RunBest {
		s.RunBest = value
		s.RunBestEpoch = epoch
		s.IsBest = true

		if s.RunBest > s.BestSoFar {
			s.PreviousBestSoFar = s.BestSoFar
			s.BestSoFar = s.RunBest
			s.IsNewBestSoFar = true

			// Nothing is saved until the run has cleared the sniff window.
			if pastSniffWindow && t.cfg.SaveBest {
				if err := t.cfg.Persister.Persist(t.cfg.Model); err != nil {
					return fmt.Errorf("epoch %d: saving best model: %w", epoch, err)
				}
				s.SavedThisEpoch = true
				s.SaveCount++
				s.LastSave = &SavePoint{Epoch: epoch, Metric: value}
			}
		}
	}

	t.report()
	return nil
}

func (t *Tracker) report() {
	s := t.state
	if t.cfg.Instruments != nil {
		t.cfg.Instruments.observe(s)
	}

	entry := t.cfg.Logger.WithFields(logrus.Fields{
		"epoch":       s.Epoch,
		"run_best":    s.RunBest,
		"best_so_far": s.BestSoFar,
	})
	switch {
	case s.SnifftestFailed:
		entry.Warnf("sniff test failed: %s=%s <= %s", t.cfg.Metric,
			t.formatValue(s.Current), t.format(t.cfg.SnifftestMinMetric))
	case s.SavedThisEpoch:
		entry.Infof("saved new best %s=%s", t.cfg.Metric, t.format(s.BestSoFar))
	default:
		entry.Debugf("epoch end %s=%s best=%v", t.cfg.Metric, t.formatValue(s.Current), s.IsBest)
	}

	if t.cfg.ShowProgress {
		fmt.Fprintln(t.cfg.Out, t.ProgressLine())
	}
}

// ProgressLine renders the latest epoch as
// "  e{epoch}: {metric}={value} {flags} bsf={bestSoFar} {msg}".
// flags is "* " for a run-best and "*!" for a new best-so-far.
func (t *Tracker) ProgressLine() string {
	s := t.state
	flags := "  "
	if s.IsBest {
		flags = "* "
	}
	if s.IsNewBestSoFar {
		flags = "*!"
	}
	msg := ""
	if s.SavedThisEpoch {
		msg = " Saved "
	}
	if s.SnifftestFailed {
		msg = " Snifftest failed "
	}
	return fmt.Sprintf("  e%d: %s=%s %s bsf=%s %s",
		s.Epoch, t.cfg.Metric, t.formatValue(s.Current), flags, t.format(s.BestSoFar), msg)
}

func (t *Tracker) format(v float64) string {
	return fmt.Sprintf(t.cfg.ProgressFormat, v)
}

func (t *Tracker) formatValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return t.format(*v)
}

// State returns a copy of the tracker's current state.
func (t *Tracker) State() TrackerState {
	s := t.state
	if s.Current != nil {
		v := *s.Current
		s.Current = &v
	}
	if s.LastSave != nil {
		sp := *s.LastSave
		s.LastSave = &sp
	}
	return s
}

// Log returns a copy of the epoch log recorded so far.
func (t *Tracker) Log() RunLog {
	out := make(RunLog, len(t.log))
	copy(out, t.log)
	return out
}

// Metric returns the name of the monitored metric.
func (t *Tracker) Metric() string { return t.cfg.Metric }

// validProgressFormat reports whether format renders a single float64 cleanly.
func validProgressFormat(format string) bool {
	out := fmt.Sprintf(format, 0.5)
	return strings.Count(format, "%") == 1 && !strings.Contains(out, "%!")
}
