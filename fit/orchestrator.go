package fit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrNoModel is returned when FindBestFit is called without a model.
var ErrNoModel = errors.New("no model to fit")

// Config is one FindBestFit invocation: the model, its data, and the run options.
type Config struct {
	Model      Model
	Train      Dataset
	Validation Dataset // ignored when Options.ValidationSplit is non-zero
	Options    Options

	Fs         afero.Fs              // where snapshots are written; defaults to the OS filesystem
	Out        io.Writer             // progress lines; defaults to stdout
	Registerer prometheus.Registerer // optional; tracker metrics are registered here
	Logger     *logrus.Entry
}

// Result summarises a finished run.
type Result struct {
	RunID           string   `yaml:"run_id" json:"run_id"`
	Metric          string   `yaml:"metric" json:"metric"`
	SnifftestFailed bool     `yaml:"snifftest_failed" json:"snifftest_failed"`
	IsBest          bool     `yaml:"is_best" json:"is_best"` // the final epoch was a run-best
	Saved           bool     `yaml:"saved" json:"saved"`     // the final epoch was persisted
	SaveCount       int      `yaml:"save_count" json:"save_count"`
	SavedAtEpoch    *int     `yaml:"saved_at_epoch,omitempty" json:"saved_at_epoch,omitempty"`
	SavedAtMetric   *float64 `yaml:"saved_at_metric,omitempty" json:"saved_at_metric,omitempty"`
	BestSoFar       float64  `yaml:"best_so_far" json:"best_so_far"`
	RunBest         float64  `yaml:"run_best" json:"run_best"`
	RunBestEpoch    int      `yaml:"run_best_epoch" json:"run_best_epoch"`
	EpochsRun       int      `yaml:"epochs_run" json:"epochs_run"`
	StoppedEarly    bool     `yaml:"stopped_early" json:"stopped_early"`
	StoppedEpoch    *int     `yaml:"stopped_epoch,omitempty" json:"stopped_epoch,omitempty"`
}

// FindBestFit performs exactly one training run of cfg.Model with a fresh
// Tracker and EarlyStopping monitor attached, and returns the final tracker
// state with the full epoch log. Errors from the host or from persistence are
// returned together with whatever was logged before the failure.
func FindBestFit(ctx context.Context, cfg Config) (*Result, RunLog, error) {
	if cfg.Model == nil {
		return nil, nil, ErrNoModel
	}
	opts := cfg.Options
	if err := opts.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid options: %w", err)
	}

	runID := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{"run": runID, "metric": opts.Metric})

	stopper, err := NewEarlyStopping(opts.Metric, opts.Patience)
	if err != nil {
		return nil, nil, err
	}
	stopper.Logger = logger

	var persister Persister
	if opts.SaveBest {
		persister = NewFilePersister(cfg.Fs, opts.SavePath)
	}
	var instruments *Instruments
	if cfg.Registerer != nil {
		instruments = NewInstruments(cfg.Registerer, opts.Metric)
	}
	tracker, err := NewTracker(TrackerConfig{
		Metric:             opts.Metric,
		BestSoFar:          opts.BestSoFar,
		SnifftestMaxEpoch:  opts.SnifftestMaxEpoch,
		SnifftestMinMetric: opts.SnifftestMinMetric,
		SaveBest:           opts.SaveBest,
		Persister:          persister,
		Model:              cfg.Model,
		ShowProgress:       opts.ShowProgress,
		ProgressFormat:     opts.ProgressFormat,
		Out:                cfg.Out,
		MissingMetric:      MissingMetricPolicy(opts.MissingMetric),
		Instruments:        instruments,
		Logger:             logger,
	})
	if err != nil {
		return nil, nil, err
	}

	fitOpts := FitOptions{
		Train:     cfg.Train,
		BatchSize: opts.BatchSize,
		Epochs:    opts.Epochs,
		Shuffle:   opts.Shuffle,
		Callbacks: []Callback{tracker, stopper},
		Logger:    logger,
	}
	if opts.ValidationSplit == 0 {
		fitOpts.Validation = cfg.Validation
	} else {
		fitOpts.ValidationSplit = opts.ValidationSplit
	}

	logger.Infof("starting run: epochs=%d batch_size=%d patience=%d snifftest=(epoch>=%d, min=%v) save_best=%v",
		opts.Epochs, opts.BatchSize, opts.Patience, opts.SnifftestMaxEpoch, opts.SnifftestMinMetric, opts.SaveBest)

	fitErr := cfg.Model.Fit(ctx, fitOpts)
	result := newResult(runID, tracker, stopper)
	if fitErr != nil {
		return result, tracker.Log(), fmt.Errorf("run %s: %w", runID, fitErr)
	}

	logger.WithFields(logrus.Fields{
		"epochs":      result.EpochsRun,
		"run_best":    result.RunBest,
		"best_so_far": result.BestSoFar,
		"saves":       result.SaveCount,
	}).Info("run complete")
	return result, tracker.Log(), nil
}

func newResult(runID string, tracker *Tracker, stopper *EarlyStopping) *Result {
	s := tracker.State()
	r := &Result{
		RunID:           runID,
		Metric:          tracker.Metric(),
		SnifftestFailed: s.SnifftestFailed,
		IsBest:          s.IsBest,
		Saved:           s.SavedThisEpoch,
		SaveCount:       s.SaveCount,
		BestSoFar:       s.BestSoFar,
		RunBest:         s.RunBest,
		RunBestEpoch:    s.RunBestEpoch,
		EpochsRun:       len(tracker.log),
	}
	if s.LastSave != nil {
		epoch, metric := s.LastSave.Epoch, s.LastSave.Metric
		r.SavedAtEpoch = &epoch
		r.SavedAtMetric = &metric
	}
	if stopped, epoch := stopper.Stopped(); stopped {
		r.StoppedEarly = true
		r.StoppedEpoch = &epoch
	}
	return r
}

// Print writes a human-readable summary of the result to w.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Best Fit Result ===")
	fmt.Fprintf(w, "Run ID               : %s\n", r.RunID)
	fmt.Fprintf(w, "Epochs Run           : %d\n", r.EpochsRun)
	fmt.Fprintf(w, "Run Best %-12s: %.6f (epoch %d)\n", r.Metric, r.RunBest, r.RunBestEpoch)
	fmt.Fprintf(w, "Best So Far          : %.6f\n", r.BestSoFar)
	fmt.Fprintf(w, "Snifftest Failed     : %v\n", r.SnifftestFailed)
	if r.StoppedEpoch != nil {
		fmt.Fprintf(w, "Early Stopped        : epoch %d\n", *r.StoppedEpoch)
	}
	if r.SavedAtEpoch != nil {
		fmt.Fprintf(w, "Last Save            : epoch %d (%.6f), %d total\n", *r.SavedAtEpoch, *r.SavedAtMetric, r.SaveCount)
	} else {
		fmt.Fprintln(w, "Last Save            : none")
	}
}
