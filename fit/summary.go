package fit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// LogSummary aggregates one metric across a RunLog.
type LogSummary struct {
	Metric    string
	Epochs    int // epochs in the log
	Observed  int // epochs that logged the metric
	Mean      float64
	StdDev    float64
	Min       float64
	Max       float64
	BestEpoch int // first epoch at which Max was logged; -1 if never observed
}

// Summarize computes statistics of metric over l.
// Safe for nil or empty logs (returns zero-value fields).
func Summarize(l RunLog, metric string) *LogSummary {
	summary := &LogSummary{Metric: metric, Epochs: len(l), BestEpoch: -1}
	epochs, values := l.Values(metric)
	summary.Observed = len(values)
	if len(values) == 0 {
		return summary
	}
	summary.Mean, summary.StdDev = stat.MeanStdDev(values, nil)
	if math.IsNaN(summary.StdDev) {
		summary.StdDev = 0 // single observation
	}
	summary.Min = floats.Min(values)
	summary.Max = floats.Max(values)
	summary.BestEpoch = epochs[floats.MaxIdx(values)]
	return summary
}

// Print writes the summary to w.
func (s *LogSummary) Print(w io.Writer) {
	fmt.Fprintf(w, "=== %s over %d epochs ===\n", s.Metric, s.Epochs)
	fmt.Fprintf(w, "Observed   : %d\n", s.Observed)
	if s.Observed == 0 {
		return
	}
	fmt.Fprintf(w, "Mean       : %.6f\n", s.Mean)
	fmt.Fprintf(w, "Std Dev    : %.6f\n", s.StdDev)
	fmt.Fprintf(w, "Min        : %.6f\n", s.Min)
	fmt.Fprintf(w, "Max        : %.6f (epoch %d)\n", s.Max, s.BestEpoch)
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// WriteRunLog writes l to path as JSON when the extension is .json, YAML otherwise.
func WriteRunLog(fs afero.Fs, path string, l RunLog) error {
	var (
		data []byte
		err  error
	)
	if isJSONPath(path) {
		data, err = json.MarshalIndent(l, "", "  ")
	} else {
		data, err = yaml.Marshal(l)
	}
	if err != nil {
		return fmt.Errorf("encoding run log: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing run log: %w", err)
	}
	return nil
}

// LoadRunLog reads a log written by WriteRunLog.
func LoadRunLog(fs afero.Fs, path string) (RunLog, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}
	var l RunLog
	if isJSONPath(path) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&l)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&l)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing run log: %w", err)
	}
	return l, nil
}
