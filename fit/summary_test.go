package fit

import (
	"bytes"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog() RunLog {
	return RunLog{
		{Epoch: 0, Metrics: Metrics{"val_acc": 0.5, "loss": 0.9}},
		{Epoch: 1, Metrics: Metrics{"val_acc": 0.7, "loss": 0.6}},
		{Epoch: 2, Metrics: Metrics{"loss": 0.5}},
		{Epoch: 3, Metrics: Metrics{"val_acc": 0.6, "loss": 0.4}},
	}
}

func TestSummarize_EmptyLog_ZeroValues(t *testing.T) {
	// GIVEN an empty log
	// WHEN summarized
	s := Summarize(nil, "val_acc")

	// THEN nothing was observed
	assert.Equal(t, 0, s.Epochs)
	assert.Equal(t, 0, s.Observed)
	assert.Equal(t, -1, s.BestEpoch)
}

func TestSummarize_SkipsEpochsWithoutMetric(t *testing.T) {
	s := Summarize(sampleLog(), "val_acc")

	assert.Equal(t, 4, s.Epochs)
	assert.Equal(t, 3, s.Observed)
	assert.InDelta(t, 0.6, s.Mean, 1e-12)
	assert.InDelta(t, 0.1, s.StdDev, 1e-12)
	assert.Equal(t, 0.5, s.Min)
	assert.Equal(t, 0.7, s.Max)
	assert.Equal(t, 1, s.BestEpoch)
}

func TestSummarize_SingleObservation_ZeroStdDev(t *testing.T) {
	s := Summarize(RunLog{{Epoch: 0, Metrics: Metrics{"val_acc": 0.4}}}, "val_acc")
	assert.Equal(t, 0.0, s.StdDev)
	assert.False(t, math.IsNaN(s.Mean))
}

func TestLogSummary_Print(t *testing.T) {
	var out bytes.Buffer
	Summarize(sampleLog(), "val_acc").Print(&out)
	assert.Contains(t, out.String(), "val_acc over 4 epochs")
	assert.Contains(t, out.String(), "0.700000 (epoch 1)")
}

func TestRunLog_WriteAndLoad(t *testing.T) {
	for _, path := range []string{"log.yaml", "log.json"} {
		t.Run(path, func(t *testing.T) {
			// GIVEN a log written to disk
			fs := afero.NewMemMapFs()
			require.NoError(t, WriteRunLog(fs, path, sampleLog()))

			// WHEN it is read back
			got, err := LoadRunLog(fs, path)

			// THEN the records survive in order
			require.NoError(t, err)
			assert.Equal(t, sampleLog(), got)
		})
	}
}

func TestRunLog_JSON_NonFiniteValuesReadBackAsMissing(t *testing.T) {
	// GIVEN a log holding NaN and +Inf values
	fs := afero.NewMemMapFs()
	l := RunLog{
		{Epoch: 0, Metrics: Metrics{"val_acc": 0.5, "loss": math.NaN()}},
		{Epoch: 1, Metrics: Metrics{"val_acc": math.Inf(1)}},
	}

	// WHEN it is written as JSON and read back
	require.NoError(t, WriteRunLog(fs, "log.json", l))
	got, err := LoadRunLog(fs, "log.json")

	// THEN finite values survive and non-finite ones are kept as missing
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.5, got[0].Metrics["val_acc"])
	assert.Contains(t, got[0].Metrics, "loss")
	_, ok := got[0].Metrics.Lookup("loss")
	assert.False(t, ok)
	_, ok = got[1].Metrics.Lookup("val_acc")
	assert.False(t, ok)

	raw, err := afero.ReadFile(fs, "log.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"loss": null`)
}

func TestMetrics_Lookup_InfIsMissing(t *testing.T) {
	_, ok := Metrics{"val_acc": math.Inf(1)}.Lookup("val_acc")
	assert.False(t, ok)
}

func TestLoadRunLog_UnknownField_Rejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "log.yaml", []byte("- epoch: 0\n  metricz: {}\n"), 0o644))
	_, err := LoadRunLog(fs, "log.yaml")
	assert.Error(t, err)
}
