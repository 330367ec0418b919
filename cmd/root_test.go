package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/bestfit/fit"
)

const testTrace = `
name: cli-test
weights: {rows: 1, cols: 2, step: 1}
epochs:
  - {val_acc: 0.5, loss: 0.9}
  - {val_acc: 0.6, loss: 0.8}
  - {val_acc: 0.7, loss: 0.7}
`

// captureStdout runs fn and returns what it printed to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// withRunFlags sets the run command's package-level flag values for one test.
func withRunFlags(t *testing.T, dir string) {
	t.Helper()
	saved := []any{tracePath, logOutPath, resultOut, metricsOut, configPath}
	t.Cleanup(func() {
		tracePath = saved[0].(string)
		logOutPath = saved[1].(string)
		resultOut = saved[2].(string)
		metricsOut = saved[3].(string)
		configPath = saved[4].(string)
	})
	tracePath = filepath.Join(dir, "trace.yaml")
	require.NoError(t, os.WriteFile(tracePath, []byte(testTrace), 0o644))
	logOutPath = filepath.Join(dir, "log.yaml")
	resultOut = filepath.Join(dir, "result.json")
	metricsOut = filepath.Join(dir, "metrics.prom")
	configPath = ""
}

func TestRunCmd_WritesSummaryAndOutputs(t *testing.T) {
	// GIVEN a trace on disk and output paths
	dir := t.TempDir()
	withRunFlags(t, dir)

	// WHEN the run command executes with default options (two epochs)
	output := captureStdout(t, func() { runCmd.Run(runCmd, nil) })

	// THEN the progress lines and the result summary are printed
	assert.Contains(t, output, "  e0: val_acc=0.5000000000 *! bsf=0.5000000000 ")
	assert.Contains(t, output, "  e1: val_acc=0.6000000000 *! bsf=0.6000000000 ")
	assert.NotContains(t, output, "e2:")
	assert.Contains(t, output, "=== Best Fit Result ===")

	// AND the epoch log, result and metrics were written
	runLog, err := fit.LoadRunLog(afero.NewOsFs(), logOutPath)
	require.NoError(t, err)
	assert.Len(t, runLog, 2)
	result, err := os.ReadFile(resultOut)
	require.NoError(t, err)
	assert.Contains(t, string(result), `"run_best": 0.6`)
	metrics, err := os.ReadFile(metricsOut)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "bestfit_tracker_epochs_total")
}

func TestSummarizeCmd_PrintsStatistics(t *testing.T) {
	// GIVEN a saved epoch log
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, fit.WriteRunLog(afero.NewOsFs(), path, fit.RunLog{
		{Epoch: 0, Metrics: fit.Metrics{"val_acc": 0.5}},
		{Epoch: 1, Metrics: fit.Metrics{"val_acc": 0.7}},
	}))
	oldPath, oldMetric := summaryLogPath, summaryMetric
	t.Cleanup(func() { summaryLogPath, summaryMetric = oldPath, oldMetric })
	summaryLogPath, summaryMetric = path, "val_acc"

	// WHEN summarized
	output := captureStdout(t, func() { summarizeCmd.Run(summarizeCmd, nil) })

	// THEN the statistics are printed
	assert.Contains(t, output, "val_acc over 2 epochs")
	assert.Contains(t, output, "Mean       : 0.600000")
	assert.Contains(t, output, "0.700000 (epoch 1)")
}
