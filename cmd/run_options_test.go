package cmd

import (
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/bestfit/fit"
)

// newOptionsCmd returns a command carrying the option flags, bound to flagOpts.
func newOptionsCmd(t *testing.T) *cobra.Command {
	t.Helper()
	saved := flagOpts
	t.Cleanup(func() { flagOpts = saved })
	c := &cobra.Command{Use: "test"}
	c.Flags().IntVar(&flagOpts.Epochs, "epochs", flagOpts.Epochs, "")
	c.Flags().IntVar(&flagOpts.Patience, "patience", flagOpts.Patience, "")
	c.Flags().StringVar(&flagOpts.SavePath, "save-path", flagOpts.SavePath, "")
	return c
}

func TestOptionFlags_CoverEveryRunFlag(t *testing.T) {
	for name := range optionFlags {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "flag %q is not defined on run", name)
	}
}

func TestResolveOptions_Layering(t *testing.T) {
	// GIVEN a config file, an environment override and an explicitly set flag
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run.yaml", []byte("epochs: 10\npatience: 2\nsave_path: from-file\n"), 0o644))
	t.Setenv("BESTFIT_PATIENCE", "4")
	c := newOptionsCmd(t)
	require.NoError(t, c.Flags().Set("epochs", "30"))

	// WHEN options are resolved
	opts, err := resolveOptions(fs, "run.yaml", c)

	// THEN flags beat the environment, which beats the file, which beats defaults
	require.NoError(t, err)
	assert.Equal(t, 30, opts.Epochs)
	assert.Equal(t, 4, opts.Patience)
	assert.Equal(t, "from-file", opts.SavePath)
	assert.Equal(t, 1000, opts.BatchSize)
}

func TestResolveOptions_UnsetFlagsDoNotOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run.yaml", []byte("epochs: 10\n"), 0o644))

	opts, err := resolveOptions(fs, "run.yaml", newOptionsCmd(t))

	require.NoError(t, err)
	assert.Equal(t, 10, opts.Epochs)
}

func TestResolveOptions_InvalidResult(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run.yaml", []byte("save_best: true\n"), 0o644))

	_, err := resolveOptions(fs, "run.yaml", nil)

	assert.Error(t, err)
}

func TestSyntheticData_Shapes(t *testing.T) {
	train, validation := syntheticData(10, 0, 4, 2)
	assert.Equal(t, 10, train.Rows())
	_, cols := train.Y.Dims()
	assert.Equal(t, 2, cols)
	assert.True(t, validation.Empty())
}

func TestWriteOutputs_NothingRequested(t *testing.T) {
	saved := []string{logOutPath, resultOut, metricsOut}
	t.Cleanup(func() { logOutPath, resultOut, metricsOut = saved[0], saved[1], saved[2] })
	logOutPath, resultOut, metricsOut = "", "", ""

	assert.NoError(t, writeOutputs(afero.NewMemMapFs(), nil, fit.RunLog{}, nil))
}

func TestWriteOutputs_YAMLResult(t *testing.T) {
	saved := []string{logOutPath, resultOut, metricsOut}
	t.Cleanup(func() { logOutPath, resultOut, metricsOut = saved[0], saved[1], saved[2] })
	logOutPath, resultOut, metricsOut = "", "result.yaml", ""
	fs := afero.NewMemMapFs()

	require.NoError(t, writeOutputs(fs, &fit.Result{RunID: "r1", RunBest: 0.8}, nil, nil))

	data, err := afero.ReadFile(fs, "result.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id: r1")
	assert.Contains(t, string(data), "run_best: 0.8")
}

func TestWriteOutputs_JSONLog_WithNaNMetric(t *testing.T) {
	saved := []string{logOutPath, resultOut, metricsOut}
	t.Cleanup(func() { logOutPath, resultOut, metricsOut = saved[0], saved[1], saved[2] })
	logOutPath, resultOut, metricsOut = "log.json", "", ""
	fs := afero.NewMemMapFs()
	runLog := fit.RunLog{{Epoch: 0, Metrics: fit.Metrics{"val_acc": 0.5, "loss": math.NaN()}}}

	require.NoError(t, writeOutputs(fs, nil, runLog, nil))

	got, err := fit.LoadRunLog(fs, "log.json")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Metrics["val_acc"])
}
