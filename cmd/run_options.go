package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/bestfit/fit"
)

// optionFlags maps each run-option flag to the field it overrides.
var optionFlags = map[string]func(dst *fit.Options, src fit.Options){
	"metric":               func(d *fit.Options, s fit.Options) { d.Metric = s.Metric },
	"batch-size":           func(d *fit.Options, s fit.Options) { d.BatchSize = s.BatchSize },
	"epochs":               func(d *fit.Options, s fit.Options) { d.Epochs = s.Epochs },
	"patience":             func(d *fit.Options, s fit.Options) { d.Patience = s.Patience },
	"shuffle":              func(d *fit.Options, s fit.Options) { d.Shuffle = s.Shuffle },
	"validation-split":     func(d *fit.Options, s fit.Options) { d.ValidationSplit = s.ValidationSplit },
	"snifftest-max-epoch":  func(d *fit.Options, s fit.Options) { d.SnifftestMaxEpoch = s.SnifftestMaxEpoch },
	"snifftest-min-metric": func(d *fit.Options, s fit.Options) { d.SnifftestMinMetric = s.SnifftestMinMetric },
	"missing-metric":       func(d *fit.Options, s fit.Options) { d.MissingMetric = s.MissingMetric },
	"save-best":            func(d *fit.Options, s fit.Options) { d.SaveBest = s.SaveBest },
	"save-path":            func(d *fit.Options, s fit.Options) { d.SavePath = s.SavePath },
	"best-so-far":          func(d *fit.Options, s fit.Options) { d.BestSoFar = s.BestSoFar },
	"progress":             func(d *fit.Options, s fit.Options) { d.ShowProgress = s.ShowProgress },
	"progress-format":      func(d *fit.Options, s fit.Options) { d.ProgressFormat = s.ProgressFormat },
}

// resolveOptions layers defaults, the optional config file, BESTFIT_* environment
// variables and explicitly set flags, in that order, and validates the result.
func resolveOptions(fs afero.Fs, path string, cmd *cobra.Command) (fit.Options, error) {
	opts := fit.DefaultOptions()
	if path != "" {
		loaded, err := fit.LoadOptions(fs, path)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}
	if err := opts.ApplyEnv(); err != nil {
		return opts, err
	}
	if cmd != nil {
		for name, apply := range optionFlags {
			if cmd.Flags().Changed(name) {
				apply(&opts, flagOpts)
			}
		}
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// syntheticData builds zero-valued datasets of the requested shape. The
// replay host only checks shapes.
func syntheticData(trainRows, valRows, features, targets int) (fit.Dataset, fit.Dataset) {
	train := fit.Dataset{X: mat.NewDense(trainRows, features, nil), Y: mat.NewDense(trainRows, targets, nil)}
	var validation fit.Dataset
	if valRows > 0 {
		validation = fit.Dataset{X: mat.NewDense(valRows, features, nil), Y: mat.NewDense(valRows, targets, nil)}
	}
	return train, validation
}

func marshalFor(path string, v any) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.MarshalIndent(v, "", "  ")
	}
	return yaml.Marshal(v)
}

// writeOutputs writes whichever of the epoch log, result and metrics files
// were requested. Every requested file is attempted.
func writeOutputs(fs afero.Fs, result *fit.Result, runLog fit.RunLog, gatherer prometheus.Gatherer) error {
	var errs *multierror.Error
	if logOutPath != "" {
		if err := fit.WriteRunLog(fs, logOutPath, runLog); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if resultOut != "" && result != nil {
		data, err := marshalFor(resultOut, result)
		if err == nil {
			err = afero.WriteFile(fs, resultOut, data, 0o644)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("writing result: %w", err))
		}
	}
	if metricsOut != "" && gatherer != nil {
		if err := prometheus.WriteToTextfile(metricsOut, gatherer); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
