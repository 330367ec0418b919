package fit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable that overrides Options.
const EnvPrefix = "BESTFIT_"

// Options are the serialisable knobs of one FindBestFit run.
// Loaded from YAML via LoadOptions, then overlaid from the environment via ApplyEnv.
type Options struct {
	Metric          string  `yaml:"metric" env:"METRIC" validate:"required"`
	BatchSize       int     `yaml:"batch_size" env:"BATCH_SIZE" validate:"gte=1"`
	Epochs          int     `yaml:"epochs" env:"EPOCHS" validate:"gte=1"`
	Patience        int     `yaml:"patience" env:"PATIENCE" validate:"gte=0"`
	Shuffle         bool    `yaml:"shuffle" env:"SHUFFLE"`
	ValidationSplit float64 `yaml:"validation_split" env:"VALIDATION_SPLIT" validate:"gte=0,lt=1"` // 0 = use the explicit validation set

	SnifftestMaxEpoch  int     `yaml:"snifftest_max_epoch" env:"SNIFFTEST_MAX_EPOCH" validate:"gte=0"`
	SnifftestMinMetric float64 `yaml:"snifftest_min_metric" env:"SNIFFTEST_MIN_METRIC"`

	SaveBest  bool    `yaml:"save_best" env:"SAVE_BEST"`
	SavePath  string  `yaml:"save_path" env:"SAVE_PATH"` // without extension; .json and .hdf5 are appended
	BestSoFar float64 `yaml:"best_so_far" env:"BEST_SO_FAR"`

	ShowProgress   bool   `yaml:"show_progress" env:"SHOW_PROGRESS"`
	ProgressFormat string `yaml:"progress_format" env:"PROGRESS_FORMAT"`
	MissingMetric  string `yaml:"missing_metric" env:"MISSING_METRIC" validate:"omitempty,oneof=error fail"`
}

// DefaultOptions returns the defaults of an unconfigured run.
func DefaultOptions() Options {
	return Options{
		Metric:             DefaultMetric,
		BatchSize:          1000,
		Epochs:             2,
		Patience:           5,
		SnifftestMinMetric: 0,
		ShowProgress:       true,
		ProgressFormat:     DefaultProgressFormat,
		MissingMetric:      string(MissingMetricError),
	}
}

// LoadOptions reads a YAML options file over DefaultOptions.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadOptions(fs afero.Fs, path string) (Options, error) {
	opts := DefaultOptions()
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := opts.decode(data); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o *Options) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing options: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from BESTFIT_* environment variables that are set.
func (o *Options) ApplyEnv() error {
	if err := env.Parse(o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field and returns all violations at once.
func (o Options) Validate() error {
	var result *multierror.Error
	if err := validate.Struct(o); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result = multierror.Append(result,
					fmt.Errorf("%s: violates %q (got %v)", fe.Field(), fieldConstraint(fe), fe.Value()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}
	if o.SaveBest && o.SavePath == "" {
		result = multierror.Append(result, fmt.Errorf("save_path: required when save_best is set"))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"best_so_far", o.BestSoFar},
		{"snifftest_min_metric", o.SnifftestMinMetric},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			result = multierror.Append(result, fmt.Errorf("%s: must be finite (got %v)", f.name, f.value))
		}
	}
	if o.ShowProgress && o.ProgressFormat != "" && !validProgressFormat(o.ProgressFormat) {
		result = multierror.Append(result,
			fmt.Errorf("progress_format: %q must hold exactly one float verb, e.g. %%1.10f", o.ProgressFormat))
	}
	return result.ErrorOrNil()
}

func fieldConstraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
