// Package replay provides a host training framework that replays a recorded
// per-epoch metric trace through the fit callback protocol.
//
// A trace stands in for a real training engine: it supplies the metrics each
// epoch would have logged, a structure description, and a small weight matrix
// that changes deterministically every epoch so persisted snapshots can be
// told apart.
package replay

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/bestfit/fit"
)

// Trace is a recorded training run.
type Trace struct {
	Name      string         `yaml:"name"`
	Structure map[string]any `yaml:"structure,omitempty"`
	Weights   WeightSpec     `yaml:"weights,omitempty"`
	Epochs    []fit.Metrics  `yaml:"epochs"`
}

// WeightSpec describes the replayed weight matrix. Data is row-major and may
// be empty (zeros). Step is added to every weight after each epoch.
type WeightSpec struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []float64 `yaml:"data,omitempty"`
	Step float64   `yaml:"step"`
}

// LoadTrace reads and parses a YAML trace file.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return ParseTrace(data)
}

// ParseTrace parses a YAML trace. Uses strict parsing: unrecognized keys are rejected.
func ParseTrace(data []byte) (*Trace, error) {
	var t Trace
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&t); err != nil {
		return nil, fmt.Errorf("parsing trace: %w", err)
	}
	if t.Weights.Rows == 0 && t.Weights.Cols == 0 && len(t.Weights.Data) == 0 {
		t.Weights.Rows, t.Weights.Cols = 1, 1
	}
	return &t, nil
}

// Validate checks that the trace can be replayed.
func (t *Trace) Validate() error {
	if len(t.Epochs) == 0 {
		return fmt.Errorf("trace %q has no epochs", t.Name)
	}
	if t.Weights.Rows <= 0 || t.Weights.Cols <= 0 {
		return fmt.Errorf("weights: rows and cols must be positive, got %dx%d", t.Weights.Rows, t.Weights.Cols)
	}
	if n := len(t.Weights.Data); n != 0 && n != t.Weights.Rows*t.Weights.Cols {
		return fmt.Errorf("weights: %d values do not fill a %dx%d matrix", n, t.Weights.Rows, t.Weights.Cols)
	}
	if math.IsNaN(t.Weights.Step) || math.IsInf(t.Weights.Step, 0) {
		return fmt.Errorf("weights: step must be finite, got %v", t.Weights.Step)
	}
	if err := checkStructureKeys("structure", t.Structure); err != nil {
		return err
	}
	for i, m := range t.Epochs {
		if len(m) == 0 {
			return fmt.Errorf("epoch[%d]: no metrics", i)
		}
	}
	return nil
}

// checkStructureKeys rejects mappings that cannot be written as JSON objects.
// YAML decodes a mapping with any non-string key as map[any]any.
func checkStructureKeys(path string, v any) error {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if err := checkStructureKeys(path+"."+k, child); err != nil {
				return err
			}
		}
	case map[any]any:
		for k, child := range node {
			key, ok := k.(string)
			if !ok {
				return fmt.Errorf("%s: key %v (%T) is not a string", path, k, k)
			}
			if err := checkStructureKeys(path+"."+key, child); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range node {
			if err := checkStructureKeys(fmt.Sprintf("%s[%d]", path, i), child); err != nil {
				return err
			}
		}
	}
	return nil
}
