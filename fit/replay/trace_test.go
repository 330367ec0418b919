package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `
name: mnist-mlp
structure:
  class_name: Sequential
  layers: [dense_128, relu, dense_10]
weights:
  rows: 2
  cols: 3
  data: [1, 2, 3, 4, 5, 6]
  step: 0.5
epochs:
  - {val_acc: 0.5, acc: 0.6, loss: 0.9}
  - {val_acc: 0.62, acc: 0.7, loss: 0.7}
  - {val_acc: .nan, acc: 0.75, loss: 0.6}
`

func TestParseTrace_Sample(t *testing.T) {
	// GIVEN a well-formed trace
	// WHEN parsed
	trace, err := ParseTrace([]byte(sampleTrace))

	// THEN every section is decoded
	require.NoError(t, err)
	assert.Equal(t, "mnist-mlp", trace.Name)
	assert.Equal(t, "Sequential", trace.Structure["class_name"])
	assert.Equal(t, 2, trace.Weights.Rows)
	assert.Equal(t, 3, trace.Weights.Cols)
	assert.Equal(t, 0.5, trace.Weights.Step)
	require.Len(t, trace.Epochs, 3)
	assert.Equal(t, 0.62, trace.Epochs[1]["val_acc"])
	_, ok := trace.Epochs[2].Lookup("val_acc")
	assert.False(t, ok, "NaN is reported as missing")
	assert.NoError(t, trace.Validate())
}

func TestParseTrace_DefaultWeights(t *testing.T) {
	trace, err := ParseTrace([]byte("name: x\nepochs:\n  - {val_acc: 0.1}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, trace.Weights.Rows)
	assert.Equal(t, 1, trace.Weights.Cols)
	assert.NoError(t, trace.Validate())
}

func TestParseTrace_UnknownKey_Rejected(t *testing.T) {
	_, err := ParseTrace([]byte("name: x\nepoch:\n  - {val_acc: 0.1}\n"))
	assert.Error(t, err)
}

func TestTrace_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no epochs", "name: x\n"},
		{"data does not fill matrix", "name: x\nweights: {rows: 2, cols: 2, data: [1, 2, 3]}\nepochs: [{val_acc: 0.1}]\n"},
		{"negative rows", "name: x\nweights: {rows: -1, cols: 2}\nepochs: [{val_acc: 0.1}]\n"},
		{"empty epoch", "name: x\nepochs: [{}]\n"},
		{"non-string structure key", "name: x\nstructure: {layers: [{1: dense}]}\nepochs: [{val_acc: 0.1}]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trace, err := ParseTrace([]byte(tc.yaml))
			require.NoError(t, err)
			assert.Error(t, trace.Validate())
		})
	}
}

func TestTrace_Validate_StructureRendersAsJSON(t *testing.T) {
	// GIVEN a nested structure with only string keys
	trace, err := ParseTrace([]byte("name: x\nstructure: {layers: [{units: 4, opts: {bias: true}}]}\nepochs: [{val_acc: 0.1}]\n"))
	require.NoError(t, err)
	require.NoError(t, trace.Validate())

	// WHEN the model describes itself
	m, err := NewModel(trace)
	require.NoError(t, err)
	_, err = m.StructureJSON()

	// THEN the structure encodes
	assert.NoError(t, err)
}

func TestLoadTrace_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))

	trace, err := LoadTrace(path)

	require.NoError(t, err)
	assert.Len(t, trace.Epochs, 3)
}

func TestLoadTrace_MissingFile(t *testing.T) {
	_, err := LoadTrace(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
