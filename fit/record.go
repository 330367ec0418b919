package fit

import (
	"encoding/json"
	"math"
	"sort"
)

// Metrics maps metric name to the value logged for one epoch.
type Metrics map[string]float64

// Lookup returns the value for key. ok is false when the key is absent or
// not a finite number.
func (m Metrics) Lookup(key string) (float64, bool) {
	v, found := m[key]
	if !found || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Clone returns a copy that does not alias m.
func (m Metrics) Clone() Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the metric names in sorted order.
func (m Metrics) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON writes non-finite values as null, which JSON cannot otherwise
// represent.
func (m Metrics) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		out[k] = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads null values back as NaN so they stay missing.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var in map[string]*float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in == nil {
		*m = nil
		return nil
	}
	out := make(Metrics, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	*m = out
	return nil
}

// EpochRecord captures the metrics logged for one completed epoch.
type EpochRecord struct {
	Epoch   int     `yaml:"epoch" json:"epoch"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
}

// RunLog is the ordered per-epoch record of one training run.
type RunLog []EpochRecord

// Values returns the epochs and values at which metric was logged, skipping
// epochs where it is missing.
func (l RunLog) Values(metric string) (epochs []int, values []float64) {
	for _, rec := range l {
		if v, ok := rec.Metrics.Lookup(metric); ok {
			epochs = append(epochs, rec.Epoch)
			values = append(values, v)
		}
	}
	return epochs, values
}
