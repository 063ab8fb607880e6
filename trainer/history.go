package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// LossKey is the Metrics key of the loss.
const LossKey = "loss"

// Metrics maps metric short names to their value.
type Metrics map[string]float64

func (m Metrics) String() string {
	return m.Format("")
}

// Format renders m as "prefix+name=value" pairs, loss first then by name.
func (m Metrics) Format(prefix string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != LossKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m[LossKey]; ok {
		keys = append([]string{LossKey}, keys...)
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s%s=%.4f", prefix, k, m[k])
	}
	return strings.Join(parts, " ")
}

// EpochRecord holds the metrics of one epoch. Train is empty when the
// training set is not evaluated.
type EpochRecord struct {
	Epoch int     `json:"epoch"`
	Train Metrics `json:"train,omitempty"`
	Valid Metrics `json:"valid"`
}

// History is the sequence of epoch records of a run.
type History struct {
	Records []EpochRecord `json:"records"`
}

// Append adds a record.
func (h *History) Append(r EpochRecord) {
	h.Records = append(h.Records, r)
}

// Series returns the values of metric name over the epochs, from the train
// or validation metrics. Epochs missing the metric are skipped.
func (h *History) Series(name string, valid bool) (epochs []int, values []float64) {
	for _, r := range h.Records {
		m := r.Train
		if valid {
			m = r.Valid
		}
		if v, ok := m[name]; ok {
			epochs = append(epochs, r.Epoch)
			values = append(values, v)
		}
	}
	return epochs, values
}

// Save writes h as JSON to path.
func (h *History) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write history %s", path)
	}
	return nil
}

// LoadHistory reads a history written by Save.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read history %s", path)
	}
	h := &History{}
	if err := json.Unmarshal(data, h); err != nil {
		return nil, errors.Wrapf(err, "decode history %s", path)
	}
	return h, nil
}
