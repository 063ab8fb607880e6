package datasets

import (
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TagDataset provides a gomlx train.Dataset over an in-memory feature table
// and its label table. Each batch yields the 6 group inputs and a single
// label tensor of shape [batch, NumLabels].
type TagDataset struct {
	// BatchSize for yielding batches. The last batch of an epoch may be smaller.
	BatchSize int

	name    string
	groups  Groups
	labels  *mat.Dense
	shuffle bool
	rand    *rand.Rand
	order   []int
	pos     int
}

// NewTagDataset checks both tables against the fixed layouts and returns a
// dataset serving them. When shuffle is set the row order is re-drawn on
// every Reset.
func NewTagDataset(name string, features, labels *Table, batchSize int, shuffle bool, seed int64) (*TagDataset, error) {
	groups, err := SplitTable(features)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s features", name)
	}
	if labels.Width() != NumLabels {
		return nil, errors.Wrapf(ErrSchema, "dataset %s: got %d label columns, expected %d", name, labels.Width(), NumLabels)
	}
	if labels.Len() != features.Len() {
		return nil, errors.Errorf("dataset %s: %d feature rows but %d label rows", name, features.Len(), labels.Len())
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset %s: invalid batch size %d", name, batchSize)
	}
	d := &TagDataset{
		BatchSize: batchSize,
		name:      name,
		groups:    groups,
		labels:    labels.Values,
		shuffle:   shuffle,
		rand:      rand.New(rand.NewSource(seed)),
		order:     make([]int, features.Len()),
	}
	for i := range d.order {
		d.order[i] = i
	}
	d.Reset()
	return d, nil
}

// Name returns the name of the dataset
func (d *TagDataset) Name() string {
	return d.name
}

// Len returns the number of examples.
func (d *TagDataset) Len() int {
	return len(d.order)
}

// Reset rewinds the dataset for a new epoch.
func (d *TagDataset) Reset() {
	d.pos = 0
	if d.shuffle {
		d.rand.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// Yield returns the next batch, or io.EOF at the end of the epoch.
func (d *TagDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.pos >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := min(d.pos+d.BatchSize, len(d.order))
	rows := d.order[d.pos:end]
	d.pos = end

	inputs = GroupTensors(d.groups, rows)
	labels = []*tensors.Tensor{MatrixTensor(d.labels, rows)}
	return nil, inputs, labels, nil
}

// GroupTensors converts the given rows of every group into float32 tensors,
// in group order. A nil rows slice selects all rows.
func GroupTensors(groups Groups, rows []int) []*tensors.Tensor {
	out := make([]*tensors.Tensor, NumGroups)
	for g, m := range groups {
		out[g] = MatrixTensor(m, rows)
	}
	return out
}

// MatrixTensor copies the given rows of m into a [len(rows), cols] float32
// tensor. A nil rows slice selects all rows.
func MatrixTensor(m *mat.Dense, rows []int) *tensors.Tensor {
	r, c := m.Dims()
	n := len(rows)
	if rows == nil {
		n = r
	}
	flat := make([]float32, 0, n*c)
	for i := range n {
		src := i
		if rows != nil {
			src = rows[i]
		}
		for _, v := range m.RawRowView(src) {
			flat = append(flat, float32(v))
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, n, c)
}
