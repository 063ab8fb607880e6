package datasets

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Table is a numeric CSV table: one identifier per row plus a dense matrix of
// values. Values is nil for a table without rows.
type Table struct {
	IDs     []string
	Columns []string
	Values  *mat.Dense
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.IDs)
}

// Width returns the number of value columns.
func (t *Table) Width() int {
	return len(t.Columns)
}

// Subset returns a new table holding copies of the given rows, in the given order.
func (t *Table) Subset(rows []int) *Table {
	sub := &Table{
		IDs:     make([]string, len(rows)),
		Columns: t.Columns,
	}
	if len(rows) == 0 {
		return sub
	}
	sub.Values = mat.NewDense(len(rows), t.Width(), nil)
	for i, r := range rows {
		sub.IDs[i] = t.IDs[r]
		sub.Values.SetRow(i, t.Values.RawRowView(r))
	}
	return sub
}

// LoadTable reads a whole CSV file whose first column is the row identifier.
// Files ending in ".xz" are decompressed on the fly.
func LoadTable(path string) (*Table, error) {
	tr, err := NewTableReader(path)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	t, err := tr.Next(math.MaxInt)
	if err == io.EOF {
		return &Table{Columns: tr.Columns}, nil
	}
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %s: %s rows x %d columns", path, humanize.Comma(int64(t.Len())), t.Width())
	return t, nil
}

// TableReader reads a CSV table a bounded number of rows at a time.
type TableReader struct {
	Columns []string

	path   string
	reader *csv.Reader
	closer io.Closer
	line   int
}

// NewTableReader opens path and consumes its header.
func NewTableReader(path string) (*TableReader, error) {
	reader, closer, err := openCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	header, err := reader.Read()
	if err != nil {
		closer.Close()
		return nil, errors.Wrapf(err, "read header of %s", path)
	}
	if len(header) < 2 {
		closer.Close()
		return nil, errors.Errorf("%s has no data columns", path)
	}
	return &TableReader{
		Columns: append([]string(nil), header[1:]...),
		path:    path,
		reader:  reader,
		closer:  closer,
		line:    1,
	}, nil
}

// Next reads up to n rows. It returns io.EOF when no row is left.
func (tr *TableReader) Next(n int) (*Table, error) {
	width := len(tr.Columns)
	var ids []string
	var data []float64
	for len(ids) < n {
		record, err := tr.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", tr.path)
		}
		tr.line++
		if len(record) != width+1 {
			return nil, errors.Wrapf(ErrSchema, "%s line %d: got %d fields, expected %d", tr.path, tr.line, len(record), width+1)
		}
		ids = append(ids, record[0])
		for j, field := range record[1:] {
			v, err := parseFloat(field)
			if err != nil {
				return nil, errors.Wrapf(err, "%s line %d column %q", tr.path, tr.line, tr.Columns[j])
			}
			data = append(data, v)
		}
	}
	if len(ids) == 0 {
		return nil, io.EOF
	}
	return &Table{
		IDs:     ids,
		Columns: tr.Columns,
		Values:  mat.NewDense(len(ids), width, data),
	}, nil
}

// Close releases the underlying file.
func (tr *TableReader) Close() error {
	return tr.closer.Close()
}

// TrainValidSplit randomly partitions n row positions into a training and a
// validation set. The validation set gets ceil(n*validFraction) rows.
func TrainValidSplit(n int, validFraction float64, rng *rand.Rand) (train, valid []int) {
	nValid := int(math.Ceil(float64(n) * validFraction))
	if nValid > n {
		nValid = n
	}
	perm := rng.Perm(n)
	return perm[nValid:], perm[:nValid]
}
