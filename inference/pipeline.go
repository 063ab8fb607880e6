// Package inference applies a trained tag model to large feature tables in
// bounded memory and writes thresholded predictions as CSV.
package inference

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/softf1"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"k8s.io/klog/v2"
)

const (
	// Threshold above which a probability becomes a positive label. It is
	// the same for every label.
	Threshold = softf1.Threshold
	// DefaultChunks is the number of chunks a test table is scored in.
	DefaultChunks = 100
	// IDColumn heads the identifier column of the prediction CSV.
	IDColumn = "ChallengeID"
)

// Chunks partitions n rows into k contiguous [start, end) ranges whose sizes
// differ by at most one, the first n%k ranges being the larger ones.
// Empty ranges are omitted.
func Chunks(n, k int) [][2]int {
	if n <= 0 || k <= 0 {
		return nil
	}
	size, extra := n/k, n%k
	var out [][2]int
	start := 0
	for i := range k {
		end := start + size
		if i < extra {
			end++
		}
		if end > start {
			out = append(out, [2]int{start, end})
		}
		start = end
	}
	return out
}

// RowSource yields the rows of a feature table in order.
type RowSource interface {
	// Next returns up to n rows, or io.EOF when none is left.
	Next(n int) (*datasets.Table, error)
}

// Pipeline scores a feature table chunk by chunk. Only one chunk of input
// rows and predictions is held in memory at a time.
type Pipeline struct {
	Scorer     Scorer
	LabelNames []string
	// Chunks is the number of chunks. If zero, DefaultChunks is used.
	Chunks int
}

// Run scores the feature CSV at testPath and writes the predictions to
// outPath, compressed when it ends in ".xz". It returns the number of rows
// written.
func (p *Pipeline) Run(testPath, outPath string) (int, error) {
	total, err := datasets.CountRows(testPath)
	if err != nil {
		return 0, errors.Wrapf(err, "count rows of %s", testPath)
	}
	klog.Infof("scoring %s rows of %s", humanize.Comma(int64(total)), testPath)

	src, err := datasets.NewTableReader(testPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	file, err := os.Create(outPath)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", outPath)
	}
	defer file.Close()
	var w io.Writer = file
	var xw *xz.Writer
	if strings.HasSuffix(outPath, ".xz") {
		if xw, err = xz.NewWriter(file); err != nil {
			return 0, errors.Wrapf(err, "open xz stream %s", outPath)
		}
		w = xw
	}

	n, err := p.Write(w, src, total)
	if err != nil {
		return n, err
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			return n, errors.Wrapf(err, "close xz stream %s", outPath)
		}
	}
	if err := file.Close(); err != nil {
		return n, errors.Wrapf(err, "close %s", outPath)
	}
	klog.Infof("wrote %s predictions to %s", humanize.Comma(int64(n)), outPath)
	return n, nil
}

// Write scores the total rows of src and writes the header followed by one
// line per row to w, flushing after every chunk.
func (p *Pipeline) Write(w io.Writer, src RowSource, total int) (int, error) {
	if len(p.LabelNames) != datasets.NumLabels {
		return 0, errors.Wrapf(datasets.ErrSchema, "got %d label names, expected %d", len(p.LabelNames), datasets.NumLabels)
	}
	k := p.Chunks
	if k <= 0 {
		k = DefaultChunks
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{IDColumn}, p.LabelNames...)); err != nil {
		return 0, errors.Wrap(err, "write header")
	}
	cw.Flush()

	written := 0
	record := make([]string, datasets.NumLabels+1)
	chunks := Chunks(total, k)
	for i, c := range chunks {
		size := c[1] - c[0]
		tbl, err := src.Next(size)
		if err == io.EOF {
			return written, errors.Errorf("chunk %d: input ended after %d of %d rows", i+1, written, total)
		}
		if err != nil {
			return written, errors.Wrapf(err, "chunk %d", i+1)
		}
		if tbl.Len() != size {
			return written, errors.Errorf("chunk %d: got %d rows, expected %d", i+1, tbl.Len(), size)
		}
		groups, err := datasets.SplitTable(tbl)
		if err != nil {
			return written, errors.Wrapf(err, "chunk %d", i+1)
		}
		probs, err := p.Scorer.Predict(groups)
		if err != nil {
			return written, errors.Wrapf(err, "chunk %d", i+1)
		}
		if len(probs) != size {
			return written, errors.Errorf("chunk %d: scorer returned %d rows for %d", i+1, len(probs), size)
		}

		for r, row := range probs {
			if len(row) != datasets.NumLabels {
				return written, errors.Errorf("chunk %d: scorer returned %d labels, expected %d", i+1, len(row), datasets.NumLabels)
			}
			record[0] = tbl.IDs[r]
			for j, prob := range row {
				record[j+1] = Label(prob)
			}
			if err := cw.Write(record); err != nil {
				return written, errors.Wrap(err, "write predictions")
			}
			written++
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return written, errors.Wrap(err, "write predictions")
		}
		klog.V(1).Infof("split %d/%d", i+1, len(chunks))
	}

	if _, err := src.Next(1); err != io.EOF {
		return written, errors.Errorf("input has more than the %d rows counted", total)
	}
	return written, nil
}

// Label thresholds a probability into "1" or "0".
func Label(prob float32) string {
	if prob > Threshold {
		return "1"
	}
	return "0"
}
