package inference

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/tagnet"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"gonum.org/v1/gonum/mat"
	"gotest.tools/assert"
)

// testBackendConfig runs simplego without its worker pool.
const testBackendConfig = "parallelism=-1"

// constScorer returns the same probabilities for every row.
type constScorer struct {
	probs []float32
	calls int
}

func (s *constScorer) Predict(groups datasets.Groups) ([][]float32, error) {
	s.calls++
	out := make([][]float32, groups.Rows())
	for i := range out {
		out[i] = s.probs
	}
	return out, nil
}

func labelNames() []string {
	names := make([]string, datasets.NumLabels)
	for i := range names {
		names[i] = fmt.Sprintf("label_%d", i)
	}
	return names
}

// writeFeatures writes n rows of features, all equal to v, to path.
func writeFeatures(t *testing.T, path string, n int, v float64) {
	t.Helper()
	f, err := os.Create(path)
	assert.NilError(t, err)
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{"id"}
	for j := range datasets.NumFeatures {
		header = append(header, fmt.Sprintf("f%d", j))
	}
	assert.NilError(t, w.Write(header))
	for i := range n {
		record := []string{fmt.Sprintf("track-%d", i)}
		for range datasets.NumFeatures {
			record = append(record, fmt.Sprint(v))
		}
		assert.NilError(t, w.Write(record))
	}
	w.Flush()
	assert.NilError(t, w.Error())
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	assert.NilError(t, err)
	return records
}

func TestChunks(t *testing.T) {
	chunks := Chunks(250, 100)
	assert.Equal(t, len(chunks), 100)
	assert.Equal(t, chunks[0], [2]int{0, 3})
	assert.Equal(t, chunks[49], [2]int{147, 150})
	assert.Equal(t, chunks[50], [2]int{150, 152})
	assert.Equal(t, chunks[99], [2]int{248, 250})

	// Fewer rows than chunks: empty chunks are dropped.
	assert.DeepEqual(t, Chunks(3, 100), [][2]int{{0, 1}, {1, 2}, {2, 3}})
	assert.Equal(t, len(Chunks(0, 100)), 0)
}

func TestLabelThreshold(t *testing.T) {
	assert.Equal(t, Label(0.5), "0")
	assert.Equal(t, Label(0.5001), "1")
	assert.Equal(t, Label(0.1), "0")
}

func TestPipelineWritesEveryRowInOrder(t *testing.T) {
	const rows = 7
	path := filepath.Join(t.TempDir(), "test.csv")
	writeFeatures(t, path, rows, 0.25)

	probs := make([]float32, datasets.NumLabels)
	for j := range probs {
		probs[j] = float32(j%3) * 0.3
	}
	scorer := &constScorer{probs: probs}
	p := &Pipeline{Scorer: scorer, LabelNames: labelNames(), Chunks: 3}

	src, err := datasets.NewTableReader(path)
	assert.NilError(t, err)
	defer src.Close()
	var buf bytes.Buffer
	n, err := p.Write(&buf, src, rows)
	assert.NilError(t, err)
	assert.Equal(t, n, rows)
	assert.Equal(t, scorer.calls, 3)

	records := readCSV(t, &buf)
	assert.Equal(t, len(records), rows+1)
	assert.Equal(t, records[0][0], IDColumn)
	assert.Equal(t, records[0][248], "label_247")
	for i, record := range records[1:] {
		assert.Equal(t, len(record), datasets.NumLabels+1)
		assert.Equal(t, record[0], fmt.Sprintf("track-%d", i))
		for j, v := range record[1:] {
			want := "0"
			if j%3 == 2 {
				want = "1"
			}
			assert.Equal(t, v, want, "row %d label %d", i, j)
		}
	}
}

func TestPipelineRowCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.csv")
	writeFeatures(t, path, 4, 0)
	p := &Pipeline{Scorer: &constScorer{probs: make([]float32, datasets.NumLabels)}, LabelNames: labelNames()}

	src, err := datasets.NewTableReader(path)
	assert.NilError(t, err)
	_, err = p.Write(io.Discard, src, 6)
	src.Close()
	assert.ErrorContains(t, err, "input ended")

	src, err = datasets.NewTableReader(path)
	assert.NilError(t, err)
	_, err = p.Write(io.Discard, src, 3)
	src.Close()
	assert.ErrorContains(t, err, "more than the 3 rows")
}

func TestPipelineRejectsLabelNames(t *testing.T) {
	p := &Pipeline{Scorer: &constScorer{}, LabelNames: []string{"a"}}
	_, err := p.Write(io.Discard, nil, 1)
	assert.ErrorContains(t, err, "label names")
}

// zeroModel builds a model in a fresh context and zeroes every parameter.
func zeroModel(t *testing.T) *context.Context {
	t.Helper()
	backend, err := simplego.New(testBackendConfig)
	assert.NilError(t, err)
	ctx := context.New()
	m, err := NewModel(backend, ctx, tagnet.Config{})
	assert.NilError(t, err)
	// Running once creates the variables.
	_, err = m.Predict(datasets.Split(mat.NewDense(1, datasets.NumFeatures, nil)))
	assert.NilError(t, err)
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable {
			v.SetValue(tensors.FromShape(v.Shape()))
		}
	})
	return ctx
}

func TestSavedModelEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gomlx model in short mode")
	}
	ctx := zeroModel(t)
	// With zero weights every block passes its inputs through, so 0.5
	// features give sigmoid(0.5) > 0.5 everywhere. A strongly negative
	// genre offset in the second block turns the genres off.
	var offsets int
	ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.Contains(v.ScopeAndName(), "block_2/offset_0/") && v.Shape().Rank() == 1 {
			offsets++
			flat := make([]float32, v.Shape().Size())
			for i := range flat {
				flat[i] = -10
			}
			v.SetValue(tensors.FromFlatDataAndDimensions(flat, v.Shape().Dimensions...))
		}
	})
	assert.Equal(t, offsets, 1)

	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model")
	assert.NilError(t, tagnet.SaveModel(ctx, modelDir, labelNames()))

	backend, err := simplego.New(testBackendConfig)
	assert.NilError(t, err)
	model, names, err := LoadModel(backend, modelDir)
	assert.NilError(t, err)
	assert.DeepEqual(t, names, labelNames())

	testPath := filepath.Join(dir, "test.csv")
	writeFeatures(t, testPath, 4, 0.5)
	outPath := filepath.Join(dir, "predictions.csv.xz")
	p := &Pipeline{Scorer: model, LabelNames: names}
	n, err := p.Run(testPath, outPath)
	assert.NilError(t, err)
	assert.Equal(t, n, 4)

	out, err := datasets.LoadTable(outPath)
	assert.NilError(t, err)
	assert.Equal(t, out.Len(), 4)
	assert.Equal(t, out.Width(), datasets.NumLabels)
	assert.Equal(t, strings.Join(out.IDs, ","), "track-0,track-1,track-2,track-3")
	for i := range 4 {
		for j := range datasets.NumLabels {
			want := 1.0
			if j < 90 {
				want = 0
			}
			assert.Equal(t, out.Values.At(i, j), want, "row %d label %d", i, j)
		}
	}
}
