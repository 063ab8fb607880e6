package trainer

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/tagnet"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gotest.tools/assert"
)

// scriptedSession replays a fixed sequence of validation losses, one per epoch.
type scriptedSession struct {
	losses   []float64
	epoch    int
	restored Snapshot
}

func (s *scriptedSession) TrainEpoch() error {
	s.epoch++
	return nil
}

func (s *scriptedSession) Evaluate(split Split) (Metrics, error) {
	i := min(s.epoch, len(s.losses)) - 1
	return Metrics{LossKey: s.losses[i], "wf1_genres": 1 - s.losses[i]}, nil
}

func (s *scriptedSession) Snapshot() Snapshot {
	return Snapshot{"epoch": tensors.FromAnyValue(float32(s.epoch))}
}

func (s *scriptedSession) Restore(snap Snapshot) {
	s.restored = snap
}

func TestEarlyStoppingRestoresBestEpoch(t *testing.T) {
	// Improves up to epoch 5, then never again.
	losses := []float64{1.0, 0.9, 0.8, 0.7, 0.6}
	for range 20 {
		losses = append(losses, 0.65)
	}
	session := &scriptedSession{losses: losses}
	o := NewOrchestrator(session, Config{})

	res, err := o.Run()
	assert.NilError(t, err)
	assert.Equal(t, res.Stop, EarlyStopped)
	assert.Equal(t, o.State, Finalized)
	assert.Equal(t, res.Epochs, 13)
	assert.Equal(t, res.BestEpoch, 5)
	assert.Equal(t, len(res.History.Records), 13)
	assert.Assert(t, session.restored != nil, "parameters were not restored")
	assert.Equal(t, session.restored["epoch"].Value().(float32), float32(5))
}

func TestMaxEpochsReached(t *testing.T) {
	session := &scriptedSession{losses: []float64{0.9, 0.8, 0.7, 0.6}}
	o := NewOrchestrator(session, Config{Epochs: 4, SkipTrainEval: true})

	res, err := o.Run()
	assert.NilError(t, err)
	assert.Equal(t, res.Stop, MaxEpochsReached)
	assert.Equal(t, res.Epochs, 4)
	assert.Equal(t, res.BestEpoch, 4)
	assert.Equal(t, session.restored["epoch"].Value().(float32), float32(4))
	assert.Equal(t, len(res.History.Records[0].Train), 0)

	_, err = o.Run()
	assert.ErrorContains(t, err, "already ran")
}

func TestDivergenceAborts(t *testing.T) {
	session := &scriptedSession{losses: []float64{0.9, math.NaN()}}
	o := NewOrchestrator(session, Config{})

	_, err := o.Run()
	assert.Assert(t, errors.Is(err, ErrDiverged), "unexpected error: %v", err)
	assert.Equal(t, o.State, Training)
}

func TestEarlyStoppingMinDelta(t *testing.T) {
	e := EarlyStopping{Patience: 2, MinDelta: 0.1}
	improved, stop := e.Observe(1, 1.0)
	assert.Assert(t, improved && !stop)
	improved, stop = e.Observe(2, 0.95)
	assert.Assert(t, !improved && !stop)
	improved, stop = e.Observe(3, 0.85)
	assert.Assert(t, improved && !stop)
	_, stop = e.Observe(4, 0.85)
	assert.Assert(t, !stop)
	_, stop = e.Observe(5, 0.80)
	assert.Assert(t, stop)
	epoch, loss := e.Best()
	assert.Equal(t, epoch, 3)
	assert.Equal(t, loss, 0.85)
}

func TestHistorySaveLoadAndPlot(t *testing.T) {
	h := &History{}
	for epoch := 1; epoch <= 5; epoch++ {
		loss := 1 / float64(epoch)
		h.Append(EpochRecord{
			Epoch: epoch,
			Train: Metrics{LossKey: loss, "wf1_genres": 1 - loss, "wf1_instruments": 0.5, "wf1_moods": 0.4},
			Valid: Metrics{LossKey: loss + 0.1, "wf1_genres": 0.9 - loss, "wf1_instruments": 0.45, "wf1_moods": 0.35},
		})
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	assert.NilError(t, h.Save(path))
	loaded, err := LoadHistory(path)
	assert.NilError(t, err)
	epochs, values := loaded.Series(LossKey, true)
	assert.DeepEqual(t, epochs, []int{1, 2, 3, 4, 5})
	assert.Equal(t, values[1], 0.6)

	assert.NilError(t, PlotHistory(dir, loaded))
	for _, name := range []string{LossPlotFile, WF1PlotFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		assert.NilError(t, err)
		assert.Assert(t, info.Size() > 0, "%s is empty", name)
	}
}

func TestMetricsFormat(t *testing.T) {
	m := Metrics{"f1": 0.5, LossKey: 0.25, "mae": 0.125}
	assert.Equal(t, m.Format("val_"), "val_loss=0.2500 val_f1=0.5000 val_mae=0.1250")
}

// randomTables returns n rows of random features and labels following the fixed layouts.
func randomTables(n int, seed int64) (features, labels *datasets.Table) {
	rng := rand.New(rand.NewSource(seed))
	features = &datasets.Table{Columns: make([]string, datasets.NumFeatures), Values: mat.NewDense(n, datasets.NumFeatures, nil)}
	labels = &datasets.Table{Columns: make([]string, datasets.NumLabels), Values: mat.NewDense(n, datasets.NumLabels, nil)}
	for i := range n {
		id := string(rune('a'+i%26)) + string(rune('a'+i/26))
		features.IDs = append(features.IDs, id)
		labels.IDs = append(labels.IDs, id)
		for j := range datasets.NumFeatures {
			features.Values.Set(i, j, rng.Float64())
		}
		for j := range datasets.NumLabels {
			if features.Values.At(i, j) > 0.7 {
				labels.Values.Set(i, j, 1)
			}
		}
	}
	return features, labels
}

// testBackendConfig runs simplego without its worker pool.
const testBackendConfig = "parallelism=-1"

func TestTrainSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gomlx training in short mode")
	}
	backend, err := simplego.New(testBackendConfig)
	assert.NilError(t, err)
	features, labels := randomTables(40, 7)
	ctx := context.New()

	res, err := Train(backend, ctx, features, labels, Config{BatchSize: 16, Epochs: 2, Seed: 3}, tagnet.Config{HiddenUnits: 32})
	assert.NilError(t, err)
	assert.Equal(t, res.Epochs, 2)
	assert.Equal(t, len(res.History.Records), 2)
	assert.Assert(t, res.BestEpoch >= 1 && res.BestEpoch <= 2)
	for _, name := range []string{LossKey, "mae", "binary_accuracy", "weighted_f1", "f1", "wf1_genres", "wf1_instruments", "wf1_moods"} {
		v, ok := res.Valid[name]
		assert.Assert(t, ok, "missing metric %s", name)
		assert.Assert(t, v >= 0 && v <= 1, "%s=%v out of range", name, v)
	}
}

func TestSessionRestoresSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gomlx training in short mode")
	}
	backend, err := simplego.New(testBackendConfig)
	assert.NilError(t, err)
	features, labels := randomTables(24, 11)
	trainDS, err := datasets.NewTagDataset("train", features, labels, 8, true, 1)
	assert.NilError(t, err)
	evalDS, err := datasets.NewTagDataset("train-eval", features, labels, 8, false, 1)
	assert.NilError(t, err)
	validDS, err := datasets.NewTagDataset("valid", features, labels, 8, false, 1)
	assert.NilError(t, err)

	ctx := context.New()
	s := NewSession(backend, ctx, tagnet.Config{HiddenUnits: 16, LearningRate: 1e-2}, trainDS, evalDS, validDS)
	assert.NilError(t, s.TrainEpoch())
	before, err := s.Evaluate(SplitValid)
	assert.NilError(t, err)
	snap := s.Snapshot()
	assert.Assert(t, len(snap) > 0, "snapshot holds no variables")

	for range 3 {
		assert.NilError(t, s.TrainEpoch())
	}
	changed := false
	ctx.EnumerateVariables(func(v *context.Variable) {
		if want, ok := snap[v.ScopeAndName()]; ok && !reflect.DeepEqual(v.Value().Value(), want.Value()) {
			changed = true
		}
	})
	assert.Assert(t, changed, "training did not update any variable")

	s.Restore(snap)
	restored := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		want, ok := snap[v.ScopeAndName()]
		assert.Assert(t, ok, "variable %s missing from snapshot", v.ScopeAndName())
		assert.DeepEqual(t, v.Value().Value(), want.Value())
		restored++
	})
	assert.Equal(t, restored, len(snap))

	after, err := s.Evaluate(SplitValid)
	assert.NilError(t, err)
	assert.Assert(t, math.Abs(after[LossKey]-before[LossKey]) < 1e-6,
		"loss after restore %v, at snapshot %v", after[LossKey], before[LossKey])
}
