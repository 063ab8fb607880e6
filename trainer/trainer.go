// Package trainer drives the optimization of the tag model: epoch loop,
// evaluation, early stopping with best-weights restore, training history
// and curves.
package trainer

import (
	"math"
	"math/rand"
	"strings"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/tagnet"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrDiverged is returned when a loss or metric becomes NaN or infinite.
var ErrDiverged = errors.New("training diverged")

// Config holds the training hyperparameters.
type Config struct {
	// BatchSize for training and evaluation. If zero, 512 is used.
	BatchSize int `json:"batch_size"`

	// Epochs is the maximum number of epochs. If zero, 600 is used.
	Epochs int `json:"epochs"`

	// Patience is the number of epochs without validation loss improvement
	// before stopping. If zero, 8 is used.
	Patience int `json:"patience"`

	// MinDelta is the minimum decrease of the validation loss counted as an
	// improvement.
	MinDelta float64 `json:"min_delta"`

	// ValidFraction of the rows held out for validation. If zero, 0.25 is used.
	ValidFraction float64 `json:"valid_fraction"`

	// Seed for the train/validation split and the batch shuffling.
	Seed int64 `json:"seed"`

	// SkipTrainEval disables the per-epoch evaluation on the training set.
	SkipTrainEval bool `json:"skip_train_eval"`
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 512
	}
	if c.Epochs == 0 {
		c.Epochs = 600
	}
	if c.Patience == 0 {
		c.Patience = 8
	}
	if c.ValidFraction == 0 {
		c.ValidFraction = 0.25
	}
	return c
}

// State of a training run.
type State int

const (
	Initialized State = iota
	Training
	EarlyStopped
	MaxEpochsReached
	Finalized
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Training:
		return "training"
	case EarlyStopped:
		return "early-stopped"
	case MaxEpochsReached:
		return "max-epochs-reached"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// Split selects the rows a Session evaluates on.
type Split int

const (
	SplitTrain Split = iota
	SplitValid
)

// Snapshot is a copy of the model parameters, keyed by variable.
type Snapshot map[string]*tensors.Tensor

// Session is the model side of a training run.
type Session interface {
	// TrainEpoch runs one optimization pass over the training rows.
	TrainEpoch() error
	// Evaluate returns the loss and metrics over the given rows.
	Evaluate(split Split) (Metrics, error)
	// Snapshot copies the current parameters.
	Snapshot() Snapshot
	// Restore sets the parameters back to a snapshot.
	Restore(Snapshot)
}

// Result summarizes a finished run.
type Result struct {
	// Stop is the state the epoch loop ended in: EarlyStopped or MaxEpochsReached.
	Stop      State
	Epochs    int
	BestEpoch int
	History   *History
	// Valid holds the validation loss and metrics of the restored parameters.
	Valid Metrics
}

// Orchestrator runs the epoch loop of a Session.
type Orchestrator struct {
	Config  Config
	State   State
	History *History

	session Session
	stopper EarlyStopping
}

// NewOrchestrator returns an orchestrator in the Initialized state.
func NewOrchestrator(session Session, cfg Config) *Orchestrator {
	cfg = cfg.WithDefaults()
	return &Orchestrator{
		Config:  cfg,
		State:   Initialized,
		History: &History{},
		session: session,
		stopper: EarlyStopping{Patience: cfg.Patience, MinDelta: cfg.MinDelta},
	}
}

// Run trains until the validation loss stops improving or the maximum
// number of epochs is reached, then restores the parameters of the epoch
// with the best validation loss. Errors abort the run.
func (o *Orchestrator) Run() (*Result, error) {
	if o.State != Initialized {
		return nil, errors.Errorf("orchestrator already ran (state %s)", o.State)
	}
	o.State = Training

	var best Snapshot
	epoch := 0
	for epoch < o.Config.Epochs {
		epoch++
		if err := o.session.TrainEpoch(); err != nil {
			return nil, errors.Wrapf(err, "epoch %d", epoch)
		}

		rec := EpochRecord{Epoch: epoch}
		var err error
		if !o.Config.SkipTrainEval {
			if rec.Train, err = o.evaluate(SplitTrain, epoch); err != nil {
				return nil, err
			}
		}
		if rec.Valid, err = o.evaluate(SplitValid, epoch); err != nil {
			return nil, err
		}
		o.History.Append(rec)

		improved, stop := o.stopper.Observe(epoch, rec.Valid[LossKey])
		if improved {
			best = o.session.Snapshot()
		}
		klog.Infof("epoch %d/%d: %s", epoch, o.Config.Epochs, strings.TrimSpace(rec.Train.String()+" "+rec.Valid.Format("val_")))
		if stop {
			o.State = EarlyStopped
			break
		}
	}
	if o.State == Training {
		o.State = MaxEpochsReached
	}
	res := &Result{Stop: o.State, Epochs: epoch, History: o.History}
	res.BestEpoch, _ = o.stopper.Best()

	if best != nil {
		o.session.Restore(best)
		klog.Infof("%s after %d epochs, restored parameters of epoch %d", o.State, epoch, res.BestEpoch)
	}
	valid, err := o.evaluate(SplitValid, epoch)
	if err != nil {
		return nil, err
	}
	res.Valid = valid
	o.State = Finalized
	return res, nil
}

func (o *Orchestrator) evaluate(split Split, epoch int) (Metrics, error) {
	m, err := o.session.Evaluate(split)
	if err != nil {
		return nil, errors.Wrapf(err, "epoch %d evaluation", epoch)
	}
	if _, ok := m[LossKey]; !ok {
		return nil, errors.Errorf("epoch %d evaluation reported no %s", epoch, LossKey)
	}
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(ErrDiverged, "epoch %d: %s is %v", epoch, name, v)
		}
	}
	return m, nil
}

// Train holds out a random validation split of the given tables, trains a
// freshly initialized model in ctx on the remaining rows and returns the
// result. On return ctx holds the parameters of the best epoch.
func Train(backend backends.Backend, ctx *context.Context, features, labels *datasets.Table, cfg Config, modelCfg tagnet.Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	if features.Len() != labels.Len() {
		return nil, errors.Errorf("%d feature rows but %d label rows", features.Len(), labels.Len())
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	trainRows, validRows := datasets.TrainValidSplit(features.Len(), cfg.ValidFraction, rng)
	if len(trainRows) == 0 || len(validRows) == 0 {
		return nil, errors.Wrapf(datasets.ErrEmpty, "%d rows leave %d for training and %d for validation",
			features.Len(), len(trainRows), len(validRows))
	}
	klog.Infof("training on %s rows, validating on %s rows",
		humanize.Comma(int64(len(trainRows))), humanize.Comma(int64(len(validRows))))

	trainX, trainY := features.Subset(trainRows), labels.Subset(trainRows)
	validX, validY := features.Subset(validRows), labels.Subset(validRows)

	trainDS, err := datasets.NewTagDataset("train", trainX, trainY, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return nil, err
	}
	trainEvalDS, err := datasets.NewTagDataset("train-eval", trainX, trainY, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return nil, err
	}
	validDS, err := datasets.NewTagDataset("valid", validX, validY, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return nil, err
	}

	session := NewSession(backend, ctx, modelCfg, trainDS, trainEvalDS, validDS)
	return NewOrchestrator(session, cfg).Run()
}
