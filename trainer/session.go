package trainer

import (
	"fmt"
	"math"

	"github.com/Noofbiz/tagger/softf1"
	"github.com/Noofbiz/tagger/tagnet"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// resettable is a gomlx dataset that can be rewound between passes.
type resettable interface {
	train.Dataset
	Reset()
}

// gomlxSession trains the tagnet model held in a gomlx context.
type gomlxSession struct {
	ctx     *context.Context
	trainer *train.Trainer
	loop    *train.Loop

	trainDS resettable
	evalDS  [2]resettable
	names   []string

	summarized bool
}

// NewSession compiles the tagnet model into ctx and returns a Session
// training it on trainDS. trainEvalDS and validDS are evaluated in order
// for SplitTrain and SplitValid.
func NewSession(backend backends.Backend, ctx *context.Context, modelCfg tagnet.Config, trainDS, trainEvalDS, validDS resettable) Session {
	trainer := tagnet.Compile(backend, ctx, modelCfg)
	names := []string{LossKey}
	for _, m := range softf1.Monitors() {
		names = append(names, m.ShortName)
	}
	return &gomlxSession{
		ctx:     ctx,
		trainer: trainer,
		loop:    train.NewLoop(trainer),
		trainDS: trainDS,
		evalDS:  [2]resettable{trainEvalDS, validDS},
		names:   names,
	}
}

func (s *gomlxSession) TrainEpoch() error {
	s.trainDS.Reset()
	values, err := s.loop.RunEpochs(s.trainDS, 1)
	if err != nil {
		return errors.Wrap(err, "train epoch")
	}
	for i, t := range values {
		if v, ok := scalar(t); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return errors.Wrapf(ErrDiverged, "training metric #%d is %v", i, v)
		}
	}
	if !s.summarized {
		s.summarized = true
		klog.V(1).Infof("model variables:\n%s", tagnet.Summary(s.ctx))
	}
	return nil
}

func (s *gomlxSession) Evaluate(split Split) (Metrics, error) {
	ds := s.evalDS[split]
	ds.Reset()
	var values []*tensors.Tensor
	if err := try(func() { values = s.trainer.Eval(ds) }); err != nil {
		return nil, errors.Wrapf(err, "evaluate %s", ds.Name())
	}
	if len(values) != len(s.names) {
		return nil, errors.Errorf("evaluate %s: got %d values for %d metrics", ds.Name(), len(values), len(s.names))
	}
	m := make(Metrics, len(values))
	for i, t := range values {
		v, ok := scalar(t)
		if !ok {
			return nil, errors.Errorf("evaluate %s: metric %s is not a scalar (%s)", ds.Name(), s.names[i], t.Shape())
		}
		m[s.names[i]] = v
	}
	return m, nil
}

func (s *gomlxSession) Snapshot() Snapshot {
	snap := make(Snapshot)
	s.ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable {
			snap[v.ScopeAndName()] = tensors.FromAnyValue(v.Value().Value())
		}
	})
	return snap
}

func (s *gomlxSession) Restore(snap Snapshot) {
	s.ctx.EnumerateVariables(func(v *context.Variable) {
		if t, ok := snap[v.ScopeAndName()]; ok {
			v.SetValue(t)
		}
	})
}

// scalar returns the value of a float scalar tensor.
func scalar(t *tensors.Tensor) (float64, bool) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// try converts a panic raised by gomlx into an error.
func try(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.New(fmt.Sprint(r))
			}
		}
	}()
	fn()
	return nil
}
