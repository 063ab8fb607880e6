package inference

import (
	"fmt"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/tagnet"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Scorer maps the group inputs of a batch of samples to one probability
// per label.
type Scorer interface {
	Predict(groups datasets.Groups) ([][]float32, error)
}

// Model scores samples with the tagnet model held in a gomlx context.
// Dropout is disabled and no gradient is computed.
type Model struct {
	ctx  *context.Context
	exec *context.Exec
}

// NewModel returns a scorer over the parameters of ctx. Missing variables
// are created on first use, which lets ctx be a freshly loaded checkpoint.
func NewModel(backend backends.Backend, ctx *context.Context, cfg tagnet.Config) (*Model, error) {
	ctx = ctx.Checked(false)
	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
		return tagnet.Build(ctx, inputs, cfg)
	})
	if err != nil {
		return nil, errors.Wrap(err, "compile tagnet model")
	}
	return &Model{ctx: ctx, exec: exec}, nil
}

// LoadModel reads a model saved by tagnet.SaveModel and returns its scorer
// and label names.
func LoadModel(backend backends.Backend, dir string) (*Model, []string, error) {
	ctx, cfg, labelNames, err := tagnet.LoadModel(dir)
	if err != nil {
		return nil, nil, err
	}
	m, err := NewModel(backend, ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, labelNames, nil
}

// Context returns the context holding the model parameters.
func (m *Model) Context() *context.Context {
	return m.ctx
}

// Predict runs the model forward on groups.
func (m *Model) Predict(groups datasets.Groups) (probs [][]float32, err error) {
	inputs := datasets.GroupTensors(groups, nil)
	args := make([]any, len(inputs))
	for i, t := range inputs {
		args[i] = t
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tagnet forward: %v", r)
		}
	}()
	outputs, err := m.exec.Exec(args...)
	if err != nil {
		return nil, errors.Wrap(err, "tagnet forward")
	}
	probs, ok := outputs[0].Value().([][]float32)
	if !ok {
		return nil, errors.Errorf("tagnet forward: unexpected output %s", fmt.Sprint(outputs[0].Shape()))
	}
	return probs, nil
}
