package tagnet

import (
	"fmt"
	"math"

	"github.com/Noofbiz/tagger/datasets"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Activation is the final activation of a block.
type Activation int

const (
	ActivationReLU Activation = iota
	ActivationSigmoid
)

func (a Activation) apply(x *graph.Node) *graph.Node {
	switch a {
	case ActivationSigmoid:
		return graph.Sigmoid(x)
	default:
		return activations.Relu(x)
	}
}

func (a Activation) String() string {
	if a == ActivationSigmoid {
		return "sigmoid"
	}
	return "relu"
}

// Block is one residual fusion stage. inputs holds 3 tag inputs followed by
// their 3 paired inputs. For every tag group i it:
//
//  1. projects concat(inputs[i], inputs[i+3]) with a ReLU dense layer of
//     width round(Expansion × combined width);
//  2. mixes the 3 projections with a shared ReLU dense layer of HiddenUnits,
//     followed by dropout;
//  3. projects the mix back to the width of inputs[i] and adds it to
//     inputs[i] as an offset, before applying act.
//
// Output i has the shape of inputs[i].
func Block(ctx *context.Context, inputs [datasets.NumGroups]*graph.Node, act Activation, cfg Config) [datasets.NumTagGroups]*graph.Node {
	cfg = cfg.WithDefaults()

	var first [datasets.NumTagGroups]*graph.Node
	for i := range datasets.NumTagGroups {
		x := graph.Concatenate([]*graph.Node{inputs[i], inputs[i+datasets.NumTagGroups]}, 1)
		width := int(math.Round(cfg.Expansion * float64(x.Shape().Dimensions[1])))
		x = layers.Dense(ctx.In(fmt.Sprintf("group_%d", i)), x, true, width)
		first[i] = activations.Relu(x)
	}

	shared := graph.Concatenate(first[:], 1)
	shared = layers.Dense(ctx.In("shared"), shared, true, cfg.HiddenUnits)
	shared = activations.Relu(shared)
	if cfg.DropoutRate > 0 {
		shared = layers.Dropout(ctx, shared, graph.Scalar(shared.Graph(), shared.DType(), cfg.DropoutRate))
	}

	var out [datasets.NumTagGroups]*graph.Node
	for i := range datasets.NumTagGroups {
		offset := layers.Dense(ctx.In(fmt.Sprintf("offset_%d", i)), shared, true, inputs[i].Shape().Dimensions[1])
		out[i] = act.apply(graph.Add(inputs[i], offset))
	}
	return out
}
