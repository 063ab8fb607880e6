// Package tagnet builds the multi-input tag model: two stacked residual
// fusion blocks over the 6 feature groups, producing one probability per
// tag label.
package tagnet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/softf1"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Build wires the 6 group inputs (tag-genres, tag-instruments, tag-moods,
// category-genres, category-instruments, category-moods) into the model and
// returns its [batch, 248] output of per-label probabilities.
//
// The first block sees the raw inputs. The second block sees the outputs of
// the first one, paired with concat(tag[i], category[i]) of the raw inputs.
func Build(ctx *context.Context, inputs []*graph.Node, cfg Config) *graph.Node {
	if len(inputs) != datasets.NumGroups {
		panic(errors.Errorf("tagnet: got %d inputs, expected %d", len(inputs), datasets.NumGroups))
	}
	widths := datasets.GroupWidths()
	var raw [datasets.NumGroups]*graph.Node
	for g, x := range inputs {
		if x.Rank() != 2 || x.Shape().Dimensions[1] != widths[g] {
			panic(errors.Errorf("tagnet: input %s has shape %s, expected [batch, %d]", datasets.Group(g), x.Shape(), widths[g]))
		}
		raw[g] = x
	}

	first := Block(ctx.In("block_1"), raw, ActivationReLU, cfg)

	var second [datasets.NumGroups]*graph.Node
	for i := range datasets.NumTagGroups {
		second[i] = first[i]
		second[i+datasets.NumTagGroups] = graph.Concatenate([]*graph.Node{raw[i], raw[i+datasets.NumTagGroups]}, 1)
	}
	out := Block(ctx.In("block_2"), second, ActivationSigmoid, cfg)
	return graph.Concatenate(out[:], 1)
}

// ModelFn returns Build in the gomlx model function form.
func ModelFn(cfg Config) func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	return func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
		return []*graph.Node{Build(ctx, inputs, cfg)}
	}
}

// Compile returns a trainer optimizing the partial weighted F1 loss with
// Adam, reporting the softf1 metrics on evaluation.
func Compile(backend backends.Backend, ctx *context.Context, cfg Config) *train.Trainer {
	cfg = cfg.WithDefaults()
	cfg.SetParams(ctx)
	opt := optimizers.Adam().LearningRate(cfg.LearningRate).Done()
	return train.NewTrainer(backend, ctx, ModelFn(cfg), softf1.Loss, opt, nil, softf1.Metrics())
}

// Summary lists the model variables with their shapes and the total number
// of parameters. Variables only exist once a graph has been built.
func Summary(ctx *context.Context) string {
	type entry struct {
		name  string
		shape string
		size  int
	}
	var entries []entry
	total := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		size := v.Shape().Size()
		entries = append(entries, entry{name: v.ScopeAndName(), shape: v.Shape().String(), size: size})
		total += size
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%-40s %-20s %s\n", e.name, e.shape, humanize.Comma(int64(e.size)))
	}
	fmt.Fprintf(&sb, "total trainable parameters: %s\n", humanize.Comma(int64(total)))
	return sb.String()
}
