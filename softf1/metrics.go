package softf1

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

// Threshold above which a predicted probability counts as a positive label.
const Threshold = 0.5

// Monitor is a named metric over a single label and prediction node.
type Monitor struct {
	Name      string
	ShortName string
	Type      string
	Fn        func(yTrue, yPred *Node) *Node
}

// Monitors returns the metrics reported during training, in order: mean
// absolute error, binary accuracy, weighted F1, F1 and the weighted F1 of
// every label category.
func Monitors() []Monitor {
	ms := []Monitor{
		{Name: "Mean Absolute Error", ShortName: "mae", Type: "error", Fn: MeanAbsoluteError},
		{Name: "Binary Accuracy", ShortName: "binary_accuracy", Type: "accuracy", Fn: BinaryAccuracy},
		{Name: "Weighted F1", ShortName: "weighted_f1", Type: "f1", Fn: WeightedF1},
		{Name: "F1", ShortName: "f1", Type: "f1", Fn: F1},
	}
	for _, r := range Categories() {
		ms = append(ms, Monitor{
			Name:      "Weighted F1 " + r.Name,
			ShortName: r.MetricName(),
			Type:      "f1",
			Fn:        PartialWeightedF1(r),
		})
	}
	return ms
}

// Metric wraps m as a gomlx metric averaged over the evaluated batches.
func (m Monitor) Metric() metrics.Interface {
	fn := m.Fn
	return metrics.NewMeanMetric(m.Name, m.ShortName, m.Type,
		func(_ *context.Context, labels, predictions []*Node) *Node {
			return fn(labels[0], predictions[0])
		}, nil)
}

// Metrics returns the gomlx form of Monitors.
func Metrics() []metrics.Interface {
	ms := Monitors()
	out := make([]metrics.Interface, len(ms))
	for i, m := range ms {
		out[i] = m.Metric()
	}
	return out
}

// Loss adapts WF1LossP to the gomlx loss function signature.
func Loss(labels, predictions []*Node) *Node {
	return WF1LossP(labels[0], predictions[0])
}

// MeanAbsoluteError is the mean of |yPred - yTrue| over all entries.
func MeanAbsoluteError(yTrue, yPred *Node) *Node {
	return ReduceAllMean(Abs(Sub(yPred, asDType(yTrue, yPred))))
}

// BinaryAccuracy is the fraction of entries where the thresholded
// prediction equals the binary ground truth.
func BinaryAccuracy(yTrue, yPred *Node) *Node {
	return OneMinus(ReduceAllMean(Abs(Sub(Decide(yPred), asDType(yTrue, yPred)))))
}
