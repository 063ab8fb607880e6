// Package softf1 implements differentiable approximations of the F1 score
// over multi-label predictions, for use as training loss and as monitoring
// metric.
//
// All functions take the ground truth and the predictions as [batch, labels]
// nodes. Counts are summed over the batch axis, so every label column gets
// its own precision, recall and F1.
package softf1

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Epsilon guards every division of the score computation.
const Epsilon = 1e-7

// Range is a named contiguous range of label columns.
type Range struct {
	Name       string
	Start, End int
}

// The label categories of the tag schema.
var (
	Genres      = Range{Name: "genres", Start: 0, End: 90}
	Instruments = Range{Name: "instruments", Start: 90, End: 202}
	Moods       = Range{Name: "moods", Start: 202, End: 248}
)

// Categories returns the label categories in column order.
func Categories() []Range {
	return []Range{Genres, Instruments, Moods}
}

// MetricName is the name the partial weighted F1 of r is reported under.
func (r Range) MetricName() string {
	return "wf1_" + r.Name
}

// Width returns the number of columns of r.
func (r Range) Width() int {
	return r.End - r.Start
}

// Slice selects the columns of r from a [batch, labels] node.
func (r Range) Slice(x *Node) *Node {
	return Slice(x, AxisRange(), AxisRange(r.Start, r.End))
}

// Mask returns a constant [width] node, with the dtype of like, that is 1 on
// the columns of r and 0 elsewhere.
func (r Range) Mask(like *Node, width int) *Node {
	m := make([]float32, width)
	for j := max(r.Start, 0); j < min(r.End, width); j++ {
		m[j] = 1
	}
	return asDType(Const(like.Graph(), m), like)
}

// confusion returns the per-column soft true positive, false positive and
// false negative counts.
func confusion(yTrue, yPred *Node) (tp, fp, fn *Node) {
	yTrue = asDType(yTrue, yPred)
	tp = ReduceSum(Mul(yTrue, yPred), 0)
	fp = ReduceSum(Mul(OneMinus(yTrue), yPred), 0)
	fn = ReduceSum(Mul(yTrue, OneMinus(yPred)), 0)
	return
}

// columnF1 returns the F1 of every column, with NaN replaced by 0.
func columnF1(yTrue, yPred *Node) *Node {
	tp, fp, fn := confusion(yTrue, yPred)
	p := Div(tp, AddScalar(Add(tp, fp), Epsilon))
	r := Div(tp, AddScalar(Add(tp, fn), Epsilon))
	f1 := Div(MulScalar(Mul(p, r), 2), AddScalar(Add(p, r), Epsilon))
	return zeroNaN(f1)
}

// asDType converts x to the dtype of like, if needed.
func asDType(x, like *Node) *Node {
	if x.DType() == like.DType() {
		return x
	}
	return ConvertDType(x, like.DType())
}

func zeroNaN(x *Node) *Node {
	return Where(NotEqual(x, x), ZerosLike(x), x)
}

// F1Loss is 1 minus the mean soft F1 over the label columns. Predictions
// are used as probabilities, without rounding.
func F1Loss(yTrue, yPred *Node) *Node {
	return OneMinus(ReduceAllMean(columnF1(yTrue, yPred)))
}

// Decide turns probabilities into 0/1 predictions of the same dtype, with
// the strict rule yPred > Threshold used at inference.
func Decide(yPred *Node) *Node {
	return ConvertDType(GreaterThan(yPred, Scalar(yPred.Graph(), yPred.DType(), Threshold)), yPred.DType())
}

// F1 is the mean F1 score of the decided predictions.
func F1(yTrue, yPred *Node) *Node {
	return OneMinus(F1Loss(yTrue, Decide(yPred)))
}

// WeightedF1Loss is 1 minus the soft F1 averaged over the label columns with
// weights proportional to their number of positive ground truth samples.
// When no column has a positive sample the weighted F1 is 0.
func WeightedF1Loss(yTrue, yPred *Node) *Node {
	f1 := columnF1(yTrue, yPred)
	return OneMinus(weightedF1(f1, support(yTrue, f1), nil))
}

// support returns the number of positive ground truth samples per column.
func support(yTrue, like *Node) *Node {
	return ReduceSum(asDType(yTrue, like), 0)
}

// weightedF1 averages the column scores f1 weighted by their support gp,
// over the columns selected by mask (all columns if mask is nil).
func weightedF1(f1, gp, mask *Node) *Node {
	if mask != nil {
		gp = Mul(gp, mask)
	}
	total := ReduceAllSum(gp)
	// Zero support divides by one, so every weight is 0.
	total = Where(GreaterThan(total, ZerosLike(total)), total, OnesLike(total))
	return ReduceAllSum(zeroNaN(Div(Mul(f1, gp), total)))
}

// WeightedF1 is the weighted F1 score of the decided predictions.
func WeightedF1(yTrue, yPred *Node) *Node {
	return OneMinus(WeightedF1Loss(yTrue, Decide(yPred)))
}

// PartialWeightedF1 returns WeightedF1 restricted to the columns of r.
func PartialWeightedF1(r Range) func(yTrue, yPred *Node) *Node {
	return func(yTrue, yPred *Node) *Node {
		return WeightedF1(r.Slice(yTrue), r.Slice(yPred))
	}
}

// WF1LossP is the training loss: the unweighted mean of WeightedF1Loss over
// the genres, instruments and moods columns, each computed independently.
// Column scores are computed once and the categories selected with constant
// column masks; yPred is never sliced.
func WF1LossP(yTrue, yPred *Node) *Node {
	f1 := columnF1(yTrue, yPred)
	gp := support(yTrue, f1)
	width := yPred.Shape().Dimensions[1]
	var sum *Node
	cats := Categories()
	for _, r := range cats {
		l := OneMinus(weightedF1(f1, gp, r.Mask(f1, width)))
		if sum == nil {
			sum = l
		} else {
			sum = Add(sum, l)
		}
	}
	return DivScalar(sum, float64(len(cats)))
}
