package trainer

import "math"

// EarlyStopping tracks a monitored loss across epochs and signals when it
// has not improved for Patience consecutive epochs. An epoch improves on the
// best loss when loss < best - MinDelta.
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best      float64
	bestEpoch int
	wait      int
	seen      bool
}

// Observe records the loss of epoch. improved reports whether the epoch is
// the new best one; stop reports whether the patience is exhausted.
func (e *EarlyStopping) Observe(epoch int, loss float64) (improved, stop bool) {
	if !e.seen {
		e.best = math.Inf(1)
		e.seen = true
	}
	if loss < e.best-e.MinDelta {
		e.best = loss
		e.bestEpoch = epoch
		e.wait = 0
		return true, false
	}
	e.wait++
	return false, e.wait >= e.Patience
}

// Best returns the best epoch and its loss. Epoch is 0 before any observation.
func (e *EarlyStopping) Best() (epoch int, loss float64) {
	return e.bestEpoch, e.best
}

// Reset forgets all observations.
func (e *EarlyStopping) Reset() {
	*e = EarlyStopping{Patience: e.Patience, MinDelta: e.MinDelta}
}
