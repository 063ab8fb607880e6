package tagnet

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Config holds configurable hyperparameters of the tag model.
type Config struct {
	// HiddenUnits is the width of the shared dense layer of every block.
	// If zero, 400 is used.
	HiddenUnits int `json:"hidden_units"`

	// Expansion scales the width of the per-group dense layers relative to
	// the width of their concatenated inputs. If zero, 1.2 is used.
	Expansion float64 `json:"expansion"`

	// DropoutRate applied after the shared dense layer while training.
	// If zero, 0.1 is used; a negative value disables dropout.
	DropoutRate float64 `json:"dropout_rate"`

	// LearningRate of the Adam optimizer. If zero, 1e-4 is used.
	LearningRate float64 `json:"learning_rate"`
}

// DefaultConfig returns the configuration of the reference architecture.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.HiddenUnits == 0 {
		c.HiddenUnits = 400
	}
	if c.Expansion == 0 {
		c.Expansion = 1.2
	}
	if c.DropoutRate == 0 {
		c.DropoutRate = 0.1
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-4
	}
	return c
}

// Context parameter keys, saved along with the checkpoints.
const (
	ParamHiddenUnits = "tagnet_hidden_units"
	ParamExpansion   = "tagnet_expansion"
	ParamDropoutRate = "tagnet_dropout_rate"
)

// SetParams records the architecture hyperparameters in ctx.
func (c Config) SetParams(ctx *context.Context) {
	ctx.SetParam(ParamHiddenUnits, c.HiddenUnits)
	ctx.SetParam(ParamExpansion, c.Expansion)
	ctx.SetParam(ParamDropoutRate, c.DropoutRate)
}

// ConfigFromParams reads back the hyperparameters recorded by SetParams,
// falling back to the defaults for missing keys.
func ConfigFromParams(ctx *context.Context) Config {
	def := DefaultConfig()
	return Config{
		HiddenUnits:  context.GetParamOr(ctx, ParamHiddenUnits, def.HiddenUnits),
		Expansion:    context.GetParamOr(ctx, ParamExpansion, def.Expansion),
		DropoutRate:  context.GetParamOr(ctx, ParamDropoutRate, def.DropoutRate),
		LearningRate: def.LearningRate,
	}
}
