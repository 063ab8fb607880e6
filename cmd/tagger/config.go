package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Noofbiz/tagger/inference"
	"github.com/Noofbiz/tagger/tagnet"
	"github.com/Noofbiz/tagger/trainer"

	"github.com/pkg/errors"
)

// defaultConfigJSON holds the reference hyperparameters. A file given with
// -config is applied on top of it, and explicitly set flags on top of both.
const defaultConfigJSON = `{
  "backend": "",
  "paths": {
    "train_x": "train_X.csv",
    "train_y": "train_y.csv",
    "test_x": "test_X.csv",
    "model_dir": "output/model",
    "out_dir": "output",
    "predictions": "output/prediction.csv"
  },
  "model": {
    "hidden_units": 400,
    "expansion": 1.2,
    "dropout_rate": 0.1,
    "learning_rate": 0.0001
  },
  "training": {
    "batch_size": 512,
    "epochs": 600,
    "patience": 8,
    "min_delta": 0,
    "valid_fraction": 0.25,
    "seed": 42,
    "skip_train_eval": false
  },
  "inference": {
    "chunks": 100
  }
}
`

// Paths of the files a command reads and writes.
type Paths struct {
	TrainX      string `json:"train_x"`
	TrainY      string `json:"train_y"`
	TestX       string `json:"test_x"`
	ModelDir    string `json:"model_dir"`
	OutDir      string `json:"out_dir"`
	Predictions string `json:"predictions"`
}

// InferenceConfig configures the prediction pipeline.
type InferenceConfig struct {
	Chunks int `json:"chunks"`
}

// Config is the effective configuration of a command.
type Config struct {
	// Backend is the simplego backend configuration, e.g. "parallelism=-1".
	Backend   string          `json:"backend"`
	Paths     Paths           `json:"paths"`
	Model     tagnet.Config   `json:"model"`
	Training  trainer.Config  `json:"training"`
	Inference InferenceConfig `json:"inference"`
}

// loadConfig returns the embedded defaults overlaid with the JSON file at
// path, if any.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(defaultConfigJSON), &cfg); err != nil {
		return cfg, errors.Wrap(err, "decode default config")
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

// overrides binds flags whose values replace config fields when set on the
// command line.
type overrides struct {
	fs    *flag.FlagSet
	apply map[string]func(*Config)
}

func newOverrides(fs *flag.FlagSet) *overrides {
	return &overrides{fs: fs, apply: make(map[string]func(*Config))}
}

func (o *overrides) String(name, usage string, field func(*Config) *string) {
	v := o.fs.String(name, "", usage)
	o.apply[name] = func(c *Config) { *field(c) = *v }
}

func (o *overrides) Int(name, usage string, field func(*Config) *int) {
	v := o.fs.Int(name, 0, usage)
	o.apply[name] = func(c *Config) { *field(c) = *v }
}

func (o *overrides) Int64(name, usage string, field func(*Config) *int64) {
	v := o.fs.Int64(name, 0, usage)
	o.apply[name] = func(c *Config) { *field(c) = *v }
}

func (o *overrides) Float64(name, usage string, field func(*Config) *float64) {
	v := o.fs.Float64(name, 0, usage)
	o.apply[name] = func(c *Config) { *field(c) = *v }
}

func (o *overrides) Bool(name, usage string, field func(*Config) *bool) {
	v := o.fs.Bool(name, false, usage)
	o.apply[name] = func(c *Config) { *field(c) = *v }
}

// Apply copies the explicitly set flags into cfg.
func (o *overrides) Apply(cfg *Config) {
	o.fs.Visit(func(f *flag.Flag) {
		if fn, ok := o.apply[f.Name]; ok {
			fn(cfg)
		}
	})
}

// registerFlags declares the config flags shared by all commands.
func registerFlags(fs *flag.FlagSet) *overrides {
	o := newOverrides(fs)
	o.String("backend-config", "simplego backend configuration", func(c *Config) *string { return &c.Backend })
	o.String("train-x", "training features CSV", func(c *Config) *string { return &c.Paths.TrainX })
	o.String("train-y", "training labels CSV", func(c *Config) *string { return &c.Paths.TrainY })
	o.String("test-x", "test features CSV", func(c *Config) *string { return &c.Paths.TestX })
	o.String("model", "directory of the saved model", func(c *Config) *string { return &c.Paths.ModelDir })
	o.String("out", "directory for the training history and plots", func(c *Config) *string { return &c.Paths.OutDir })
	o.String("pred", "predictions CSV to write (compressed if it ends in .xz)", func(c *Config) *string { return &c.Paths.Predictions })

	o.Int("hidden-units", "width of the shared dense layers", func(c *Config) *int { return &c.Model.HiddenUnits })
	o.Float64("expansion", "width factor of the per-group dense layers", func(c *Config) *float64 { return &c.Model.Expansion })
	o.Float64("dropout", "dropout rate after the shared dense layers (negative disables)", func(c *Config) *float64 { return &c.Model.DropoutRate })
	o.Float64("learning-rate", "Adam learning rate", func(c *Config) *float64 { return &c.Model.LearningRate })

	o.Int("batch-size", "training batch size", func(c *Config) *int { return &c.Training.BatchSize })
	o.Int("epochs", "maximum number of epochs", func(c *Config) *int { return &c.Training.Epochs })
	o.Int("patience", "epochs without improvement before stopping", func(c *Config) *int { return &c.Training.Patience })
	o.Float64("min-delta", "minimum validation loss decrease counted as improvement", func(c *Config) *float64 { return &c.Training.MinDelta })
	o.Float64("valid-fraction", "fraction of rows held out for validation", func(c *Config) *float64 { return &c.Training.ValidFraction })
	o.Int64("seed", "random seed", func(c *Config) *int64 { return &c.Training.Seed })
	o.Bool("skip-train-eval", "do not evaluate the training set every epoch", func(c *Config) *bool { return &c.Training.SkipTrainEval })

	o.Int("chunks", "number of chunks the test set is scored in", func(c *Config) *int { return &c.Inference.Chunks })
	return o
}

func printConfig(w io.Writer, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// pipeline returns the prediction pipeline for a loaded model.
func (c Config) pipeline(scorer inference.Scorer, labelNames []string) *inference.Pipeline {
	return &inference.Pipeline{Scorer: scorer, LabelNames: labelNames, Chunks: c.Inference.Chunks}
}
