package tagnet

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Noofbiz/tagger/datasets"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Layout of a saved model directory.
const (
	WeightsDir = "weights"
	LabelsFile = "labels.json"
)

// ErrNoModel is returned when a model directory holds no saved weights.
var ErrNoModel = errors.New("no saved model")

// SaveModel writes the variables of ctx and the label column names to dir.
// Any previous weights in dir are replaced.
func SaveModel(ctx *context.Context, dir string, labelNames []string) error {
	if len(labelNames) != datasets.NumLabels {
		return errors.Wrapf(datasets.ErrSchema, "got %d label names, expected %d", len(labelNames), datasets.NumLabels)
	}
	weights := filepath.Join(dir, WeightsDir)
	if err := os.RemoveAll(weights); err != nil {
		return errors.Wrapf(err, "clear %s", weights)
	}
	if err := os.MkdirAll(weights, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", weights)
	}

	handler, err := checkpoints.Build(ctx).Dir(weights).Keep(1).Done()
	if err != nil {
		return errors.Wrapf(err, "create checkpoint handler in %s", weights)
	}
	if err := handler.Save(); err != nil {
		return errors.Wrapf(err, "save checkpoint in %s", weights)
	}

	data, err := json.MarshalIndent(labelNames, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode label names")
	}
	if err := os.WriteFile(filepath.Join(dir, LabelsFile), data, 0644); err != nil {
		return errors.Wrap(err, "write label names")
	}
	klog.Infof("model saved to %s", dir)
	return nil
}

// LoadModel returns a context holding the weights saved in dir by
// SaveModel, the architecture configuration they were trained with and the
// label column names.
func LoadModel(dir string) (*context.Context, Config, []string, error) {
	weights := filepath.Join(dir, WeightsDir)
	if _, err := os.Stat(weights); err != nil {
		return nil, Config{}, nil, errors.Wrapf(ErrNoModel, "%s: %v", dir, err)
	}
	ctx := context.New()
	if _, err := checkpoints.Build(ctx).Dir(weights).Done(); err != nil {
		return nil, Config{}, nil, errors.Wrapf(err, "load checkpoint from %s", weights)
	}

	data, err := os.ReadFile(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, Config{}, nil, errors.Wrap(err, "read label names")
	}
	var labelNames []string
	if err := json.Unmarshal(data, &labelNames); err != nil {
		return nil, Config{}, nil, errors.Wrap(err, "decode label names")
	}
	if len(labelNames) != datasets.NumLabels {
		return nil, Config{}, nil, errors.Wrapf(datasets.ErrSchema, "%s lists %d labels, expected %d", LabelsFile, len(labelNames), datasets.NumLabels)
	}
	return ctx, ConfigFromParams(ctx), labelNames, nil
}
