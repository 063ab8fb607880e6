package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := loadConfig("")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Model.HiddenUnits, 400)
	assert.Equal(t, cfg.Model.LearningRate, 1e-4)
	assert.Equal(t, cfg.Training.BatchSize, 512)
	assert.Equal(t, cfg.Training.Epochs, 600)
	assert.Equal(t, cfg.Training.Patience, 8)
	assert.Equal(t, cfg.Training.ValidFraction, 0.25)
	assert.Equal(t, cfg.Inference.Chunks, 100)
}

func TestConfigFileAndFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	assert.NilError(t, os.WriteFile(path, []byte(`{"training": {"epochs": 10, "batch_size": 64}}`), 0644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := registerFlags(fs)
	assert.NilError(t, fs.Parse([]string{"-epochs", "3", "-pred", "out.csv.xz"}))

	cfg, err := loadConfig(path)
	assert.NilError(t, err)
	flags.Apply(&cfg)
	assert.Equal(t, cfg.Training.Epochs, 3)
	assert.Equal(t, cfg.Training.BatchSize, 64)
	assert.Equal(t, cfg.Training.Patience, 8)
	assert.Equal(t, cfg.Paths.Predictions, "out.csv.xz")
	// Flags left unset keep the file and default values.
	assert.Equal(t, cfg.Paths.TestX, "test_X.csv")
}

func TestPrintConfig(t *testing.T) {
	cfg, err := loadConfig("")
	assert.NilError(t, err)
	var buf bytes.Buffer
	assert.NilError(t, printConfig(&buf, cfg))
	assert.Assert(t, strings.Contains(buf.String(), `"hidden_units": 400`), buf.String())
	assert.Assert(t, strings.Contains(buf.String(), `"chunks": 100`), buf.String())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read config")
}
