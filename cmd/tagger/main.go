// Command tagger trains the multi-label tag model and scores test sets with it.
//
// Usage:
//
//	tagger train   [flags]   train on -train-x/-train-y, save the model to -model
//	tagger predict [flags]   score -test-x with the model in -model, write -pred
//	tagger run     [flags]   train, then predict
//
// Every command accepts -config FILE (JSON, see defaultConfigJSON) and
// -print-effective-config.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/tagger/datasets"
	"github.com/Noofbiz/tagger/inference"
	"github.com/Noofbiz/tagger/tagnet"
	"github.com/Noofbiz/tagger/trainer"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const historyFile = "history.json"

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s train|predict|run [flags]\n", filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	if command == "-h" || command == "-help" || command == "--help" {
		usage()
		os.Exit(0)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	klog.InitFlags(fs)
	configPath := fs.String("config", "", "JSON configuration file applied over the built-in defaults")
	printEffectiveConfig := fs.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
	flags := registerFlags(fs)
	fs.Parse(os.Args[2:])
	defer klog.Flush()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		klog.Fatalf("%v", err)
	}
	flags.Apply(&cfg)
	if *printEffectiveConfig {
		if err := printConfig(os.Stdout, cfg); err != nil {
			klog.Fatalf("%v", err)
		}
		return
	}

	backend, err := simplego.New(cfg.Backend)
	if err != nil {
		klog.Fatalf("failed to create backend: %v", err)
	}

	switch command {
	case "train":
		err = train(backend, cfg)
	case "predict":
		err = predict(backend, cfg)
	case "run":
		if err = train(backend, cfg); err == nil {
			err = predict(backend, cfg)
		}
	default:
		usage()
		klog.Flush()
		os.Exit(2)
	}
	if err != nil {
		klog.Fatalf("%s failed: %+v", command, err)
	}
}

func train(backend backends.Backend, cfg Config) error {
	features, err := datasets.LoadTable(cfg.Paths.TrainX)
	if err != nil {
		return errors.Wrap(err, "load training features")
	}
	labels, err := datasets.LoadTable(cfg.Paths.TrainY)
	if err != nil {
		return errors.Wrap(err, "load training labels")
	}
	klog.Infof("loaded %s training rows", humanize.Comma(int64(features.Len())))

	ctx := context.New()
	ctx.RngStateFromSeed(cfg.Training.Seed)
	res, err := trainer.Train(backend, ctx, features, labels, cfg.Training, cfg.Model)
	if err != nil {
		return err
	}

	if err := tagnet.SaveModel(ctx, cfg.Paths.ModelDir, labels.Columns); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.OutDir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", cfg.Paths.OutDir)
	}
	if err := res.History.Save(filepath.Join(cfg.Paths.OutDir, historyFile)); err != nil {
		return err
	}
	if err := trainer.PlotHistory(cfg.Paths.OutDir, res.History); err != nil {
		return err
	}

	klog.Infof("training %s after %d epochs (best epoch %d)", res.Stop, res.Epochs, res.BestEpoch)
	fmt.Printf("validation: %s\n", res.Valid.Format("val_"))
	return nil
}

func predict(backend backends.Backend, cfg Config) error {
	model, labelNames, err := inference.LoadModel(backend, cfg.Paths.ModelDir)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.Paths.Predictions); strings.TrimSpace(dir) != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}
	n, err := cfg.pipeline(model, labelNames).Run(cfg.Paths.TestX, cfg.Paths.Predictions)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s predictions to %s\n", humanize.Comma(int64(n)), cfg.Paths.Predictions)
	return nil
}
