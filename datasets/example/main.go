package main

// Example command that loads a feature table (and optionally its labels),
// splits it into the 6 model inputs and prints the shapes of a small batch
// of gomlx tensors built from it.
//
// Usage:
//   go run ./datasets/example -x train_X.csv -y train_y.csv

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/tagger/datasets"
)

func main() {
	xPath := flag.String("x", "train_X.csv", "features CSV")
	yPath := flag.String("y", "", "labels CSV (optional)")
	batch := flag.Int("batch", 8, "number of rows to convert")
	flag.Parse()

	features, err := datasets.LoadTable(*xPath)
	if err != nil {
		log.Fatalf("failed to load features: %v", err)
	}
	fmt.Printf("Loaded %s: %d rows x %d columns\n", *xPath, features.Len(), features.Width())

	groups, err := datasets.SplitTable(features)
	if err != nil {
		log.Fatalf("failed to split features: %v", err)
	}

	n := min(*batch, features.Len())
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	for g, t := range datasets.GroupTensors(groups, rows) {
		fmt.Printf("  %-22s %s\n", datasets.Group(g), t.Shape())
	}

	if *yPath == "" {
		return
	}
	labels, err := datasets.LoadTable(*yPath)
	if err != nil {
		log.Fatalf("failed to load labels: %v", err)
	}
	ds, err := datasets.NewTagDataset("example", features, labels, n, false, 0)
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}
	_, inputs, lbls, err := ds.Yield()
	if err != nil {
		log.Fatalf("failed to yield a batch: %v", err)
	}
	fmt.Printf("First batch: %d inputs, labels %s\n", len(inputs), lbls[0].Shape())
	if n > 0 {
		fmt.Printf("  First example ids: %s / %s\n", features.IDs[0], labels.IDs[0])
	}
}
