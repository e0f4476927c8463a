package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/categorize"
	"github.com/zombor/expense-tracker/internal/receipt"
)

func main() {
	fs := ff.NewFlagSet("train-classifier")
	var (
		samplesPath = fs.StringLong("samples", "", "JSON file with [{\"text\": ..., \"category\": ...}] samples")
		dbPath      = fs.StringLong("db", "", "Train on the expenses stored in this database")
		modelDir    = fs.StringLong("model-dir", "./models", "Directory to write the trained classifier to")
		categories  = fs.StringLong("categories", "", "YAML file with categories (defaults to the built-in set)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	taxonomy := categorize.DefaultTaxonomy()
	if *categories != "" {
		var err error
		taxonomy, err = categorize.LoadTaxonomy(*categories)
		if err != nil {
			slog.Error("Failed to load categories", "path", *categories, "error", err)
			os.Exit(1)
		}
	}

	var (
		samples []categorize.Sample
		err     error
	)
	switch {
	case *samplesPath != "":
		samples, err = readSamples(*samplesPath)
	case *dbPath != "":
		samples, err = expenseSamples(*dbPath)
	default:
		slog.Info("No training data given, using built-in sample data")
		samples = categorize.SampleData()
	}
	if err != nil {
		slog.Error("Failed to load training data", "error", err)
		os.Exit(1)
	}

	known := samples[:0]
	for _, s := range samples {
		if !taxonomy.Contains(s.Category) {
			slog.Warn("Skipping sample with unknown category", "category", s.Category)
			continue
		}
		known = append(known, s)
	}

	model, report, err := categorize.Train(known)
	if err != nil {
		slog.Error("Training failed", "error", err)
		os.Exit(1)
	}
	if err := model.Save(*modelDir); err != nil {
		slog.Error("Failed to save model", "dir", *modelDir, "error", err)
		os.Exit(1)
	}

	slog.Info("Model trained",
		"dir", *modelDir,
		"samples", report.Samples,
		"train", report.TrainSize,
		"test", report.TestSize,
		"accuracy", fmt.Sprintf("%.3f", report.Accuracy),
		"labels", strings.Join(report.Labels, ", "),
	)
}

func readSamples(path string) ([]categorize.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	var samples []categorize.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parsing samples: %w", err)
	}
	return samples, nil
}

func expenseSamples(path string) ([]categorize.Sample, error) {
	db, err := receipt.NewBoltDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	expenses, err := db.ListAllExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	samples := make([]categorize.Sample, 0, len(expenses))
	for _, e := range expenses {
		samples = append(samples, categorize.Sample{
			Text:     strings.TrimSpace(e.Description + " " + e.MerchantName),
			Category: e.Category,
		})
	}
	return samples, nil
}
