package categorize

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/jbrukh/bayesian"
)

// MinTrainingSamples is the smallest data set Train accepts
const MinTrainingSamples = 10

const (
	testFraction = 0.2
	splitSeed    = 42
)

var (
	// ErrInsufficientData is returned when there are too few samples to train on
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrSingleCategory is returned when every sample has the same label
	ErrSingleCategory = errors.New("training data needs at least two categories")
)

// Sample is one labelled training example
type Sample struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// TrainingReport summarizes a training run
type TrainingReport struct {
	Samples   int      `json:"samples"`
	TrainSize int      `json:"train_size"`
	TestSize  int      `json:"test_size"`
	Accuracy  float64  `json:"accuracy"`
	Labels    []string `json:"labels"`
}

// Train fits a model on the samples. A stratified share of every category
// with at least two samples is held out to measure accuracy.
func Train(samples []Sample) (*Model, *TrainingReport, error) {
	clean := make([]Sample, 0, len(samples))
	for _, s := range samples {
		s.Category = strings.TrimSpace(s.Category)
		if s.Category == "" {
			s.Category = DefaultCategory
		}
		clean = append(clean, s)
	}

	if len(clean) < MinTrainingSamples {
		slog.Warn("Insufficient training data", "samples", len(clean), "required", MinTrainingSamples)
		return nil, nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(clean), MinTrainingSamples)
	}

	labels := distinctLabels(clean)
	if len(labels) < 2 {
		return nil, nil, ErrSingleCategory
	}

	train, test := stratifiedSplit(clean, testFraction, splitSeed)

	classes := make([]bayesian.Class, 0, len(labels))
	for _, l := range labels {
		classes = append(classes, bayesian.Class(l))
	}
	classifier := bayesian.NewClassifier(classes...)
	for _, s := range train {
		classifier.Learn(Tokens(s.Text, ""), bayesian.Class(s.Category))
	}

	model := &Model{classifier: classifier, labels: labels}

	correct := 0
	for _, s := range test {
		label, _, err := model.Predict(Tokens(s.Text, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("evaluating model: %w", err)
		}
		if label == s.Category {
			correct++
		}
	}

	report := &TrainingReport{
		Samples:   len(clean),
		TrainSize: len(train),
		TestSize:  len(test),
		Labels:    labels,
	}
	if len(test) > 0 {
		report.Accuracy = float64(correct) / float64(len(test))
	}

	slog.Info("Model trained",
		"samples", report.Samples,
		"test_size", report.TestSize,
		"accuracy", fmt.Sprintf("%.2f", report.Accuracy),
	)

	return model, report, nil
}

// distinctLabels returns the sorted set of sample categories
func distinctLabels(samples []Sample) []string {
	set := make(map[string]bool)
	for _, s := range samples {
		set[s.Category] = true
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// stratifiedSplit holds out fraction of every category, rounding down but
// keeping at least one test sample for categories with two or more samples.
// Categories with a single sample go entirely to training.
func stratifiedSplit(samples []Sample, fraction float64, seed uint64) (train, test []Sample) {
	groups := make(map[string][]Sample)
	order := make([]string, 0)
	for _, s := range samples {
		if _, ok := groups[s.Category]; !ok {
			order = append(order, s.Category)
		}
		groups[s.Category] = append(groups[s.Category], s)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	for _, label := range order {
		group := groups[label]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		n := 0
		if len(group) >= 2 {
			n = int(float64(len(group)) * fraction)
			if n < 1 {
				n = 1
			}
		}
		test = append(test, group[:n]...)
		train = append(train, group[n:]...)
	}
	return train, test
}
