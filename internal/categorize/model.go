package categorize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/jbrukh/bayesian"
)

const (
	// ModelFile holds the serialized classifier
	ModelFile = "category_classifier.gob"
	// LabelsFile holds the list of category labels seen during training
	LabelsFile = "categories.json"
)

// ErrNoModel is returned when the model artifacts are missing
var ErrNoModel = errors.New("no trained model")

// Model is a trained naive Bayes text classifier. It is never mutated after
// training or loading, so one instance can serve concurrent requests.
type Model struct {
	classifier *bayesian.Classifier
	labels     []string
}

// Labels returns the category labels the model was trained on
func (m *Model) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Predict returns the most probable label for the tokens and its probability
func (m *Model) Predict(tokens []string) (label string, confidence float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			label, confidence, err = "", 0, fmt.Errorf("classifier panic: %v", r)
		}
	}()

	scores, inx, _, err := m.classifier.SafeProbScores(tokens)
	if err != nil {
		return "", 0, fmt.Errorf("scoring tokens: %w", err)
	}
	if inx < 0 || inx >= len(m.classifier.Classes) {
		return "", 0, fmt.Errorf("class index %d out of range", inx)
	}

	label = string(m.classifier.Classes[inx])
	if label == "" {
		return "", 0, fmt.Errorf("classifier returned an empty label")
	}
	return label, clamp(scores[inx]), nil
}

// Save writes the model and its label list into dir
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	if err := m.classifier.WriteToFile(filepath.Join(dir, ModelFile)); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}

	data, err := json.Marshal(m.labels)
	if err != nil {
		return fmt.Errorf("marshaling labels: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, LabelsFile), data, 0644); err != nil {
		return fmt.Errorf("writing labels: %w", err)
	}
	return nil
}

// LoadModel reads a model saved with Save. Both artifacts must exist;
// ErrNoModel is returned when either one is missing.
func LoadModel(dir string) (*Model, error) {
	modelPath := filepath.Join(dir, ModelFile)
	labelsPath := filepath.Join(dir, LabelsFile)
	for _, p := range []string{modelPath, labelsPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrNoModel
			}
			return nil, fmt.Errorf("checking %s: %w", p, err)
		}
	}

	data, err := os.ReadFile(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("unmarshaling labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label list is empty")
	}

	classifier, err := bayesian.NewClassifierFromFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	if len(classifier.Classes) < 2 {
		return nil, fmt.Errorf("model has %d classes, need at least 2", len(classifier.Classes))
	}

	return &Model{classifier: classifier, labels: labels}, nil
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
