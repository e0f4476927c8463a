package categorize

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const (
	// NoModelConfidence is reported for keyword matches when no model is loaded
	NoModelConfidence = 0.5
	// ErrorConfidence is reported for keyword matches after a model failure
	ErrorConfidence = 0.3
)

// Source tells which path produced a prediction
type Source string

const (
	SourceModel    Source = "model"
	SourceKeywords Source = "keywords"
	SourceFallback Source = "fallback_error"
)

// Prediction is a suggested category with a confidence in [0,1]
type Prediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Classifier assigns spending categories to free text. A Classifier is
// immutable; replace it through a Holder to pick up a new model.
type Classifier struct {
	taxonomy *Taxonomy
	model    *Model
}

// New creates a Classifier. A nil model puts it in keyword mode.
func New(taxonomy *Taxonomy, model *Model) *Classifier {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	return &Classifier{taxonomy: taxonomy, model: model}
}

// Load creates a Classifier with the model stored in dir, or a keyword-only
// Classifier when the artifacts are missing or unreadable.
func Load(taxonomy *Taxonomy, dir string) *Classifier {
	model, err := LoadModel(dir)
	switch {
	case errors.Is(err, ErrNoModel):
		slog.Info("No trained model found, using keyword categorization", "dir", dir)
	case err != nil:
		slog.Warn("Failed to load trained model, using keyword categorization", "dir", dir, "error", err)
	default:
		slog.Info("Trained model loaded", "dir", dir, "labels", len(model.Labels()))
	}
	return New(taxonomy, model)
}

// HasModel reports whether a trained model is in use
func (c *Classifier) HasModel() bool {
	return c.model != nil
}

// Taxonomy returns the keyword taxonomy
func (c *Classifier) Taxonomy() *Taxonomy {
	return c.taxonomy
}

// Predict suggests a category for an expense. It never fails: model errors
// and labels outside the taxonomy fall back to keyword matching, and keyword
// matching falls back to the taxonomy's default category.
func (c *Classifier) Predict(description, merchant string) Prediction {
	text := description
	if merchant != "" {
		text += " " + merchant
	}

	if c.model == nil {
		return Prediction{
			Category:   c.taxonomy.Match(text),
			Confidence: NoModelConfidence,
			Source:     SourceKeywords,
		}
	}

	label, confidence, err := c.model.Predict(Tokens(description, merchant))
	if err == nil && !c.taxonomy.Contains(label) {
		err = fmt.Errorf("model label %q is not a known category", label)
	}
	if err != nil {
		slog.Error("Error predicting category", "error", err)
		return c.fallback(text)
	}

	return Prediction{Category: label, Confidence: clamp(confidence), Source: SourceModel}
}

func (c *Classifier) fallback(text string) Prediction {
	return Prediction{
		Category:   c.taxonomy.Match(text),
		Confidence: ErrorConfidence,
		Source:     SourceFallback,
	}
}

// Holder shares the current Classifier between request handlers and lets
// reload and retrain operations swap it atomically.
type Holder struct {
	current atomic.Pointer[Classifier]
}

// NewHolder creates a Holder serving c
func NewHolder(c *Classifier) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the classifier in use
func (h *Holder) Current() *Classifier {
	return h.current.Load()
}

// Replace swaps in a new classifier
func (h *Holder) Replace(c *Classifier) {
	h.current.Store(c)
}

// Reload loads the model stored in dir and swaps it in. The current
// classifier is kept when loading fails.
func (h *Holder) Reload(dir string) error {
	model, err := LoadModel(dir)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	h.Replace(New(h.Current().Taxonomy(), model))
	return nil
}

// Retrain trains a model on samples, saves it to dir and swaps it in
func (h *Holder) Retrain(samples []Sample, dir string) (*TrainingReport, error) {
	model, report, err := Train(samples)
	if err != nil {
		return nil, fmt.Errorf("training model: %w", err)
	}
	if err := model.Save(dir); err != nil {
		return nil, fmt.Errorf("saving model: %w", err)
	}
	h.Replace(New(h.Current().Taxonomy(), model))
	return report, nil
}
