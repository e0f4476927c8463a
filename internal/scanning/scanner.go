package scanning

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"github.com/zombor/expense-tracker/internal/extraction"
)

// Engine recognizes text in a preprocessed image
type Engine interface {
	// Recognize returns the text found in the image
	Recognize(ctx context.Context, img image.Image) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt turns an encoded receipt image into structured fields.
	// It never fails; problems show up as a non-ok status and empty fields.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) extraction.Result
	// Close closes the scanner and releases resources
	Close() error
}

// Extractor runs the preprocess, OCR and parse stages over a receipt image
type Extractor struct {
	preprocessor *Preprocessor
	engine       Engine
}

// NewExtractor creates an Extractor using engine for text recognition
func NewExtractor(preprocessor *Preprocessor, engine Engine) *Extractor {
	if preprocessor == nil {
		preprocessor = NewPreprocessor(DefaultPreprocessOptions())
	}
	return &Extractor{preprocessor: preprocessor, engine: engine}
}

// ExtractText preprocesses the image and returns its trimmed text. Failures
// are logged and yield an empty string.
func (e *Extractor) ExtractText(ctx context.Context, imageData []byte, contentType string) (string, bool) {
	img, degraded, err := e.preprocessor.Process(imageData, contentType)
	if err != nil {
		slog.Error("Error preparing image for text extraction", "content_type", contentType, "error", err)
		return "", degraded
	}

	text, err := e.engine.Recognize(ctx, img)
	if err != nil {
		slog.Error("Error extracting text from image", "error", err)
		return "", degraded
	}
	return strings.TrimSpace(text), degraded
}

// ScanReceipt extracts text from the image and parses it into receipt fields
func (e *Extractor) ScanReceipt(ctx context.Context, imageData []byte, contentType string) extraction.Result {
	text, degraded := e.ExtractText(ctx, imageData, contentType)
	if text == "" {
		return extraction.Result{Status: extraction.StatusNoText, Receipt: extraction.Empty()}
	}

	status := extraction.StatusOK
	if degraded {
		status = extraction.StatusDegraded
	}
	return extraction.Result{Status: status, Receipt: extraction.Parse(text)}
}

// Close closes the underlying engine
func (e *Extractor) Close() error {
	return e.engine.Close()
}
