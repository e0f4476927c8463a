package receipt

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/categorize"
	"github.com/zombor/expense-tracker/internal/extraction"
	"github.com/zombor/expense-tracker/internal/scanning"
)

const (
	// MaxFileSize is the largest accepted receipt file
	MaxFileSize = 16 << 20
	// MaxBulkFiles caps the number of files in one bulk upload
	MaxBulkFiles = 10
	// rawTextPreview is how much OCR text an upload response carries
	rawTextPreview = 500
)

// AllowedExtensions lists the accepted receipt file types
var AllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "pdf", "heic", "heif"}

var (
	// ErrInvalidFile is returned for uploads with a bad type or size
	ErrInvalidFile = errors.New("invalid file")
	// ErrNoFiles is returned for a bulk upload without files
	ErrNoFiles = errors.New("no files provided")
	// ErrTooManyFiles is returned when a bulk upload exceeds MaxBulkFiles
	ErrTooManyFiles = fmt.Errorf("maximum %d files allowed per bulk upload", MaxBulkFiles)
	// ErrValidation is returned when an expense request is malformed
	ErrValidation = errors.New("validation failed")
)

// IDGenerator generates unique IDs for uploads and expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates short random IDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()[:8]
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configures a Service
type Options struct {
	// ModelDir holds the trained classifier artifacts
	ModelDir string
	// EnableAI turns on category suggestions for uploads
	EnableAI bool
}

// Service runs the receipt-to-expense pipeline
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	classifier  *categorize.Holder
	opts        Options
	validate    *validator.Validate
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage, classifier *categorize.Holder, opts Options) *Service {
	return NewServiceWithDeps(db, scanner, storage, classifier, opts, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, classifier *categorize.Holder, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		classifier:  classifier,
		opts:        opts,
		validate:    newValidator(),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	underscores = regexp.MustCompile(`_+`)
)

// sanitizeFilename reduces a filename to a safe base name and lower-case extension
func sanitizeFilename(filename string) (base, ext string) {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	base = strings.TrimSuffix(filename, filepath.Ext(filename))

	base = strings.Join(strings.Fields(base), "_")
	base = unsafeChars.ReplaceAllString(base, "")
	base = underscores.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")

	// Truncate to reasonable length
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base, ext
}

// validateFile checks the extension and size of an upload
func validateFile(filename string, size int) error {
	_, ext := sanitizeFilename(filename)
	if !slices.Contains(AllowedExtensions, ext) {
		return fmt.Errorf("%w: file type not allowed, allowed types: %s", ErrInvalidFile, strings.Join(AllowedExtensions, ", "))
	}
	if size == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: file is too large, maximum size is %dMB", ErrInvalidFile, MaxFileSize>>20)
	}
	return nil
}

// uploadDir is the storage directory of a user's receipts
func uploadDir(userID string) string {
	return path.Join("uploads", userID)
}

// UploadReceipt stores a receipt file, extracts its fields and suggests a category
func (s *Service) UploadReceipt(ctx context.Context, userID, filename string, data []byte) (*Analysis, error) {
	if err := validateFile(filename, len(data)); err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	base, ext := sanitizeFilename(filename)
	storedName := fmt.Sprintf("%s_%s_%s.%s", base, now.Format("20060102_150405"), id, ext)

	upload := &Upload{
		ID:               id,
		UserID:           userID,
		Filename:         storedName,
		OriginalFilename: filename,
		Path:             path.Join(uploadDir(userID), storedName),
		ContentType:      scanning.ContentTypeForExt(ext),
		Size:             int64(len(data)),
		CreatedAt:        now,
	}

	if err := s.storage.Save(upload.Path, data); err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	if err := s.db.SaveUpload(upload); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(upload.Path); delErr != nil {
			slog.Warn("Failed to delete file", "path", upload.Path, "error", delErr)
		}
		return nil, fmt.Errorf("saving upload to database: %w", err)
	}

	analysis := s.analyze(ctx, upload, data)
	analysis.ExtractedData.RawText = truncateText(analysis.ExtractedData.RawText, rawTextPreview)
	return analysis, nil
}

// BulkUpload processes up to MaxBulkFiles receipts one after another. A
// failing file is reported in its result and does not stop the others.
func (s *Service) BulkUpload(ctx context.Context, userID string, files []FileInput) (*BulkResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > MaxBulkFiles {
		return nil, ErrTooManyFiles
	}

	result := &BulkResult{
		Results: make([]BulkItem, 0, len(files)),
		Summary: BulkSummary{TotalFiles: len(files)},
	}
	for _, f := range files {
		item := BulkItem{Filename: f.Filename}
		analysis, err := s.UploadReceipt(ctx, userID, f.Filename, f.Data)
		switch {
		case err == nil:
			item.Success = true
			item.Analysis = analysis
			result.Summary.Successful++
		case errors.Is(err, ErrInvalidFile):
			item.Error = err.Error()
		default:
			slog.Error("Error processing file", "filename", f.Filename, "error", err)
			item.Error = "failed to process file"
		}
		result.Results = append(result.Results, item)
	}
	result.Summary.Failed = result.Summary.TotalFiles - result.Summary.Successful
	return result, nil
}

// ReprocessReceipt runs the pipeline again over a stored upload
func (s *Service) ReprocessReceipt(ctx context.Context, userID, fileID string) (*Analysis, error) {
	upload, err := s.db.GetUpload(userID, fileID)
	if err != nil {
		return nil, fmt.Errorf("getting upload: %w", err)
	}

	data, err := s.storage.Get(upload.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading stored file: %v", ErrNotFound, err)
	}

	analysis := s.analyze(ctx, upload, data)
	analysis.Filename = ""
	analysis.FilePath = ""
	return analysis, nil
}

// analyze runs extraction and categorization. It never fails.
func (s *Service) analyze(ctx context.Context, upload *Upload, data []byte) *Analysis {
	result := s.scanner.ScanReceipt(ctx, data, upload.ContentType)
	slog.Info("Receipt processed",
		"file_id", upload.ID,
		"status", result.Status,
		"confidence", result.Receipt.ConfidenceScore,
	)

	analysis := &Analysis{
		FileID:        upload.ID,
		Filename:      upload.Filename,
		FilePath:      upload.Path,
		Status:        result.Status,
		ExtractedData: result.Receipt,
	}

	if s.opts.EnableAI {
		merchant := ""
		if result.Receipt.MerchantName != nil {
			merchant = *result.Receipt.MerchantName
		}
		prediction := s.classifier.Current().Predict(result.Receipt.RawText, merchant)
		analysis.SuggestedCategory = &prediction
		analysis.AIConfidence = math.Round(prediction.Confidence*100) / 100
	}
	return analysis
}

// truncateText cuts text to n runes and marks the cut with "..."
func truncateText(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// CreateExpenseRequest confirms an expense from an analyzed receipt
type CreateExpenseRequest struct {
	FilePath          string          `json:"file_path" validate:"required"`
	Description       string          `json:"description" validate:"required,max=255"`
	Amount            decimal.Decimal `json:"amount"`
	Category          string          `json:"category" validate:"required"`
	Date              string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Currency          string          `json:"currency" validate:"omitempty,len=3,alpha"`
	MerchantName      string          `json:"merchant_name" validate:"max=255"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	Notes             string          `json:"notes"`
	RawText           string          `json:"raw_text"`
	AIConfidence      float64         `json:"ai_confidence" validate:"gte=0,lte=1"`
	ExtractedData     json.RawMessage `json:"extracted_data"`
	IsBusinessExpense bool            `json:"is_business_expense"`
	IsTaxDeductible   bool            `json:"is_tax_deductible"`
	IsReimbursable    bool            `json:"is_reimbursable"`
}

// validationError turns validator failures into a single ErrValidation
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, ", "))
}

// toCents rounds a currency amount to whole cents
func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// CreateExpenseFromReceipt validates the request and stores a new expense
// pointing back at the uploaded file
func (s *Service) CreateExpenseFromReceipt(userID string, req CreateExpenseRequest) (*Expense, error) {
	req.Description = strings.TrimSpace(req.Description)
	req.MerchantName = strings.TrimSpace(req.MerchantName)
	req.Notes = strings.TrimSpace(req.Notes)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
	}
	if req.TaxAmount.IsNegative() {
		return nil, fmt.Errorf("%w: tax_amount must not be negative", ErrValidation)
	}
	if !s.classifier.Current().Taxonomy().Contains(req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, req.Category)
	}
	if path.Dir(req.FilePath) != uploadDir(userID) {
		return nil, fmt.Errorf("%w: file_path does not belong to user", ErrValidation)
	}

	now := s.timeSource.Now()
	date := extraction.NewDate(now.Year(), now.Month(), now.Day())
	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date format, use YYYY-MM-DD", ErrValidation)
		}
		date = extraction.NewDate(t.Year(), t.Month(), t.Day())
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	expense := &Expense{
		ID:                s.idGenerator.Generate(),
		UserID:            userID,
		Category:          req.Category,
		Description:       req.Description,
		AmountCents:       toCents(req.Amount),
		Currency:          currency,
		Date:              date,
		MerchantName:      req.MerchantName,
		TaxAmountCents:    toCents(req.TaxAmount),
		Notes:             req.Notes,
		ReceiptImagePath:  req.FilePath,
		ReceiptText:       req.RawText,
		CreatedByAI:       true,
		AIConfidenceScore: req.AIConfidence,
		AIExtractedData:   req.ExtractedData,
		IsBusinessExpense: req.IsBusinessExpense,
		IsTaxDeductible:   req.IsTaxDeductible,
		IsReimbursable:    req.IsReimbursable,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.SaveExpense(expense); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return expense, nil
}

// DeleteUpload removes an upload and its file. When an expense still
// references the file, the reference is cleared instead and the file is
// kept; detached reports which of the two happened.
func (s *Service) DeleteUpload(userID, fileID string) (detached bool, err error) {
	upload, err := s.db.GetUpload(userID, fileID)
	if err != nil {
		return false, fmt.Errorf("getting upload for deletion: %w", err)
	}

	expenses, err := s.db.ListExpenses(userID)
	if err != nil {
		return false, fmt.Errorf("listing expenses: %w", err)
	}
	for _, expense := range expenses {
		if expense.ReceiptImagePath != upload.Path {
			continue
		}
		expense.ReceiptImagePath = ""
		expense.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveExpense(expense); err != nil {
			return false, fmt.Errorf("detaching upload from expense %s: %w", expense.ID, err)
		}
		detached = true
	}
	if detached {
		return true, nil
	}

	// Delete file
	if err := s.storage.Delete(upload.Path); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "path", upload.Path, "error", err)
	}

	if err := s.db.DeleteUpload(userID, fileID); err != nil {
		return false, fmt.Errorf("deleting upload from database: %w", err)
	}
	return false, nil
}

// UploadStats counts a user's receipt-created expenses and stored files
func (s *Service) UploadStats(userID string) (*Stats, error) {
	expenses, err := s.db.ListExpenses(userID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	uploads, err := s.db.ListUploads(userID)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}

	stats := &Stats{TotalExpenses: len(expenses), UploadedFiles: len(uploads)}
	for _, e := range expenses {
		if e.CreatedByAI {
			stats.AICreatedExpenses++
		}
	}
	if stats.TotalExpenses > 0 {
		pct := float64(stats.AICreatedExpenses) / float64(stats.TotalExpenses) * 100
		stats.AIUsagePercentage = math.Round(pct*100) / 100
	}
	return stats, nil
}

// GetUploadFile retrieves the stored file of an upload
func (s *Service) GetUploadFile(userID, fileID string) ([]byte, string, error) {
	upload, err := s.db.GetUpload(userID, fileID)
	if err != nil {
		return nil, "", fmt.Errorf("getting upload: %w", err)
	}

	data, err := s.storage.Get(upload.Path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading stored file: %v", ErrNotFound, err)
	}
	return data, upload.ContentType, nil
}

// GetExpense retrieves one of the user's expenses
func (s *Service) GetExpense(userID, id string) (*Expense, error) {
	expense, err := s.db.GetExpense(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns the user's expenses, newest first
func (s *Service) ListExpenses(userID string) ([]*Expense, error) {
	expenses, err := s.db.ListExpenses(userID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	slices.SortFunc(expenses, func(a, b *Expense) int {
		if c := b.Date.Compare(a.Date.Time); c != 0 {
			return c
		}
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return expenses, nil
}

// DeleteExpense removes one of the user's expenses. The receipt file stays.
func (s *Service) DeleteExpense(userID, id string) error {
	if err := s.db.DeleteExpense(userID, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// Categorize suggests a category for free text
func (s *Service) Categorize(description, merchant string) categorize.Prediction {
	return s.classifier.Current().Predict(description, merchant)
}

// ReloadClassifier swaps in the model stored in the model directory
func (s *Service) ReloadClassifier() error {
	return s.classifier.Reload(s.opts.ModelDir)
}

// RetrainClassifier trains a new model from stored expenses and swaps it in.
// The built-in sample set is added when expenses alone cannot train a model.
func (s *Service) RetrainClassifier() (*TrainingResult, error) {
	expenses, err := s.db.ListAllExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}

	taxonomy := s.classifier.Current().Taxonomy()
	samples := make([]categorize.Sample, 0, len(expenses))
	labels := map[string]bool{}
	for _, e := range expenses {
		if !taxonomy.Contains(e.Category) {
			continue
		}
		samples = append(samples, categorize.Sample{
			Text:     strings.TrimSpace(e.Description + " " + e.MerchantName),
			Category: e.Category,
		})
		labels[e.Category] = true
	}

	source := "expenses"
	if len(samples) < categorize.MinTrainingSamples || len(labels) < 2 {
		slog.Info("Not enough expenses to train on, adding sample data", "expenses", len(samples))
		samples = append(samples, categorize.SampleData()...)
		source = "samples"
	}

	report, err := s.classifier.Retrain(samples, s.opts.ModelDir)
	if err != nil {
		return nil, err
	}
	slog.Info("Classifier retrained", "source", source, "samples", report.Samples, "accuracy", report.Accuracy)
	return &TrainingResult{Source: source, Report: report}, nil
}
