package receipt

import (
	"encoding/json"
	"time"

	"github.com/zombor/expense-tracker/internal/categorize"
	"github.com/zombor/expense-tracker/internal/extraction"
)

// Upload is a stored receipt file owned by one user
type Upload struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Filename         string    `json:"filename"`          // stored name: <base>_<YYYYmmdd_HHMMSS>_<id>.<ext>
	OriginalFilename string    `json:"original_filename"` // name as uploaded
	Path             string    `json:"file_path"`         // relative storage path: uploads/<user>/<filename>
	ContentType      string    `json:"content_type"`
	Size             int64     `json:"size"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expense is a confirmed spending record
type Expense struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Category          string          `json:"category"`
	Description       string          `json:"description"`
	AmountCents       int64           `json:"amount_cents"`
	Currency          string          `json:"currency"`
	Date              extraction.Date `json:"date"`
	MerchantName      string          `json:"merchant_name,omitempty"`
	TaxAmountCents    int64           `json:"tax_amount_cents"`
	Notes             string          `json:"notes,omitempty"`
	ReceiptImagePath  string          `json:"receipt_image_path,omitempty"` // empty once the upload is detached
	ReceiptText       string          `json:"receipt_text,omitempty"`
	CreatedByAI       bool            `json:"created_by_ai"`
	AIConfidenceScore float64         `json:"ai_confidence_score"`
	AIExtractedData   json.RawMessage `json:"ai_extracted_data,omitempty"`
	IsBusinessExpense bool            `json:"is_business_expense"`
	IsTaxDeductible   bool            `json:"is_tax_deductible"`
	IsReimbursable    bool            `json:"is_reimbursable"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Analysis is the outcome of running the receipt pipeline over an upload
type Analysis struct {
	FileID            string                 `json:"file_id"`
	Filename          string                 `json:"filename,omitempty"`
	FilePath          string                 `json:"file_path,omitempty"`
	Status            extraction.Status      `json:"status"`
	ExtractedData     extraction.Receipt     `json:"extracted_data"`
	SuggestedCategory *categorize.Prediction `json:"suggested_category"` // nil when AI categorization is disabled
	AIConfidence      float64                `json:"ai_confidence"`
}

// FileInput is one file of a bulk upload
type FileInput struct {
	Filename string
	Data     []byte
}

// BulkItem is the per-file result of a bulk upload
type BulkItem struct {
	Filename string    `json:"filename"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

// BulkSummary counts bulk upload outcomes
type BulkSummary struct {
	TotalFiles int `json:"total_files"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkResult is the outcome of a bulk upload
type BulkResult struct {
	Results []BulkItem  `json:"results"`
	Summary BulkSummary `json:"summary"`
}

// Stats summarizes how much of a user's spending came from receipts
type Stats struct {
	AICreatedExpenses int     `json:"ai_created_expenses"`
	TotalExpenses     int     `json:"total_expenses"`
	UploadedFiles     int     `json:"uploaded_files"`
	AIUsagePercentage float64 `json:"ai_usage_percentage"`
}

// TrainingResult reports a classifier retrain
type TrainingResult struct {
	Source string                     `json:"source"` // "expenses" or "samples"
	Report *categorize.TrainingReport `json:"report"`
}
