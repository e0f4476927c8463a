package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/zombor/expense-tracker/internal/categorize"
)

// envelope is the JSON shape of every API response
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// maxFormSize bounds a request body: a full bulk upload plus form overhead
const maxFormSize = MaxBulkFiles*MaxFileSize + 1<<20

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{Status: "error", Message: message})
}

// writeServiceError maps service errors to status codes. Internal failures
// are logged and reported with the generic message.
func writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, categorize.ErrNoModel):
		writeError(w, http.StatusNotFound, "No trained model found")
	case errors.Is(err, ErrInvalidFile), errors.Is(err, ErrValidation),
		errors.Is(err, ErrNoFiles), errors.Is(err, ErrTooManyFiles):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message)
	}
}

// readFormFile reads one multipart file
func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening form file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading form file: %w", err)
	}
	return data, nil
}

// parseForm parses a multipart request body of bounded size
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request is too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return false
	}
	return true
}

// handleUploadReceipt stores a receipt and returns its extracted fields
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 || files[0].Filename == "" {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	header := files[0]
	if header.Size > MaxFileSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File is too large. Maximum size is %dMB", MaxFileSize>>20))
		return
	}

	data, err := readFormFile(header)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	analysis, err := s.service.UploadReceipt(r.Context(), userFromContext(r.Context()), header.Filename, data)
	if err != nil {
		writeServiceError(w, err, "Failed to upload and process receipt")
		return
	}
	writeSuccess(w, http.StatusOK, "Receipt uploaded and processed successfully", analysis)
}

// handleBulkUpload processes several receipts in one request
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded")
		return
	}
	if len(headers) > MaxBulkFiles {
		writeError(w, http.StatusBadRequest, ErrTooManyFiles.Error())
		return
	}

	files := make([]FileInput, 0, len(headers))
	for _, h := range headers {
		data, err := readFormFile(h)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", h.Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file")
			return
		}
		files = append(files, FileInput{Filename: h.Filename, Data: data})
	}

	result, err := s.service.BulkUpload(r.Context(), userFromContext(r.Context()), files)
	if err != nil {
		writeServiceError(w, err, "Failed to upload receipts")
		return
	}
	message := fmt.Sprintf("Processed %d of %d files", result.Summary.Successful, result.Summary.TotalFiles)
	writeSuccess(w, http.StatusOK, message, result)
}

// handleReprocessReceipt re-runs extraction on a stored upload
func (s *Server) handleReprocessReceipt(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.service.ReprocessReceipt(r.Context(), userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Failed to reprocess receipt")
		return
	}
	writeSuccess(w, http.StatusOK, "Receipt reprocessed successfully", analysis)
}

// handleCreateExpense confirms an expense from receipt data
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	expense, err := s.service.CreateExpenseFromReceipt(userFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, err, "Failed to create expense from receipt")
		return
	}
	writeSuccess(w, http.StatusCreated, "Expense created from receipt successfully", map[string]any{
		"expense": expense,
	})
}

// handleDeleteUpload deletes an upload or detaches it from its expense
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	detached, err := s.service.DeleteUpload(userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Failed to delete file")
		return
	}
	if detached {
		writeSuccess(w, http.StatusOK, "File association removed from expense", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "File deleted successfully", nil)
}

// handleUploadStats returns receipt usage statistics
func (s *Server) handleUploadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.UploadStats(userFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve upload statistics")
		return
	}
	writeSuccess(w, http.StatusOK, "Upload statistics retrieved successfully", map[string]any{
		"stats": stats,
	})
}

// handleGetUploadFile streams a stored receipt file
func (s *Server) handleGetUploadFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetUploadFile(userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Failed to read file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListExpenses returns the user's expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(userFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to list expenses")
		return
	}
	writeSuccess(w, http.StatusOK, "Expenses retrieved successfully", map[string]any{
		"expenses": expenses,
	})
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Failed to get expense")
		return
	}
	writeSuccess(w, http.StatusOK, "Expense retrieved successfully", map[string]any{
		"expense": expense,
	})
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(userFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, err, "Failed to delete expense")
		return
	}
	writeSuccess(w, http.StatusOK, "Expense deleted successfully", nil)
}

// handleCategorize suggests a category for a description
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description  string  `json:"description"`
		MerchantName string  `json:"merchant_name"`
		Amount       float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Description == "" && req.MerchantName == "" {
		writeError(w, http.StatusBadRequest, "Description or merchant_name is required")
		return
	}

	prediction := s.service.Categorize(req.Description, req.MerchantName)
	writeSuccess(w, http.StatusOK, "Category predicted successfully", prediction)
}

// handleReloadClassifier loads the classifier artifacts from disk
func (s *Server) handleReloadClassifier(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ReloadClassifier(); err != nil {
		writeServiceError(w, err, "Failed to reload classifier")
		return
	}
	writeSuccess(w, http.StatusOK, "Classifier reloaded successfully", nil)
}

// handleRetrainClassifier trains a new classifier
func (s *Server) handleRetrainClassifier(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RetrainClassifier()
	if err != nil {
		writeServiceError(w, err, "Failed to retrain classifier")
		return
	}
	writeSuccess(w, http.StatusOK, "Classifier retrained successfully", result)
}
