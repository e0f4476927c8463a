package receipt

import (
	"log/slog"
	"net/http"
)

// Server handles HTTP requests for receipts and expenses
type Server struct {
	service *Service
	auth    *Authenticator
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, auth *Authenticator) *Server {
	return NewServerWithMux(service, auth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, auth *Authenticator, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		auth:    auth,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token into a user id on the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.UserID(r.Header.Get("Authorization"))
		if err != nil {
			slog.Warn("Rejected request", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="Expense Tracker"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(withUser(r.Context(), userID)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Receipt uploads
	s.mux.HandleFunc("POST /api/upload/receipt", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("POST /api/upload/receipt/bulk", s.requireAuth(s.handleBulkUpload))
	s.mux.HandleFunc("POST /api/upload/receipt/reprocess/{id}", s.requireAuth(s.handleReprocessReceipt))
	s.mux.HandleFunc("POST /api/upload/receipt/create-expense", s.requireAuth(s.handleCreateExpense))
	s.mux.HandleFunc("DELETE /api/upload/receipt/{id}", s.requireAuth(s.handleDeleteUpload))
	s.mux.HandleFunc("GET /api/upload/stats", s.requireAuth(s.handleUploadStats))
	s.mux.HandleFunc("GET /api/uploads/{id}/file", s.requireAuth(s.handleGetUploadFile))

	// Expenses
	s.mux.HandleFunc("GET /api/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("DELETE /api/expenses/{id}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))

	// Categorization
	s.mux.HandleFunc("POST /api/categorize", s.requireAuth(s.handleCategorize))
	s.mux.HandleFunc("POST /api/classifier/reload", s.requireAuth(s.handleReloadClassifier))
	s.mux.HandleFunc("POST /api/classifier/retrain", s.requireAuth(s.handleRetrainClassifier))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr, "auth", s.auth.Enabled())
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler, wrapping the mux with CORS handling
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
