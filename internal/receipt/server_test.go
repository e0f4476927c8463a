package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/categorize"
)

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		service     *Service
		auth        *Authenticator
		server      *Server
		ghttpServer *ghttp.Server
		token       string
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		ids := &sequenceIDGenerator{ids: []string{"a1b2c3d4", "e5f6a7b8"}}
		clock := &fixedTimeSource{now: time.Date(2024, 1, 20, 9, 30, 15, 0, time.UTC)}
		opts := Options{ModelDir: GinkgoT().TempDir(), EnableAI: true}
		service = NewServiceWithDeps(db, newMockScanner(), storage, keywordHolder(), opts, ids, clock)
		auth = NewAuthenticator("test-secret")
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()

		var err error
		token, err = auth.IssueToken("alice", time.Hour)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) apiResponse {
		defer resp.Body.Close()
		var body apiResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	multipartBody := func(field string, names ...string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, name := range names {
			part, err := w.CreateFormFile(field, name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("\x89PNG fake image"))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(w.Close()).To(Succeed())
		return &buf, w.FormDataContentType()
	}

	Describe("authentication", func() {
		When("no token is sent", func() {
			BeforeEach(func() {
				token = ""
			})

			It("rejects the request", func() {
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bearer"))
				Expect(decode(resp).Status).To(Equal("error"))
			})
		})

		When("the token is signed with another secret", func() {
			BeforeEach(func() {
				var err error
				token, err = NewAuthenticator("other-secret").IssueToken("alice", time.Hour)
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects the request", func() {
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("the token has expired", func() {
			BeforeEach(func() {
				var err error
				token, err = auth.IssueToken("alice", -time.Minute)
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects the request", func() {
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("the subject is not a safe user id", func() {
			BeforeEach(func() {
				var err error
				token, err = auth.IssueToken("../bob", time.Hour)
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects the request", func() {
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("no secret is configured", func() {
			BeforeEach(func() {
				server = NewServerWithMux(service, NewAuthenticator(""), http.NewServeMux())
				setupServer()
				token = ""
				Expect(db.SaveExpense(&Expense{ID: "x", UserID: LocalUser})).To(Succeed())
			})

			It("serves the local user", func() {
				resp := do("GET", "/api/expenses/x", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			token = ""
			resp := do("OPTIONS", "/api/upload/receipt", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("sets headers on normal responses", func() {
			resp := do("GET", "/api/expenses", nil, "")
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})

	Describe("POST /api/upload/receipt", func() {
		It("returns the analysis in the envelope", func() {
			body, contentType := multipartBody("file", "lunch.png")
			resp := do("POST", "/api/upload/receipt", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			envelope := decode(resp)
			Expect(envelope.Status).To(Equal("success"))
			var analysis Analysis
			Expect(json.Unmarshal(envelope.Data, &analysis)).To(Succeed())
			Expect(analysis.FileID).To(Equal("a1b2c3d4"))
			Expect(analysis.FilePath).To(Equal("uploads/alice/lunch_20240120_093015_a1b2c3d4.png"))
			Expect(analysis.SuggestedCategory.Category).To(Equal("Food & Dining"))
			Expect(*analysis.ExtractedData.TotalAmount).To(Equal(4.86))
		})

		It("rejects a disallowed file type", func() {
			body, contentType := multipartBody("file", "virus.exe")
			resp := do("POST", "/api/upload/receipt", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp).Message).To(ContainSubstring("file type not allowed"))
		})

		It("requires a file", func() {
			body, contentType := multipartBody("other", "lunch.png")
			resp := do("POST", "/api/upload/receipt", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp).Message).To(Equal("No file uploaded"))
		})

		It("rejects a non-multipart body", func() {
			resp := do("POST", "/api/upload/receipt", bytes.NewBufferString("{}"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("POST /api/upload/receipt/bulk", func() {
		It("reports per-file results", func() {
			body, contentType := multipartBody("files", "one.png", "two.txt")
			resp := do("POST", "/api/upload/receipt/bulk", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			envelope := decode(resp)
			Expect(envelope.Message).To(Equal("Processed 1 of 2 files"))
			var result BulkResult
			Expect(json.Unmarshal(envelope.Data, &result)).To(Succeed())
			Expect(result.Summary).To(Equal(BulkSummary{TotalFiles: 2, Successful: 1, Failed: 1}))
		})

		It("refuses more than the maximum number of files", func() {
			names := make([]string, MaxBulkFiles+1)
			for i := range names {
				names[i] = "r.png"
			}
			body, contentType := multipartBody("files", names...)
			resp := do("POST", "/api/upload/receipt/bulk", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("upload lifecycle", func() {
		BeforeEach(func() {
			body, contentType := multipartBody("file", "lunch.png")
			resp := do("POST", "/api/upload/receipt", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("reprocesses a stored upload", func() {
			resp := do("POST", "/api/upload/receipt/reprocess/a1b2c3d4", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp).Message).To(Equal("Receipt reprocessed successfully"))
		})

		It("returns 404 when reprocessing an unknown upload", func() {
			resp := do("POST", "/api/upload/receipt/reprocess/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("streams the stored file", func() {
			resp := do("GET", "/api/uploads/a1b2c3d4/file", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("\x89PNG fake image")))
		})

		It("returns 404 when the stored file is gone", func() {
			storage.files = map[string][]byte{}
			resp := do("GET", "/api/uploads/a1b2c3d4/file", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("creates an expense and then detaches the upload on delete", func() {
			reqBody := `{
				"file_path": "uploads/alice/lunch_20240120_093015_a1b2c3d4.png",
				"description": "Lunch",
				"amount": "12.50",
				"category": "Food & Dining",
				"date": "2024-01-19"
			}`
			resp := do("POST", "/api/upload/receipt/create-expense", bytes.NewBufferString(reqBody), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var data struct {
				Expense Expense `json:"expense"`
			}
			Expect(json.Unmarshal(decode(resp).Data, &data)).To(Succeed())
			Expect(data.Expense.AmountCents).To(Equal(int64(1250)))

			resp = do("DELETE", "/api/upload/receipt/a1b2c3d4", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp).Message).To(Equal("File association removed from expense"))

			resp = do("GET", "/api/upload/stats", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var statsData struct {
				Stats Stats `json:"stats"`
			}
			Expect(json.Unmarshal(decode(resp).Data, &statsData)).To(Succeed())
			Expect(statsData.Stats).To(Equal(Stats{AICreatedExpenses: 1, TotalExpenses: 1, UploadedFiles: 1, AIUsagePercentage: 100}))
		})

		It("deletes an unreferenced upload", func() {
			resp := do("DELETE", "/api/upload/receipt/a1b2c3d4", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp).Message).To(Equal("File deleted successfully"))
			Expect(storage.files).To(BeEmpty())
		})

		It("hides the upload from other users", func() {
			var err error
			token, err = auth.IssueToken("bob", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			resp := do("GET", "/api/uploads/a1b2c3d4/file", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("POST /api/upload/receipt/create-expense", func() {
		It("rejects invalid JSON", func() {
			resp := do("POST", "/api/upload/receipt/create-expense", bytes.NewBufferString("{"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp).Message).To(Equal("Invalid request body"))
		})

		It("reports validation errors", func() {
			reqBody := `{"file_path": "uploads/alice/x.png", "description": "Lunch", "amount": 0, "category": "Food & Dining"}`
			resp := do("POST", "/api/upload/receipt/create-expense", bytes.NewBufferString(reqBody), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp).Message).To(ContainSubstring("amount must be greater than 0"))
		})
	})

	Describe("expenses", func() {
		BeforeEach(func() {
			Expect(db.SaveExpense(&Expense{ID: "e1", UserID: "alice", Description: "Lunch"})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "e2", UserID: "bob", Description: "Taxi"})).To(Succeed())
		})

		It("lists the user's expenses", func() {
			resp := do("GET", "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var data struct {
				Expenses []Expense `json:"expenses"`
			}
			Expect(json.Unmarshal(decode(resp).Data, &data)).To(Succeed())
			Expect(data.Expenses).To(HaveLen(1))
			Expect(data.Expenses[0].ID).To(Equal("e1"))
		})

		It("gets one expense", func() {
			resp := do("GET", "/api/expenses/e1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("returns 404 for another user's expense", func() {
			resp := do("GET", "/api/expenses/e2", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("deletes an expense", func() {
			resp := do("DELETE", "/api/expenses/e1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
			Expect(db.expenses).NotTo(HaveKey("alice/e1"))
		})

		It("returns 500 with a generic message on store failures", func() {
			db.listErr = io.ErrUnexpectedEOF
			resp := do("GET", "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decode(resp).Message).To(Equal("Failed to list expenses"))
		})
	})

	Describe("categorization", func() {
		It("predicts a category", func() {
			resp := do("POST", "/api/categorize", bytes.NewBufferString(`{"description": "Uber to airport", "amount": 35}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var prediction categorize.Prediction
			Expect(json.Unmarshal(decode(resp).Data, &prediction)).To(Succeed())
			Expect(prediction.Category).To(Equal("Transportation"))
			Expect(prediction.Source).To(Equal(categorize.SourceKeywords))
		})

		It("requires a description or merchant", func() {
			resp := do("POST", "/api/categorize", bytes.NewBufferString(`{}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("reports a missing model on reload", func() {
			resp := do("POST", "/api/classifier/reload", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decode(resp).Message).To(Equal("No trained model found"))
		})

		It("retrains and then reloads", func() {
			resp := do("POST", "/api/classifier/retrain", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result TrainingResult
			Expect(json.Unmarshal(decode(resp).Data, &result)).To(Succeed())
			Expect(result.Source).To(Equal("samples"))

			resp = do("POST", "/api/classifier/reload", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = do("POST", "/api/categorize", bytes.NewBufferString(`{"description": "Uber ride"}`), "application/json")
			var prediction categorize.Prediction
			Expect(json.Unmarshal(decode(resp).Data, &prediction)).To(Succeed())
			Expect(prediction.Source).To(Equal(categorize.SourceModel))
		})
	})
})
