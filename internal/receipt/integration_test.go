package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/categorize"
	"github.com/zombor/expense-tracker/internal/extraction"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// fakeEngine stands in for the OCR binary
type fakeEngine struct {
	text string
}

func (e *fakeEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	return e.text, nil
}

func (e *fakeEngine) Close() error {
	return nil
}

func receiptImage() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			c := color.NRGBA{R: 240, G: 240, B: 240, A: 255}
			if y%8 < 2 {
				c = color.NRGBA{A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		db       *receipt.BoltDB
		store    *receipt.LocalStorage
		engine   *fakeEngine
		server   *receipt.Server
		ghServer *ghttp.Server
		err      error
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		// Initialize real dependencies
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "files"))
		Expect(err).NotTo(HaveOccurred())

		engine = &fakeEngine{text: "SHELL GAS STATION\n123 Main Street\nFuel 38.20\nTax 2.30\nTOTAL: $40.50\n03/20/2024\n"}
		extractor := scanning.NewExtractor(nil, engine)

		classifier := categorize.NewHolder(categorize.Load(categorize.DefaultTaxonomy(), filepath.Join(tempDir, "models")))
		service := receipt.NewService(db, extractor, store, classifier, receipt.Options{
			ModelDir: filepath.Join(tempDir, "models"),
			EnableAI: true,
		})
		server = receipt.NewServer(service, receipt.NewAuthenticator("")) // No auth for testing convenience

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	post := func(path, contentType string, body *bytes.Buffer) envelope {
		resp, err := http.Post(ghServer.URL()+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(BeNumerically("<", 300))

		var env envelope
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		Expect(env.Status).To(Equal("success"))
		return env
	}

	It("extracts a receipt, confirms the expense and detaches the upload on delete", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP, // upload
			server.ServeHTTP, // create expense
			server.ServeHTTP, // delete upload
		)

		// --- Step 1: upload ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "gas receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(receiptImage())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		env := post("/api/upload/receipt", writer.FormDataContentType(), body)
		var analysis receipt.Analysis
		Expect(json.Unmarshal(env.Data, &analysis)).To(Succeed())

		Expect(analysis.Status).To(Equal(extraction.StatusOK))
		Expect(*analysis.ExtractedData.MerchantName).To(Equal("SHELL GAS STATION"))
		Expect(*analysis.ExtractedData.TotalAmount).To(Equal(40.50))
		Expect(analysis.ExtractedData.TaxAmount).To(Equal(2.30))
		Expect(analysis.ExtractedData.Date.String()).To(Equal("2024-03-20"))
		Expect(analysis.SuggestedCategory.Category).To(Equal("Transportation"))

		_, err = store.Get(analysis.FilePath)
		Expect(err).NotTo(HaveOccurred())

		// --- Step 2: confirm the expense ---
		req, err := json.Marshal(map[string]any{
			"file_path":     analysis.FilePath,
			"description":   "Fuel",
			"amount":        *analysis.ExtractedData.TotalAmount,
			"tax_amount":    analysis.ExtractedData.TaxAmount,
			"category":      analysis.SuggestedCategory.Category,
			"date":          analysis.ExtractedData.Date.String(),
			"merchant_name": *analysis.ExtractedData.MerchantName,
			"ai_confidence": analysis.AIConfidence,
		})
		Expect(err).NotTo(HaveOccurred())
		post("/api/upload/receipt/create-expense", "application/json", bytes.NewBuffer(req))

		expenses, err := db.ListExpenses(receipt.LocalUser)
		Expect(err).NotTo(HaveOccurred())
		Expect(expenses).To(HaveLen(1))
		Expect(expenses[0].AmountCents).To(Equal(int64(4050)))
		Expect(expenses[0].TaxAmountCents).To(Equal(int64(230)))
		Expect(expenses[0].ReceiptImagePath).To(Equal(analysis.FilePath))

		// --- Step 3: delete the upload ---
		delReq, err := http.NewRequest("DELETE", ghServer.URL()+"/api/upload/receipt/"+analysis.FileID, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(delReq)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		expense, err := db.GetExpense(receipt.LocalUser, expenses[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(expense.ReceiptImagePath).To(BeEmpty())

		// the file stays because an expense used it
		_, err = store.Get(analysis.FilePath)
		Expect(err).NotTo(HaveOccurred())
	})
})
