package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/extraction"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newUpload := func(userID, id string) *Upload {
		return &Upload{
			ID:          id,
			UserID:      userID,
			Filename:    "lunch_20240115_120000_" + id + ".jpg",
			Path:        "uploads/" + userID + "/lunch_20240115_120000_" + id + ".jpg",
			ContentType: "image/jpeg",
			Size:        1024,
			CreatedAt:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		}
	}

	newExpense := func(userID, id string) *Expense {
		return &Expense{
			ID:          id,
			UserID:      userID,
			Category:    "Food & Dining",
			Description: "Lunch",
			AmountCents: 1250,
			Currency:    "USD",
			Date:        extraction.NewDate(2024, time.January, 15),
		}
	}

	Describe("uploads", func() {
		When("an upload is saved", func() {
			BeforeEach(func() {
				Expect(db.SaveUpload(newUpload("alice", "a1b2c3d4"))).To(Succeed())
			})

			It("can be retrieved by its owner", func() {
				upload, err := db.GetUpload("alice", "a1b2c3d4")
				Expect(err).NotTo(HaveOccurred())
				Expect(upload.Size).To(Equal(int64(1024)))
				Expect(upload.CreatedAt.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))).To(BeTrue())
			})

			It("is hidden from other users", func() {
				_, err := db.GetUpload("bob", "a1b2c3d4")
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("can be deleted", func() {
				Expect(db.DeleteUpload("alice", "a1b2c3d4")).To(Succeed())
				_, err := db.GetUpload("alice", "a1b2c3d4")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		It("reports missing uploads on delete", func() {
			Expect(db.DeleteUpload("alice", "missing")).To(MatchError(ErrNotFound))
		})

		It("lists only the user's uploads", func() {
			Expect(db.SaveUpload(newUpload("alice", "00000001"))).To(Succeed())
			Expect(db.SaveUpload(newUpload("alice", "00000002"))).To(Succeed())
			Expect(db.SaveUpload(newUpload("alice2", "00000003"))).To(Succeed())
			Expect(db.SaveUpload(newUpload("bob", "00000004"))).To(Succeed())

			uploads, err := db.ListUploads("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(uploads).To(HaveLen(2))
			for _, u := range uploads {
				Expect(u.UserID).To(Equal("alice"))
			}
		})

		It("returns an empty list for a user without uploads", func() {
			uploads, err := db.ListUploads("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(uploads).NotTo(BeNil())
			Expect(uploads).To(BeEmpty())
		})
	})

	Describe("expenses", func() {
		BeforeEach(func() {
			Expect(db.SaveExpense(newExpense("alice", "e1"))).To(Succeed())
			Expect(db.SaveExpense(newExpense("alice", "e2"))).To(Succeed())
			Expect(db.SaveExpense(newExpense("bob", "e3"))).To(Succeed())
		})

		It("round-trips an expense", func() {
			expense, err := db.GetExpense("alice", "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(expense.AmountCents).To(Equal(int64(1250)))
			Expect(expense.Date.String()).To(Equal("2024-01-15"))
		})

		It("scopes lookups to the user", func() {
			_, err := db.GetExpense("bob", "e1")
			Expect(err).To(MatchError(ErrNotFound))

			expenses, err := db.ListExpenses("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(HaveLen(2))
		})

		It("lists every user's expenses", func() {
			expenses, err := db.ListAllExpenses()
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(HaveLen(3))
		})

		It("deletes an expense", func() {
			Expect(db.DeleteExpense("alice", "e1")).To(Succeed())
			Expect(db.DeleteExpense("alice", "e1")).To(MatchError(ErrNotFound))
		})
	})

	Describe("persistence", func() {
		It("keeps data across reopen", func() {
			Expect(db.SaveUpload(newUpload("alice", "a1b2c3d4"))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetUpload("alice", "a1b2c3d4")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
