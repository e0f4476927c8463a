package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "files"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		Expect(filepath.Join(tmpDir, "files")).To(BeADirectory())
	})

	Describe("Save", func() {
		It("creates per-user directories", func() {
			Expect(storage.Save("uploads/alice/receipt.png", []byte("data"))).To(Succeed())
			Expect(filepath.Join(tmpDir, "files", "uploads", "alice", "receipt.png")).To(BeARegularFile())
		})

		DescribeTable("rejects paths outside the storage directory",
			func(path string) {
				Expect(storage.Save(path, []byte("data"))).To(HaveOccurred())
			},
			Entry("parent", "../escape.png"),
			Entry("nested parent", "uploads/../../escape.png"),
			Entry("absolute", "/tmp/escape.png"),
			Entry("empty", ""),
		)
	})

	Describe("Get", func() {
		It("returns saved data", func() {
			Expect(storage.Save("uploads/alice/receipt.png", []byte("data"))).To(Succeed())
			data, err := storage.Get("uploads/alice/receipt.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("data")))
		})

		It("fails for a missing file", func() {
			_, err := storage.Get("uploads/alice/missing.png")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			Expect(storage.Save("uploads/alice/receipt.png", []byte("data"))).To(Succeed())
			Expect(storage.Delete("uploads/alice/receipt.png")).To(Succeed())
			_, err := os.Stat(filepath.Join(tmpDir, "files", "uploads", "alice", "receipt.png"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete("uploads/alice/missing.png")).To(HaveOccurred())
		})
	})
})
