package receipt

import (
	"errors"
	"io/fs"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("receipt pixels"))
		})

		When("the name is plain", func() {
			BeforeEach(func() {
				filename = "id-1_receipt.jpg"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the name it stored under", func() {
				Expect(savedPath).To(Equal("id-1_receipt.jpg"))
			})

			It("writes the file to disk", func() {
				Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
			})
		})

		When("the name tries to leave the storage directory", func() {
			BeforeEach(func() {
				filename = "../../escape.jpg"
			})

			It("keeps the file inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			filename string
			data     []byte
			err      error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(filename)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				filename = "id-1_receipt.jpg"
				_, saveErr := storage.Save(filename, []byte("receipt pixels"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("returns the stored bytes", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("receipt pixels"))
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				filename = "missing.jpg"
			})

			It("returns an error wrapping fs.ErrNotExist", func() {
				Expect(err).To(MatchError(ContainSubstring("reading file")))
				Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		var (
			filename string
			err      error
		)

		JustBeforeEach(func() {
			err = storage.Delete(filename)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				filename = "id-1_receipt.jpg"
				_, saveErr := storage.Save(filename, []byte("receipt pixels"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("removes it from disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, filename)).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				filename = "missing.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "images")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleans phone filenames",
		func(in, expected string) {
			Expect(sanitizeFilename(in)).To(Equal(expected))
		},
		Entry("plain", "receipt.jpg", "receipt.jpg"),
		Entry("special characters", "IMG (1)#!.JPG", "IMG 1.jpg"),
		Entry("collapsed spaces", "my   receipt.png", "my receipt.png"),
		Entry("nothing left", "###.heic", "receipt.heic"),
		Entry("path components", "../../photos/IMG_0001.HEIC", "IMG_0001.heic"),
	)

	It("truncates long names", func() {
		long := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.jpg"
		Expect(sanitizeFilename(long)).To(HaveLen(50 + len(".jpg")))
	})
})
