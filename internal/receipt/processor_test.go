package receipt

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/worker"
)

var _ = Describe("Processor", func() {
	var (
		recognizer *mockRecognizer
		processor  *Processor
	)

	BeforeEach(func() {
		db, err := NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		recognizer = &mockRecognizer{result: walmartResult()}
		clock := &mockTimeSource{now: time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)}
		service := NewServiceWithDeps(db, recognizer, newMockStorage(), Config{}, &sequenceIDGenerator{}, clock)
		processor = NewProcessor(service, worker.NewPool(1))
		DeferCleanup(processor.Close)
	})

	It("processes the upload in the background", func() {
		task, err := processor.Submit(context.Background(), pngUpload(), preprocess.LevelNone)
		Expect(err).NotTo(HaveOccurred())
		Expect(task.ID).To(Equal("id-1"))

		Eventually(task.Done()).Should(BeClosed())
		draft, err := task.Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(draft.Receipt.Status).To(Equal(StatusDraft))
		Expect(draft.Items).To(HaveLen(2))
	})

	It("can be cancelled while OCR runs", func() {
		recognizer.block = true
		task, err := processor.Submit(context.Background(), pngUpload(), preprocess.LevelNone)
		Expect(err).NotTo(HaveOccurred())

		task.Cancel()
		_, err = task.Result()
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("refuses work after closing", func() {
		processor.Close()
		_, err := processor.Submit(context.Background(), pngUpload(), preprocess.LevelNone)
		Expect(errors.Is(err, worker.ErrClosed)).To(BeTrue())
	})
})
