package receipt

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"github.com/zombor/home-inventory/internal/apperrors"
)

var _ = Describe("BoltDB", func() {
	var (
		db  *BoltDB
		now time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	draftReceipt := func(id string, created time.Time) *Receipt {
		return &Receipt{ID: id, Status: StatusDraft, Filename: "receipt.jpg", CreatedAt: created, UpdatedAt: created}
	}

	item := func(receiptID, id string, position int) *ExtractedItem {
		price := 100 * (position + 1)
		return &ExtractedItem{ID: id, ReceiptID: receiptID, Position: position, Name: "ITEM " + id, Quantity: 1, TotalPrice: &price, Status: ItemPending}
	}

	Describe("SaveDraft", func() {
		It("stores the receipt and its items", func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "b", 1), item("r1", "a", 0)})).To(Succeed())

			saved, err := db.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal(StatusDraft))

			items, err := db.ListItems("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].ID).To(Equal("a"))
			Expect(items[1].ID).To(Equal("b"))
		})

		It("replaces the previous items", func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0), item("r1", "b", 1)})).To(Succeed())
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "c", 0)})).To(Succeed())

			items, err := db.ListItems("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal("c"))
		})

		When("the stored receipt is being confirmed", func() {
			BeforeEach(func() {
				Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0)})).To(Succeed())
				_, err := db.BeginConfirmation("r1", now)
				Expect(err).NotTo(HaveOccurred())
			})

			It("leaves it alone", func() {
				err := db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "c", 0)})
				Expect(errors.Is(err, apperrors.ErrConfirmationInProgress)).To(BeTrue())

				saved, getErr := db.GetReceipt("r1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusProcessing))

				items, listErr := db.ListItems("r1")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(1))
				Expect(items[0].ID).To(Equal("a"))
			})
		})

		When("the stored receipt is confirmed", func() {
			BeforeEach(func() {
				r := draftReceipt("r1", now)
				r.Status = StatusConfirmed
				Expect(db.SaveReceipt(r)).To(Succeed())
			})

			It("returns AlreadyConfirmed", func() {
				err := db.SaveDraft(draftReceipt("r1", now), nil)
				Expect(errors.Is(err, apperrors.ErrAlreadyConfirmed)).To(BeTrue())

				saved, getErr := db.GetReceipt("r1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusConfirmed))
			})
		})
	})

	Describe("SaveItem", func() {
		BeforeEach(func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0)})).To(Succeed())
		})

		It("saves while the receipt is a draft", func() {
			edited := item("r1", "a", 0)
			edited.Status = ItemRejected
			Expect(db.SaveItem(edited)).To(Succeed())

			items, err := db.ListItems("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Status).To(Equal(ItemRejected))
		})

		It("refuses while the receipt is processing", func() {
			_, err := db.BeginConfirmation("r1", now)
			Expect(err).NotTo(HaveOccurred())

			edited := item("r1", "a", 0)
			edited.Status = ItemRejected
			Expect(errors.Is(db.SaveItem(edited), apperrors.ErrConfirmationInProgress)).To(BeTrue())

			items, err := db.ListItems("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Status).To(Equal(ItemPending))
		})

		It("refuses an item whose receipt is gone", func() {
			Expect(errors.Is(db.SaveItem(item("r9", "z", 0)), apperrors.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListItems", func() {
		It("does not mix receipts that share an ID prefix", func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0)})).To(Succeed())
			Expect(db.SaveDraft(draftReceipt("r10", now), []*ExtractedItem{item("r10", "b", 0)})).To(Succeed())

			items, err := db.ListItems("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal("a"))
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("returns a NotFound error", func() {
				_, err := db.GetReceipt("missing")
				Expect(errors.Is(err, apperrors.ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListReceipts", func() {
		It("returns the newest first", func() {
			Expect(db.SaveReceipt(draftReceipt("old", now.Add(-time.Hour)))).To(Succeed())
			Expect(db.SaveReceipt(draftReceipt("new", now))).To(Succeed())

			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].ID).To(Equal("new"))
			Expect(receipts[1].ID).To(Equal("old"))
		})

		It("returns an empty list for an empty database", func() {
			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(BeEmpty())
		})
	})

	Describe("BeginConfirmation", func() {
		var (
			status  Status
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			status = StatusDraft
		})

		JustBeforeEach(func() {
			r := draftReceipt("r1", now)
			r.Status = status
			Expect(db.SaveReceipt(r)).To(Succeed())
			receipt, err = db.BeginConfirmation("r1", now.Add(time.Minute))
		})

		When("the receipt is a draft", func() {
			It("moves it to processing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipt.Status).To(Equal(StatusProcessing))
				Expect(receipt.UpdatedAt).To(Equal(now.Add(time.Minute)))

				saved, getErr := db.GetReceipt("r1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusProcessing))
			})

			It("refuses a second confirmation", func() {
				_, second := db.BeginConfirmation("r1", now)
				Expect(errors.Is(second, apperrors.ErrConfirmationInProgress)).To(BeTrue())
			})
		})

		When("the receipt is confirmed", func() {
			BeforeEach(func() {
				status = StatusConfirmed
			})

			It("returns AlreadyConfirmed", func() {
				Expect(errors.Is(err, apperrors.ErrAlreadyConfirmed)).To(BeTrue())
			})
		})

		When("the receipt failed", func() {
			BeforeEach(func() {
				status = StatusFailed
			})

			It("returns NothingToConfirm", func() {
				Expect(errors.Is(err, apperrors.ErrNothingToConfirm)).To(BeTrue())
			})
		})
	})

	Describe("ResetToDraft", func() {
		It("moves a processing receipt back to draft", func() {
			Expect(db.SaveReceipt(draftReceipt("r1", now))).To(Succeed())
			_, err := db.BeginConfirmation("r1", now)
			Expect(err).NotTo(HaveOccurred())

			Expect(db.ResetToDraft("r1", now)).To(Succeed())
			saved, err := db.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal(StatusDraft))
		})

		It("refuses a receipt that is not processing", func() {
			Expect(db.SaveReceipt(draftReceipt("r1", now))).To(Succeed())
			Expect(db.ResetToDraft("r1", now)).To(MatchError(ContainSubstring("not processing")))
		})
	})

	Describe("CommitConfirmation", func() {
		var confirmation *Confirmation

		BeforeEach(func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0), item("r1", "b", 1)})).To(Succeed())

			confirmed := draftReceipt("r1", now)
			confirmed.Status = StatusConfirmed
			a := item("r1", "a", 0)
			a.Status = ItemConfirmed
			a.InventoryItemID = "inv-1"
			receiptID, itemID := "r1", "a"
			confirmation = &Confirmation{
				Receipt:   confirmed,
				Items:     []*ExtractedItem{a},
				Inventory: []*InventoryItem{{ID: "inv-1", Name: "Bread", Quantity: 1, ReceiptID: &receiptID, ExtractedItemID: &itemID}},
			}
		})

		When("the receipt is processing", func() {
			BeforeEach(func() {
				_, err := db.BeginConfirmation("r1", now)
				Expect(err).NotTo(HaveOccurred())
			})

			It("writes everything", func() {
				Expect(db.CommitConfirmation(confirmation)).To(Succeed())

				saved, err := db.GetReceipt("r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusConfirmed))

				items, err := db.ListItems("r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(items[0].Status).To(Equal(ItemConfirmed))
				Expect(items[0].InventoryItemID).To(Equal("inv-1"))
				Expect(items[1].Status).To(Equal(ItemPending))

				inventory, err := db.ListInventory()
				Expect(err).NotTo(HaveOccurred())
				Expect(inventory).To(HaveLen(1))
			})

			It("writes nothing when an extracted item is missing", func() {
				ghost := item("r1", "ghost", 5)
				confirmation.Items = append(confirmation.Items, ghost)

				Expect(db.CommitConfirmation(confirmation)).To(MatchError(ContainSubstring("not found")))

				saved, err := db.GetReceipt("r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusProcessing))

				inventory, err := db.ListInventory()
				Expect(err).NotTo(HaveOccurred())
				Expect(inventory).To(BeEmpty())

				items, err := db.ListItems("r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(items[0].Status).To(Equal(ItemPending))
			})

			It("writes nothing when a stored item was rejected meanwhile", func() {
				Expect(db.db.Update(func(tx *bbolt.Tx) error {
					rejected := item("r1", "a", 0)
					rejected.Status = ItemRejected
					return put(tx.Bucket([]byte(itemBucketName)), itemKey("r1", "a"), rejected)
				})).To(Succeed())

				Expect(db.CommitConfirmation(confirmation)).To(MatchError(ContainSubstring("is rejected")))

				inventory, err := db.ListInventory()
				Expect(err).NotTo(HaveOccurred())
				Expect(inventory).To(BeEmpty())
			})
		})

		When("the receipt was never moved to processing", func() {
			It("refuses to commit", func() {
				Expect(db.CommitConfirmation(confirmation)).To(MatchError(ContainSubstring("not processing")))

				inventory, err := db.ListInventory()
				Expect(err).NotTo(HaveOccurred())
				Expect(inventory).To(BeEmpty())
			})
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			Expect(db.SaveDraft(draftReceipt("r1", now), []*ExtractedItem{item("r1", "a", 0)})).To(Succeed())
		})

		When("inventory items reference the receipt", func() {
			var (
				unlinked int
				err      error
			)

			BeforeEach(func() {
				receiptID, itemID, other := "r1", "a", "r2"
				Expect(db.db.Update(func(tx *bbolt.Tx) error {
					bucket := tx.Bucket([]byte(inventoryBucketName))
					if err := put(bucket, []byte("inv-1"), &InventoryItem{ID: "inv-1", ReceiptID: &receiptID, ExtractedItemID: &itemID}); err != nil {
						return err
					}
					return put(bucket, []byte("inv-2"), &InventoryItem{ID: "inv-2", ReceiptID: &other})
				})).To(Succeed())

				_, unlinked, err = db.DeleteReceipt("r1", false)
			})

			It("removes the receipt and its items", func() {
				Expect(err).NotTo(HaveOccurred())
				_, getErr := db.GetReceipt("r1")
				Expect(errors.Is(getErr, apperrors.ErrNotFound)).To(BeTrue())

				items, listErr := db.ListItems("r1")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(items).To(BeEmpty())
			})

			It("clears only the matching back-references", func() {
				Expect(unlinked).To(Equal(1))

				inventory, listErr := db.ListInventory()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(inventory).To(HaveLen(2))
				for _, inv := range inventory {
					switch inv.ID {
					case "inv-1":
						Expect(inv.ReceiptID).To(BeNil())
						Expect(inv.ExtractedItemID).To(BeNil())
					case "inv-2":
						Expect(*inv.ReceiptID).To(Equal("r2"))
					}
				}
			})
		})

		It("returns the deleted receipt", func() {
			deleted, _, err := db.DeleteReceipt("r1", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted.ID).To(Equal("r1"))
		})

		When("the receipt is confirmed", func() {
			BeforeEach(func() {
				r := draftReceipt("r1", now)
				r.Status = StatusConfirmed
				Expect(db.SaveReceipt(r)).To(Succeed())
			})

			It("requires acknowledgement", func() {
				_, _, err := db.DeleteReceipt("r1", false)
				Expect(errors.Is(err, apperrors.ErrLinkedInventory)).To(BeTrue())

				_, getErr := db.GetReceipt("r1")
				Expect(getErr).NotTo(HaveOccurred())
				items, listErr := db.ListItems("r1")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(1))
			})

			It("deletes once acknowledged", func() {
				_, _, err := db.DeleteReceipt("r1", true)
				Expect(err).NotTo(HaveOccurred())
				_, getErr := db.GetReceipt("r1")
				Expect(errors.Is(getErr, apperrors.ErrNotFound)).To(BeTrue())
			})
		})

		When("the receipt is being confirmed", func() {
			It("returns ConfirmationInProgress", func() {
				_, err := db.BeginConfirmation("r1", now)
				Expect(err).NotTo(HaveOccurred())

				_, _, err = db.DeleteReceipt("r1", true)
				Expect(errors.Is(err, apperrors.ErrConfirmationInProgress)).To(BeTrue())
			})
		})

		When("the receipt does not exist", func() {
			It("returns NotFound", func() {
				_, _, err := db.DeleteReceipt("missing", false)
				Expect(errors.Is(err, apperrors.ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("categories and locations", func() {
		It("stores and finds categories", func() {
			Expect(db.SaveCategory(&Category{ID: "c2", Name: "Tools"})).To(Succeed())
			Expect(db.SaveCategory(&Category{ID: "c1", Name: "Kitchen"})).To(Succeed())

			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(HaveLen(2))
			Expect(categories[0].Name).To(Equal("Kitchen"))

			found, err := db.HasCategory("c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			found, err = db.HasCategory("nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("stores and finds locations", func() {
			Expect(db.SaveLocation(&Location{ID: "l1", Name: "Garage"})).To(Succeed())

			locations, err := db.ListLocations()
			Expect(err).NotTo(HaveOccurred())
			Expect(locations).To(HaveLen(1))

			found, err := db.HasLocation("l1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			found, err = db.HasLocation("")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})
})
