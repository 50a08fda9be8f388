package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/home-inventory/internal/apperrors"
)

const (
	receiptBucketName   = "receipts"
	itemBucketName      = "items"
	inventoryBucketName = "inventory"
	categoryBucketName  = "categories"
	locationBucketName  = "locations"
)

// Confirmation is everything one confirmation writes: the confirmed
// receipt, its updated extracted items and the new inventory items.
type Confirmation struct {
	Receipt   *Receipt
	Items     []*ExtractedItem
	Inventory []*InventoryItem
}

// DB defines the interface for database operations
type DB interface {
	// SaveDraft stores a receipt and replaces its extracted items in one
	// transaction. A receipt being confirmed or already confirmed is not
	// overwritten.
	SaveDraft(receipt *Receipt, items []*ExtractedItem) error

	// SaveReceipt saves a receipt without touching its items
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// ListItems returns a receipt's extracted items in receipt order
	ListItems(receiptID string) ([]*ExtractedItem, error)

	// SaveItem saves one extracted item while its receipt is still open
	// for review
	SaveItem(item *ExtractedItem) error

	// BeginConfirmation moves a draft receipt to processing
	BeginConfirmation(id string, now time.Time) (*Receipt, error)

	// ResetToDraft moves a processing receipt back to draft
	ResetToDraft(id string, now time.Time) error

	// CommitConfirmation writes a confirmation in one transaction
	CommitConfirmation(c *Confirmation) error

	// DeleteReceipt removes a receipt and its items and clears inventory
	// back-references. A confirmed receipt is only removed when
	// acknowledgeLinked is set. It returns the deleted receipt and the
	// number of inventory items unlinked.
	DeleteReceipt(id string, acknowledgeLinked bool) (*Receipt, int, error)

	// ListInventory returns all inventory items
	ListInventory() ([]*InventoryItem, error)

	// SaveCategory saves a category
	SaveCategory(category *Category) error

	// ListCategories returns all categories
	ListCategories() ([]*Category, error)

	// HasCategory reports whether a category exists
	HasCategory(id string) (bool, error)

	// SaveLocation saves a location
	SaveLocation(location *Location) error

	// ListLocations returns all locations
	ListLocations() ([]*Location, error)

	// HasLocation reports whether a location exists
	HasLocation(id string) (bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, itemBucketName, inventoryBucketName, categoryBucketName, locationBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// itemKey orders items under their receipt: "<receiptID>/<itemID>"
func itemKey(receiptID, itemID string) []byte {
	return []byte(receiptID + "/" + itemID)
}

func itemPrefix(receiptID string) []byte {
	return []byte(receiptID + "/")
}

func put(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %T: %w", v, err)
	}
	return bucket.Put(key, data)
}

func getReceipt(tx *bbolt.Tx, id string) (*Receipt, error) {
	data := tx.Bucket([]byte(receiptBucketName)).Get([]byte(id))
	if data == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "receipt "+id, nil)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

// checkOpen fails unless the receipt may still be changed by review or OCR
func checkOpen(r *Receipt) error {
	switch r.Status {
	case StatusConfirmed:
		return apperrors.New(apperrors.KindAlreadyConfirmed, "receipt "+r.ID, nil)
	case StatusProcessing:
		return apperrors.New(apperrors.KindConfirmationInProgress, "receipt "+r.ID, nil)
	}
	return nil
}

func deleteItems(tx *bbolt.Tx, receiptID string) error {
	c := tx.Bucket([]byte(itemBucketName)).Cursor()
	prefix := itemPrefix(receiptID)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// SaveDraft stores a receipt and replaces its extracted items
func (b *BoltDB) SaveDraft(receipt *Receipt, items []*ExtractedItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		current, err := getReceipt(tx, receipt.ID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if current != nil {
			if err := checkOpen(current); err != nil {
				return err
			}
		}

		if err := put(tx.Bucket([]byte(receiptBucketName)), []byte(receipt.ID), receipt); err != nil {
			return err
		}
		if err := deleteItems(tx, receipt.ID); err != nil {
			return fmt.Errorf("clearing items: %w", err)
		}
		bucket := tx.Bucket([]byte(itemBucketName))
		for _, item := range items {
			if err := put(bucket, itemKey(receipt.ID, item.ID), item); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(receiptBucketName)), []byte(receipt.ID), receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getReceipt(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// ListItems returns a receipt's extracted items ordered by position
func (b *BoltDB) ListItems(receiptID string) ([]*ExtractedItem, error) {
	items := make([]*ExtractedItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(itemBucketName)).Cursor()
		prefix := itemPrefix(receiptID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item ExtractedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
	return items, nil
}

// SaveItem saves one extracted item
func (b *BoltDB) SaveItem(item *ExtractedItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipt, err := getReceipt(tx, item.ReceiptID)
		if err != nil {
			return err
		}
		if err := checkOpen(receipt); err != nil {
			return err
		}
		return put(tx.Bucket([]byte(itemBucketName)), itemKey(item.ReceiptID, item.ID), item)
	})
}

// BeginConfirmation moves a draft receipt to processing. bbolt serializes
// writers, so two confirmations of one receipt cannot both succeed.
func (b *BoltDB) BeginConfirmation(id string, now time.Time) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		switch r.Status {
		case StatusDraft:
		case StatusConfirmed:
			return apperrors.New(apperrors.KindAlreadyConfirmed, "receipt "+id, nil)
		case StatusProcessing:
			return apperrors.New(apperrors.KindConfirmationInProgress, "receipt "+id, nil)
		default:
			return apperrors.New(apperrors.KindNothingToConfirm,
				fmt.Sprintf("receipt %s is %s", id, r.Status), nil)
		}
		r.Status = StatusProcessing
		r.UpdatedAt = now
		receipt = r
		return put(tx.Bucket([]byte(receiptBucketName)), []byte(id), r)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ResetToDraft moves a processing receipt back to draft
func (b *BoltDB) ResetToDraft(id string, now time.Time) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusProcessing {
			return fmt.Errorf("receipt %s is %s, not processing", id, r.Status)
		}
		r.Status = StatusDraft
		r.UpdatedAt = now
		return put(tx.Bucket([]byte(receiptBucketName)), []byte(id), r)
	})
}

// CommitConfirmation inserts the inventory items, updates the extracted
// items and marks the receipt confirmed. Any failure rolls back all of it.
func (b *BoltDB) CommitConfirmation(c *Confirmation) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		current, err := getReceipt(tx, c.Receipt.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusProcessing {
			return fmt.Errorf("receipt %s is %s, not processing", current.ID, current.Status)
		}

		inventory := tx.Bucket([]byte(inventoryBucketName))
		for _, inv := range c.Inventory {
			if inventory.Get([]byte(inv.ID)) != nil {
				return fmt.Errorf("inventory item %s already exists", inv.ID)
			}
			if err := put(inventory, []byte(inv.ID), inv); err != nil {
				return err
			}
		}

		items := tx.Bucket([]byte(itemBucketName))
		for _, item := range c.Items {
			key := itemKey(item.ReceiptID, item.ID)
			data := items.Get(key)
			if data == nil {
				return fmt.Errorf("extracted item %s not found", item.ID)
			}
			var stored ExtractedItem
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			if stored.Status == ItemRejected || stored.Status == ItemConfirmed {
				return fmt.Errorf("extracted item %s is %s", item.ID, stored.Status)
			}
			if err := put(items, key, item); err != nil {
				return err
			}
		}

		return put(tx.Bucket([]byte(receiptBucketName)), []byte(c.Receipt.ID), c.Receipt)
	})
}

// DeleteReceipt removes a receipt with its items and sets inventory
// back-references to nil
func (b *BoltDB) DeleteReceipt(id string, acknowledgeLinked bool) (*Receipt, int, error) {
	var (
		deleted  *Receipt
		unlinked int
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if r.Status == StatusProcessing {
			return apperrors.New(apperrors.KindConfirmationInProgress, "receipt "+id, nil)
		}

		inventory := tx.Bucket([]byte(inventoryBucketName))
		var updates []*InventoryItem
		err = inventory.ForEach(func(k, v []byte) error {
			var inv InventoryItem
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling inventory item: %w", err)
			}
			if inv.ReceiptID != nil && *inv.ReceiptID == id {
				inv.ReceiptID = nil
				inv.ExtractedItemID = nil
				updates = append(updates, &inv)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if r.Status == StatusConfirmed && !acknowledgeLinked {
			return apperrors.New(apperrors.KindLinkedInventory,
				fmt.Sprintf("%d inventory items reference receipt %s", len(updates), id), nil)
		}

		if err := deleteItems(tx, id); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		// bbolt forbids writes inside ForEach
		for _, inv := range updates {
			if err := put(inventory, []byte(inv.ID), inv); err != nil {
				return err
			}
		}
		if err := tx.Bucket([]byte(receiptBucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		deleted = r
		unlinked = len(updates)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return deleted, unlinked, nil
}

// ListInventory returns all inventory items ordered by creation time
func (b *BoltDB) ListInventory() ([]*InventoryItem, error) {
	items := make([]*InventoryItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(inventoryBucketName)).ForEach(func(k, v []byte) error {
			var inv InventoryItem
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling inventory item: %w", err)
			}
			items = append(items, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// SaveCategory saves a category
func (b *BoltDB) SaveCategory(category *Category) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(categoryBucketName)), []byte(category.ID), category)
	})
}

// ListCategories returns all categories ordered by name
func (b *BoltDB) ListCategories() ([]*Category, error) {
	categories := make([]*Category, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucketName)).ForEach(func(k, v []byte) error {
			var c Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling category: %w", err)
			}
			categories = append(categories, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

// HasCategory reports whether a category exists
func (b *BoltDB) HasCategory(id string) (bool, error) {
	return b.has(categoryBucketName, id)
}

// SaveLocation saves a location
func (b *BoltDB) SaveLocation(location *Location) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(locationBucketName)), []byte(location.ID), location)
	})
}

// ListLocations returns all locations ordered by name
func (b *BoltDB) ListLocations() ([]*Location, error) {
	locations := make([]*Location, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(locationBucketName)).ForEach(func(k, v []byte) error {
			var l Location
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unmarshaling location: %w", err)
			}
			locations = append(locations, &l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(locations, func(i, j int) bool { return locations[i].Name < locations[j].Name })
	return locations, nil
}

// HasLocation reports whether a location exists
func (b *BoltDB) HasLocation(id string) (bool, error) {
	return b.has(locationBucketName, id)
}

func (b *BoltDB) has(bucket, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(bucket)).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
