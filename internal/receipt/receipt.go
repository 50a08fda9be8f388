package receipt

import (
	"time"

	"github.com/zombor/home-inventory/internal/apperrors"
	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/scoring"
)

// Status is a receipt's processing state
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// ItemStatus is an extracted item's review state
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemEdited    ItemStatus = "edited"
	ItemRejected  ItemStatus = "rejected"
	ItemConfirmed ItemStatus = "confirmed"
)

// Receipt is one scanned receipt and its extraction metadata
type Receipt struct {
	ID              string               `json:"id"`
	MerchantName    *string              `json:"merchant_name,omitempty"`
	ReceiptDate     *time.Time           `json:"receipt_date,omitempty"`
	TotalAmount     *int                 `json:"total_amount,omitempty"` // Amount in cents
	Status          Status               `json:"processing_status"`
	Confidence      *float64             `json:"confidence,omitempty"`
	RawOCRText      string               `json:"raw_ocr_text,omitempty"`
	ImageURL        string               `json:"image_url,omitempty"`
	ImageExpiresAt  *time.Time           `json:"image_expires_at,omitempty"`
	Filename        string               `json:"filename"`
	ContentType     string               `json:"content_type"`
	PreprocessLevel preprocess.Level     `json:"preprocess_level"`
	Engine          string               `json:"engine,omitempty"`
	NoTextDetected  bool                 `json:"no_text_detected,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
	NextAction      apperrors.NextAction `json:"next_action,omitempty"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	Attempts        int                  `json:"attempts"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ExtractedItem is a line item read from a receipt, awaiting review
type ExtractedItem struct {
	ID              string         `json:"id"`
	ReceiptID       string         `json:"receipt_id"`
	Position        int            `json:"position"`
	Name            string         `json:"name"`
	Quantity        int            `json:"quantity"`
	UnitPrice       *int           `json:"unit_price,omitempty"`  // cents
	TotalPrice      *int           `json:"total_price,omitempty"` // cents
	Confidence      float64        `json:"confidence"`
	Bucket          scoring.Bucket `json:"bucket"`
	Status          ItemStatus     `json:"status"`
	BoundingBox     ocr.Box        `json:"bounding_box"`
	RawText         string         `json:"raw_text"`
	InventoryItemID string         `json:"inventory_item_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// InventoryItem is a piece of personal property. ReceiptID and
// ExtractedItemID trace it back to its receipt; both become nil when the
// receipt is deleted.
type InventoryItem struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Quantity        int        `json:"quantity"`
	CategoryID      string     `json:"category_id"`
	LocationID      string     `json:"location_id"`
	PurchasePrice   *int       `json:"purchase_price,omitempty"` // cents
	PurchaseDate    *time.Time `json:"purchase_date,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ReceiptID       *string    `json:"receipt_id"`
	ExtractedItemID *string    `json:"extracted_item_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Category groups inventory items
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is where an inventory item is kept
type Location struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Draft is a receipt together with its extracted items
type Draft struct {
	Receipt *Receipt         `json:"receipt"`
	Items   []*ExtractedItem `json:"items"`
}
