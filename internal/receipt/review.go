package receipt

import (
	"fmt"
	"strings"

	"github.com/zombor/home-inventory/internal/apperrors"
	"github.com/zombor/home-inventory/internal/scoring"
)

// ItemEdit changes fields of an extracted item. Nil fields are left as
// they are.
type ItemEdit struct {
	Name       *string
	Quantity   *int
	UnitPrice  *int // cents
	TotalPrice *int // cents
}

func (e ItemEdit) validate() error {
	var problems []string
	if e.Name != nil && strings.TrimSpace(*e.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if e.Quantity != nil && *e.Quantity < 0 {
		problems = append(problems, "quantity must not be negative")
	}
	if e.UnitPrice != nil && *e.UnitPrice < 0 {
		problems = append(problems, "unit price must not be negative")
	}
	if e.TotalPrice != nil && *e.TotalPrice < 0 {
		problems = append(problems, "total price must not be negative")
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.KindValidation, strings.Join(problems, "; "), nil)
	}
	return nil
}

// editableReceipt loads a receipt that may still be reviewed
func (s *Service) editableReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	switch receipt.Status {
	case StatusConfirmed:
		return nil, apperrors.New(apperrors.KindAlreadyConfirmed, "receipt "+id, nil)
	case StatusProcessing:
		return nil, apperrors.New(apperrors.KindConfirmationInProgress, "receipt "+id, nil)
	}
	return receipt, nil
}

func (s *Service) findItem(receiptID, itemID string) (*ExtractedItem, []*ExtractedItem, error) {
	items, err := s.db.ListItems(receiptID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing items: %w", err)
	}
	for _, item := range items {
		if item.ID == itemID {
			return item, items, nil
		}
	}
	return nil, items, apperrors.New(apperrors.KindNotFound,
		fmt.Sprintf("item %s on receipt %s", itemID, receiptID), nil)
}

// EditItem applies a user correction. The item becomes edited and the
// receipt stays a draft.
func (s *Service) EditItem(receiptID, itemID string, edit ItemEdit) (*ExtractedItem, error) {
	if err := edit.validate(); err != nil {
		return nil, err
	}
	if _, err := s.editableReceipt(receiptID); err != nil {
		return nil, err
	}
	item, _, err := s.findItem(receiptID, itemID)
	if err != nil {
		return nil, err
	}

	if edit.Name != nil {
		item.Name = strings.TrimSpace(*edit.Name)
	}
	if edit.Quantity != nil {
		item.Quantity = *edit.Quantity
	}
	if edit.UnitPrice != nil {
		item.UnitPrice = edit.UnitPrice
	}
	if edit.TotalPrice != nil {
		item.TotalPrice = edit.TotalPrice
	}
	item.Status = ItemEdited
	item.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}

// RejectItem marks an extracted item as not wanted
func (s *Service) RejectItem(receiptID, itemID string) (*ExtractedItem, error) {
	if _, err := s.editableReceipt(receiptID); err != nil {
		return nil, err
	}
	item, _, err := s.findItem(receiptID, itemID)
	if err != nil {
		return nil, err
	}

	item.Status = ItemRejected
	item.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}

// AddItem enters an item by hand, for receipts OCR read poorly. A failed
// receipt becomes a draft again.
func (s *Service) AddItem(receiptID string, edit ItemEdit) (*ExtractedItem, error) {
	if edit.Name == nil {
		return nil, apperrors.New(apperrors.KindValidation, "name is required", nil)
	}
	if err := edit.validate(); err != nil {
		return nil, err
	}
	receipt, err := s.editableReceipt(receiptID)
	if err != nil {
		return nil, err
	}
	items, err := s.db.ListItems(receiptID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	now := s.timeSource.Now()
	item := &ExtractedItem{
		ID:         s.idGenerator.Generate(),
		ReceiptID:  receiptID,
		Position:   len(items),
		Name:       strings.TrimSpace(*edit.Name),
		Quantity:   1,
		UnitPrice:  edit.UnitPrice,
		TotalPrice: edit.TotalPrice,
		Confidence: 1,
		Bucket:     scoring.BucketHigh,
		Status:     ItemEdited,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if n := len(items); n > 0 {
		item.Position = items[n-1].Position + 1
	}
	if edit.Quantity != nil {
		item.Quantity = *edit.Quantity
	}

	if receipt.Status == StatusFailed {
		receipt.Status = StatusDraft
		receipt.NextAction = apperrors.ActionReview
		receipt.UpdatedAt = now
		items = append(items, item)
		if err := s.db.SaveDraft(receipt, items); err != nil {
			return nil, fmt.Errorf("saving draft: %w", err)
		}
		return item, nil
	}

	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}
