package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/home-inventory/internal/apperrors"
)

// ConfirmedItemInput is one reviewed item the user wants in inventory
type ConfirmedItemInput struct {
	ExtractedItemID string `json:"extracted_item_id"`
	Name            string `json:"name"`
	Quantity        int    `json:"quantity"`
	CategoryID      string `json:"category_id"`
	LocationID      string `json:"location_id"`
	// PurchasePrice defaults to the extracted total price
	PurchasePrice *int   `json:"purchase_price,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// FieldError is a validation problem with one input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FailedItem is an input that failed validation
type FailedItem struct {
	ExtractedItemID string       `json:"extracted_item_id"`
	Errors          []FieldError `json:"errors"`
}

// ItemErrors lists every input that failed validation
type ItemErrors []FailedItem

func (e ItemErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, f := range e {
		msgs := make([]string, 0, len(f.Errors))
		for _, fe := range f.Errors {
			msgs = append(msgs, fe.Field+" "+fe.Message)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.ExtractedItemID, strings.Join(msgs, ", ")))
	}
	return fmt.Sprintf("%d items failed validation: %s", len(e), strings.Join(parts, "; "))
}

// ConfirmResult reports a confirmation. Failed inputs were not persisted;
// Unsubmitted lists pending items the request did not mention.
type ConfirmResult struct {
	Receipt     *Receipt         `json:"receipt"`
	Created     []*InventoryItem `json:"created_items"`
	Failed      []FailedItem     `json:"failed_items"`
	Unsubmitted []string         `json:"unsubmitted_items,omitempty"`
}

// Confirm turns reviewed items into inventory items.
//
// Every input is validated first. Invalid inputs are reported in
// ConfirmResult.Failed; all valid inputs are then written in a single
// transaction together with the receipt's move to confirmed. If no input is
// valid, nothing is written and a Validation error wrapping ItemErrors is
// returned. Items are checked again once the receipt is held in processing,
// so a rejection that lands during validation is honored. A database
// failure rolls the whole batch back and leaves the receipt a draft. ctx is
// only honored before anything is written.
func (s *Service) Confirm(ctx context.Context, receiptID string, inputs []ConfirmedItemInput) (*ConfirmResult, error) {
	receipt, err := s.db.GetReceipt(receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	switch receipt.Status {
	case StatusConfirmed:
		return nil, apperrors.New(apperrors.KindAlreadyConfirmed, "receipt "+receiptID, nil)
	case StatusProcessing:
		return nil, apperrors.New(apperrors.KindConfirmationInProgress, "receipt "+receiptID, nil)
	case StatusFailed:
		return nil, apperrors.New(apperrors.KindNothingToConfirm, "receipt "+receiptID+" has no recognized items", nil)
	}

	items, err := s.db.ListItems(receiptID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	remaining := 0
	byID := make(map[string]*ExtractedItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
		if item.Status != ItemRejected {
			remaining++
		}
	}
	if remaining == 0 || len(inputs) == 0 {
		return nil, apperrors.New(apperrors.KindNothingToConfirm, "receipt "+receiptID+" has no items to confirm", nil)
	}

	valid, failed, err := s.validateInputs(inputs, byID)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		slog.Warn("Confirmation rejected", "receipt_id", receiptID, "failed", len(failed))
		return nil, apperrors.New(apperrors.KindValidation, "no valid items", ItemErrors(failed))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipt, err = s.db.BeginConfirmation(receiptID, s.timeSource.Now())
	if err != nil {
		return nil, err
	}

	// Review may have changed items since they were validated; the
	// processing status now blocks further edits
	items, err = s.db.ListItems(receiptID)
	if err != nil {
		return nil, s.abortConfirmation(receiptID, fmt.Errorf("listing items: %w", err))
	}
	byID = make(map[string]*ExtractedItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	valid, failed = recheckItems(valid, failed, byID)
	if len(valid) == 0 {
		if resetErr := s.db.ResetToDraft(receiptID, s.timeSource.Now()); resetErr != nil {
			slog.Error("Failed to reset receipt to draft", "receipt_id", receiptID, "error", resetErr)
		}
		slog.Warn("Confirmation rejected", "receipt_id", receiptID, "failed", len(failed))
		return nil, apperrors.New(apperrors.KindValidation, "no valid items", ItemErrors(failed))
	}

	now := s.timeSource.Now()
	confirmation := &Confirmation{Receipt: receipt}
	submitted := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		submitted[in.ExtractedItemID] = true
	}
	for _, in := range valid {
		item := *byID[in.ExtractedItemID]
		inv := &InventoryItem{
			ID:              s.idGenerator.Generate(),
			Name:            strings.TrimSpace(in.Name),
			Quantity:        in.Quantity,
			CategoryID:      in.CategoryID,
			LocationID:      in.LocationID,
			PurchasePrice:   in.PurchasePrice,
			PurchaseDate:    receipt.ReceiptDate,
			Notes:           in.Notes,
			ReceiptID:       &receipt.ID,
			ExtractedItemID: &item.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if inv.PurchasePrice == nil {
			inv.PurchasePrice = item.TotalPrice
		}
		item.Status = ItemConfirmed
		item.InventoryItemID = inv.ID
		item.UpdatedAt = now

		confirmation.Inventory = append(confirmation.Inventory, inv)
		confirmation.Items = append(confirmation.Items, &item)
	}

	confirmed := *receipt
	confirmed.Status = StatusConfirmed
	confirmed.NextAction = apperrors.ActionNone
	confirmed.UpdatedAt = now
	confirmation.Receipt = &confirmed

	if err := s.db.CommitConfirmation(confirmation); err != nil {
		slog.Error("Confirmation rolled back", "receipt_id", receiptID, "items", len(valid), "error", err)
		return nil, s.abortConfirmation(receiptID, err)
	}

	result := &ConfirmResult{
		Receipt: &confirmed,
		Created: confirmation.Inventory,
		Failed:  failed,
	}
	for _, item := range items {
		if item.Status == ItemRejected || item.Status == ItemConfirmed || submitted[item.ID] {
			continue
		}
		result.Unsubmitted = append(result.Unsubmitted, item.ID)
	}

	slog.Info("Receipt confirmed",
		"receipt_id", receiptID,
		"created", len(result.Created),
		"failed", len(result.Failed),
		"unsubmitted", len(result.Unsubmitted),
	)
	return result, nil
}

// abortConfirmation returns a receipt held in processing to draft
func (s *Service) abortConfirmation(receiptID string, cause error) error {
	if err := s.db.ResetToDraft(receiptID, s.timeSource.Now()); err != nil {
		slog.Error("Failed to reset receipt to draft", "receipt_id", receiptID, "error", err)
	}
	return apperrors.New(apperrors.KindTransactionFailed, "confirming receipt "+receiptID, cause)
}

// itemProblem describes why an extracted item can't be confirmed, or ""
func itemProblem(item *ExtractedItem, ok bool) string {
	switch {
	case !ok:
		return "is not on this receipt"
	case item.Status == ItemRejected:
		return "was rejected during review"
	case item.Status == ItemConfirmed:
		return "is already confirmed"
	}
	return ""
}

// recheckItems moves inputs whose item changed status since validation to
// the failures
func recheckItems(valid []ConfirmedItemInput, failed []FailedItem, items map[string]*ExtractedItem) ([]ConfirmedItemInput, []FailedItem) {
	var still []ConfirmedItemInput
	for _, in := range valid {
		item, ok := items[in.ExtractedItemID]
		if msg := itemProblem(item, ok); msg != "" {
			failed = append(failed, FailedItem{
				ExtractedItemID: in.ExtractedItemID,
				Errors:          []FieldError{{Field: "extracted_item_id", Message: msg}},
			})
			continue
		}
		still = append(still, in)
	}
	return still, failed
}

// validateInputs splits inputs into valid ones and failures
func (s *Service) validateInputs(inputs []ConfirmedItemInput, items map[string]*ExtractedItem) ([]ConfirmedItemInput, []FailedItem, error) {
	var (
		valid  []ConfirmedItemInput
		failed = make([]FailedItem, 0)
		seen   = make(map[string]bool, len(inputs))
	)
	for _, in := range inputs {
		var errs []FieldError
		add := func(field, msg string) {
			errs = append(errs, FieldError{Field: field, Message: msg})
		}

		item, ok := items[in.ExtractedItemID]
		switch {
		case in.ExtractedItemID == "":
			add("extracted_item_id", "is required")
		case ok && seen[in.ExtractedItemID]:
			add("extracted_item_id", "was submitted more than once")
		default:
			if msg := itemProblem(item, ok); msg != "" {
				add("extracted_item_id", msg)
			}
		}
		seen[in.ExtractedItemID] = true

		if strings.TrimSpace(in.Name) == "" {
			add("name", "is required")
		}
		if in.Quantity <= 0 {
			add("quantity", "must be greater than zero")
		}
		if in.PurchasePrice != nil && *in.PurchasePrice < 0 {
			add("purchase_price", "must not be negative")
		}

		if in.CategoryID == "" {
			add("category_id", "is required")
		} else if found, err := s.db.HasCategory(in.CategoryID); err != nil {
			return nil, nil, fmt.Errorf("checking category: %w", err)
		} else if !found {
			add("category_id", "does not exist")
		}

		if in.LocationID == "" {
			add("location_id", "is required")
		} else if found, err := s.db.HasLocation(in.LocationID); err != nil {
			return nil, nil, fmt.Errorf("checking location: %w", err)
		} else if !found {
			add("location_id", "does not exist")
		}

		if len(errs) > 0 {
			failed = append(failed, FailedItem{ExtractedItemID: in.ExtractedItemID, Errors: errs})
			continue
		}
		valid = append(valid, in)
	}
	return valid, failed, nil
}
