package receipt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/home-inventory/internal/apperrors"
	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/parser"
	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/scoring"
)

// DefaultImageTTL is how long a receipt's temporary image is kept
const DefaultImageTTL = 7 * 24 * time.Hour

// Warnings attached to degraded drafts
const (
	WarningNoText  = "no text detected; retake the photo or enter items manually"
	WarningNoItems = "no line items found; add items manually"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Recognizer runs OCR over a preprocessed image
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Result, error)
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config tunes the pipeline
type Config struct {
	// OCR options passed to the recognizer
	OCR ocr.Options
	// ImageTTL bounds how long temporary images are kept
	ImageTTL time.Duration
}

// Upload is an image handed in for processing
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service runs the receipt pipeline and the review workflow
type Service struct {
	db          DB
	recognizer  Recognizer
	storage     Storage
	config      Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer Recognizer, storage Storage, config Config) *Service {
	return NewServiceWithDeps(db, recognizer, storage, config, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer Recognizer, storage Storage, config Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if config.ImageTTL <= 0 {
		config.ImageTTL = DefaultImageTTL
	}
	return &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		config:      config,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessReceipt runs an upload through preprocess → OCR → parse → score and
// persists the result as a draft. The context can cancel the work until OCR
// completes; after that the draft is always written.
//
// Undecodable input fails with UnsupportedFormat and persists nothing. When
// the OCR engine is unavailable or times out, a failed receipt holding the
// image is persisted and returned together with the error so it can be
// retried.
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload, level preprocess.Level) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	image, err := preprocess.Preprocess(preprocess.RawImage{Data: upload.Data, MIMEType: upload.ContentType}, level)
	if err != nil {
		slog.Warn("Rejected receipt image",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(upload.Filename)), upload.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	expires := now.Add(s.config.ImageTTL)

	receipt := &Receipt{
		ID:              id,
		Status:          StatusDraft,
		ImageURL:        savedPath,
		ImageExpiresAt:  &expires,
		Filename:        upload.Filename,
		ContentType:     upload.ContentType,
		PreprocessLevel: image.Level,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	draft, err := s.recognize(ctx, receipt, image)
	if err != nil && draft == nil {
		// Nothing references the image yet
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
	}
	return draft, err
}

// Retry re-runs OCR for a failed or draft receipt using its stored image.
// Existing extracted items are replaced.
func (s *Service) Retry(ctx context.Context, id string, level preprocess.Level) (*Draft, error) {
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
	if receipt.ImageURL == "" {
		return nil, apperrors.New(apperrors.KindNotFound, "image for receipt "+id+" has expired", nil)
	}

	data, err := s.storage.Get(receipt.ImageURL)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.New(apperrors.KindNotFound, "image for receipt "+id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt file: %w", err)
	}

	if level == "" {
		level = receipt.PreprocessLevel
	}
	image, err := preprocess.Preprocess(preprocess.RawImage{Data: data, MIMEType: receipt.ContentType}, level)
	if err != nil {
		return nil, err
	}
	receipt.PreprocessLevel = image.Level

	return s.recognize(ctx, receipt, image)
}

// recognize runs OCR on a preprocessed image and persists the outcome
func (s *Service) recognize(ctx context.Context, receipt *Receipt, image *preprocess.Image) (*Draft, error) {
	receipt.Attempts++

	result, err := s.recognizer.Recognize(ctx, image.Data, s.config.OCR)
	if err != nil {
		kind := apperrors.KindOf(err)
		if kind != apperrors.KindEngineInitFailed && kind != apperrors.KindTimeout {
			return nil, fmt.Errorf("recognizing receipt: %w", err)
		}
		return s.fail(receipt, err)
	}

	// No cancellation past this point: the draft is always written
	parsed := parser.Parse(result.Lines)
	now := s.timeSource.Now()

	items := make([]*ExtractedItem, 0, len(parsed.Items))
	scores := make([]float64, 0, len(parsed.Items))
	for i, c := range parsed.Items {
		confidence := scoring.Score(c, c.Source)
		scores = append(scores, confidence)
		items = append(items, &ExtractedItem{
			ID:          s.idGenerator.Generate(),
			ReceiptID:   receipt.ID,
			Position:    i,
			Name:        c.Name,
			Quantity:    c.Quantity,
			UnitPrice:   c.UnitPrice,
			TotalPrice:  c.TotalPrice,
			Confidence:  confidence,
			Bucket:      scoring.BucketFor(confidence),
			Status:      ItemPending,
			BoundingBox: c.Box,
			RawText:     c.RawText,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	overall := scoring.Overall(scores, result.OverallConfidence)
	receipt.Status = StatusDraft
	receipt.MerchantName = parsed.MerchantName
	receipt.ReceiptDate = parsed.ReceiptDate
	receipt.TotalAmount = parsed.TotalAmount
	receipt.Confidence = &overall
	receipt.RawOCRText = result.RawText()
	receipt.Engine = result.Engine
	receipt.NoTextDetected = result.NoTextDetected
	receipt.FailureReason = ""
	receipt.Warnings = nil
	receipt.NextAction = apperrors.ActionReview
	receipt.UpdatedAt = now

	switch {
	case result.NoTextDetected:
		receipt.Warnings = append(receipt.Warnings, WarningNoText)
		receipt.NextAction = apperrors.ActionRetake
	case len(items) == 0:
		receipt.Warnings = append(receipt.Warnings, WarningNoItems)
		receipt.NextAction = apperrors.ActionManualEntry
	}

	if err := s.db.SaveDraft(receipt, items); err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}

	slog.Info("Receipt processed",
		"receipt_id", receipt.ID,
		"items", len(items),
		"confidence", overall,
		"engine", result.Engine,
		"duration", result.Duration,
		"level", receipt.PreprocessLevel,
	)
	return &Draft{Receipt: receipt, Items: items}, nil
}

// fail persists a receipt whose OCR could not run. A timeout may be retried
// once; after that, or when the engine is down, manual entry is offered.
func (s *Service) fail(receipt *Receipt, cause error) (*Draft, error) {
	receipt.Status = StatusFailed
	receipt.FailureReason = cause.Error()
	receipt.UpdatedAt = s.timeSource.Now()
	receipt.NextAction = apperrors.ActionFor(cause)
	if apperrors.KindOf(cause) == apperrors.KindTimeout && receipt.Attempts > 1 {
		receipt.NextAction = apperrors.ActionManualEntry
	}

	slog.Error("Failed to recognize receipt",
		"receipt_id", receipt.ID,
		"attempts", receipt.Attempts,
		"next_action", receipt.NextAction,
		"error", cause,
	)

	if err := s.db.SaveDraft(receipt, nil); err != nil {
		return nil, errors.Join(cause, fmt.Errorf("saving failed receipt: %w", err))
	}
	return &Draft{Receipt: receipt, Items: []*ExtractedItem{}}, cause
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// GetDraft retrieves a receipt with its extracted items
func (s *Service) GetDraft(id string) (*Draft, error) {
	receipt, err := s.GetReceipt(id)
	if err != nil {
		return nil, err
	}
	items, err := s.db.ListItems(id)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return &Draft{Receipt: receipt, Items: items}, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// GetReceiptImage retrieves the stored image for a receipt
func (s *Service) GetReceiptImage(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImageURL == "" {
		return nil, "", apperrors.New(apperrors.KindNotFound, "image for receipt "+id+" has expired", nil)
	}

	data, err := s.storage.Get(receipt.ImageURL)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// DeleteReceipt removes a receipt, its items and its image. Deleting a
// confirmed receipt requires acknowledging that its inventory items will
// lose their back-reference. It returns the number of unlinked items.
func (s *Service) DeleteReceipt(id string, acknowledgeLinked bool) (int, error) {
	receipt, unlinked, err := s.db.DeleteReceipt(id, acknowledgeLinked)
	if err != nil {
		return 0, fmt.Errorf("deleting receipt %s: %w", id, err)
	}

	// The image goes only once nothing references it
	if receipt.ImageURL != "" {
		if err := s.storage.Delete(receipt.ImageURL); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to delete file", "filename", receipt.ImageURL, "error", err)
		}
	}

	slog.Info("Receipt deleted", "receipt_id", id, "unlinked_inventory", unlinked)
	return unlinked, nil
}

// SweepExpiredImages deletes temporary images past their expiry and clears
// the image fields on their receipts. It returns the number removed.
func (s *Service) SweepExpiredImages() (int, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return 0, fmt.Errorf("listing receipts: %w", err)
	}

	now := s.timeSource.Now()
	swept := 0
	for _, r := range receipts {
		if r.ImageURL == "" || r.ImageExpiresAt == nil || r.ImageExpiresAt.After(now) {
			continue
		}
		if err := s.storage.Delete(r.ImageURL); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to delete expired image", "receipt_id", r.ID, "filename", r.ImageURL, "error", err)
			continue
		}
		r.ImageURL = ""
		r.ImageExpiresAt = nil
		r.UpdatedAt = now
		if err := s.db.SaveReceipt(r); err != nil {
			return swept, fmt.Errorf("updating receipt %s: %w", r.ID, err)
		}
		swept++
	}

	if swept > 0 {
		slog.Info("Swept expired images", "count", swept)
	}
	return swept, nil
}
