// Package tesseract runs OCR through the local Tesseract library.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/home-inventory/internal/ocr"
)

var pageSegModes = map[ocr.PageSegMode]gosseract.PageSegMode{
	ocr.PSMAuto:         gosseract.PSM_AUTO,
	ocr.PSMSingleColumn: gosseract.PSM_SINGLE_COLUMN,
	ocr.PSMSingleBlock:  gosseract.PSM_SINGLE_BLOCK,
	ocr.PSMSparseText:   gosseract.PSM_SPARSE_TEXT,
	ocr.PSMRawLine:      gosseract.PSM_RAW_LINE,
}

// tessedit_ocr_engine_mode values
var engineModes = map[ocr.EngineMode]string{
	ocr.OEMLegacy:   "0",
	ocr.OEMLSTM:     "1",
	ocr.OEMCombined: "2",
	ocr.OEMDefault:  "3",
}

// Engine implements ocr.Engine on top of gosseract. A client is created per
// call because gosseract clients are not safe for concurrent use.
type Engine struct {
	tessdataPrefix string
}

// Option configures an Engine
type Option func(*Engine)

// WithTessdataPrefix points tesseract at a non-default tessdata directory
func WithTessdataPrefix(dir string) Option {
	return func(e *Engine) {
		e.tessdataPrefix = dir
	}
}

// New creates a tesseract Engine
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ocr.Engine
func (e *Engine) Name() string {
	return "tesseract"
}

// Recognize implements ocr.Engine. Tesseract cannot be interrupted, so the
// context is only checked before the page is handed over.
func (e *Engine) Recognize(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	psm, ok := pageSegModes[opts.PageSegMode]
	if !ok {
		return nil, fmt.Errorf("unsupported page segmentation mode %q", opts.PageSegMode)
	}
	oem, ok := engineModes[opts.EngineMode]
	if !ok {
		return nil, fmt.Errorf("unsupported engine mode %q", opts.EngineMode)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdataPrefix != "" {
		client.TessdataPrefix = e.tessdataPrefix
	}
	if err := client.SetLanguage(opts.Language); err != nil {
		return nil, fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetPageSegMode(psm); err != nil {
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetVariable("tessedit_ocr_engine_mode", oem); err != nil {
		return nil, fmt.Errorf("setting engine mode: %w", err)
	}
	// Receipts print amounts right-aligned with runs of spaces
	if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
		slog.Warn("Failed to preserve interword spaces", "error", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("reading word boxes: %w", err)
	}

	// Word confidences are percentages; -1 marks non-word boxes
	raw := &ocr.Raw{Fragments: make([]ocr.Fragment, 0, len(boxes)), ConfidenceScale: 100}
	for _, b := range boxes {
		raw.Fragments = append(raw.Fragments, ocr.Fragment{
			Text:       b.Word,
			Confidence: b.Confidence,
			Box: ocr.Box{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
			Block:     b.BlockNum,
			Paragraph: b.ParNum,
			Line:      b.LineNum,
		})
	}

	slog.Debug("Tesseract recognized page", "words", len(raw.Fragments), "psm", opts.PageSegMode)
	return raw, nil
}

// Close implements ocr.Engine
func (e *Engine) Close() error {
	return nil
}
