package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Box is an axis-aligned bounding box in image pixels
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bottom returns the y coordinate just below the box
func (b Box) Bottom() int { return b.Y + b.Height }

// Right returns the x coordinate just right of the box
func (b Box) Right() int { return b.X + b.Width }

// Union returns the smallest box covering b and o. A zero box is ignored.
func (b Box) Union(o Box) Box {
	if b == (Box{}) {
		return o
	}
	if o == (Box{}) {
		return b
	}
	x, y := min(b.X, o.X), min(b.Y, o.Y)
	return Box{X: x, Y: y, Width: max(b.Right(), o.Right()) - x, Height: max(b.Bottom(), o.Bottom()) - y}
}

// Word is a recognized word with its confidence in [0,1]
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Line is one recognized text line
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bounding_box"`
	Words      []Word  `json:"words,omitempty"`
}

// Result is the flattened output of one recognition
type Result struct {
	Lines             []Line        `json:"lines"`
	OverallConfidence float64       `json:"overall_confidence"`
	NoTextDetected    bool          `json:"no_text_detected"`
	Engine            string        `json:"engine"`
	Duration          time.Duration `json:"duration"`
}

// RawText joins line texts with newlines
func (r *Result) RawText() string {
	texts := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// PageSegMode describes the text layout the engine should assume
type PageSegMode string

const (
	PSMAuto         PageSegMode = "auto"
	PSMSingleColumn PageSegMode = "single_column"
	PSMSingleBlock  PageSegMode = "single_block"
	PSMSparseText   PageSegMode = "sparse_text"
	// PSMRawLine treats each line independently. Receipts mix headers,
	// columnar item lists and footers, so no single layout fits.
	PSMRawLine PageSegMode = "raw_line"
)

// EngineMode selects the recognizer implementation inside the engine
type EngineMode string

const (
	OEMDefault  EngineMode = "default"
	OEMLegacy   EngineMode = "legacy"
	OEMLSTM     EngineMode = "lstm"
	OEMCombined EngineMode = "combined"
)

// Options configure a recognition call
type Options struct {
	PageSegMode PageSegMode
	EngineMode  EngineMode
	Language    string
}

// DefaultOptions returns the options used when the caller sets none
func DefaultOptions() Options {
	return Options{
		PageSegMode: PSMRawLine,
		EngineMode:  OEMDefault,
		Language:    "eng",
	}
}

// withDefaults fills unset fields from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSegMode == "" {
		o.PageSegMode = d.PageSegMode
	}
	if o.EngineMode == "" {
		o.EngineMode = d.EngineMode
	}
	if o.Language == "" {
		o.Language = d.Language
	}
	return o
}

// ParsePageSegMode validates a page segmentation mode name
func ParsePageSegMode(s string) (PageSegMode, error) {
	switch m := PageSegMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return PSMRawLine, nil
	case PSMAuto, PSMSingleColumn, PSMSingleBlock, PSMSparseText, PSMRawLine:
		return m, nil
	}
	return "", fmt.Errorf("unknown page segmentation mode %q", s)
}

// ParseEngineMode validates an engine mode name
func ParseEngineMode(s string) (EngineMode, error) {
	switch m := EngineMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return OEMDefault, nil
	case OEMDefault, OEMLegacy, OEMLSTM, OEMCombined:
		return m, nil
	}
	return "", fmt.Errorf("unknown engine mode %q", s)
}

// Fragment is an engine-native recognized word. Block, Paragraph and Line
// locate it in the engine's nested layout. Confidence is on the scale given
// by Raw.ConfidenceScale.
type Fragment struct {
	Text       string
	Confidence float64
	Box        Box
	Block      int
	Paragraph  int
	Line       int
}

// Raw is what an engine hands back before flattening. Engines fill either
// Fragments (word level with layout numbers) or Lines (already grouped).
type Raw struct {
	Fragments []Fragment
	Lines     []Line
	// ConfidenceScale is the engine's maximum confidence, e.g. 100 for
	// tesseract. Zero means confidences are already in [0,1].
	ConfidenceScale float64
}

// Engine is a text recognition backend
type Engine interface {
	// Name identifies the engine in logs and results
	Name() string
	// Recognize runs OCR over an encoded image
	Recognize(ctx context.Context, image []byte, opts Options) (*Raw, error)
	// Close releases engine resources
	Close() error
}
