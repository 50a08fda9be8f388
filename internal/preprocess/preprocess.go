package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/zombor/home-inventory/internal/apperrors"
)

// Level selects how much enhancement runs before OCR
type Level string

const (
	// LevelNone passes the pixels through untouched, dropping only
	// metadata. Aggressive enhancement degrades OCR on typical phone
	// photos, so this is the default.
	LevelNone Level = "none"
	// LevelQuick applies grayscale and a mild contrast boost
	LevelQuick Level = "quick"
	// LevelFull applies grayscale, denoise, local contrast, deskew and sharpen
	LevelFull Level = "full"
)

// DefaultLevel is used when the caller does not choose one
const DefaultLevel = LevelNone

// Levels lists every level in increasing order of processing
var Levels = []Level{LevelNone, LevelQuick, LevelFull}

// ParseLevel converts a name into a Level. The empty string yields the
// default level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultLevel, nil
	case LevelNone:
		return LevelNone, nil
	case LevelQuick:
		return LevelQuick, nil
	case LevelFull:
		return LevelFull, nil
	}
	return "", fmt.Errorf("unknown preprocessing level %q (valid: none, quick, full)", s)
}

const (
	quickContrast  = 20.0
	denoiseSigma   = 0.6
	sharpenSigma   = 1.0
	minDeskewAngle = 0.5
)

// RawImage is an uploaded photo as received from the caller
type RawImage struct {
	Data     []byte
	MIMEType string
}

// Image is a buffer ready for OCR
type Image struct {
	Data      []byte
	MIMEType  string
	Width     int
	Height    int
	Level     Level
	SkewAngle float64 // degrees corrected, full level only
}

// Preprocess normalizes raw for OCR at the given level. Input that is not a
// decodable raster image fails with an UnsupportedFormat error.
func Preprocess(raw RawImage, level Level) (*Image, error) {
	if level == "" {
		level = DefaultLevel
	}

	img, format, err := decode(raw.Data, raw.MIMEType, level != LevelNone)
	if err != nil {
		return nil, apperrors.New(apperrors.KindUnsupportedFormat, "decoding image", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, apperrors.New(apperrors.KindUnsupportedFormat, "image has no pixels", nil)
	}

	out := &Image{Level: level}

	switch level {
	case LevelNone:
		if format == formatJPEG || format == formatPNG {
			out.Data = raw.Data
			if stripped, ok := StripMetadata(raw.Data, format); ok {
				out.Data = stripped
			}
			out.MIMEType = mimeForFormat(format)
			out.Width, out.Height = bounds.Dx(), bounds.Dy()
			return out, nil
		}
		// HEIC, PDF and GIF are re-encoded so the engine can read them
	case LevelQuick:
		img = imaging.AdjustContrast(imaging.Grayscale(img), quickContrast)
	case LevelFull:
		gray := toGray(imaging.Blur(imaging.Grayscale(img), denoiseSigma))
		gray = EqualizeLocal(gray, DefaultTiles, DefaultClipLimit)
		angle := EstimateSkew(gray)
		var enhanced image.Image = gray
		if math.Abs(angle) >= minDeskewAngle {
			enhanced = imaging.Rotate(enhanced, angle, color.White)
			out.SkewAngle = angle
		}
		img = imaging.Sharpen(enhanced, sharpenSigma)
	default:
		return nil, fmt.Errorf("unknown preprocessing level %q", level)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	b := img.Bounds()
	out.Data = buf.Bytes()
	out.MIMEType = "image/png"
	out.Width, out.Height = b.Dx(), b.Dy()
	return out, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
