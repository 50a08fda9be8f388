package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	formatJPEG = "jpeg"
	formatPNG  = "png"
	formatHEIC = "heic"
	formatPDF  = "pdf"
)

// decode turns raw bytes into an image. It returns the detected format name
// alongside the decoded image.
func decode(data []byte, mimeType string, autoOrient bool) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}

	mimeType = normalizeMIME(mimeType)

	switch {
	case isPDF(data, mimeType):
		img, err := pdfFirstPage(data)
		if err != nil {
			return nil, "", err
		}
		return img, formatPDF, nil
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package doesn't support HEIC
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, formatHEIC, nil
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("reading image header: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(autoOrient))
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s image: %w", format, err)
	}
	return img, format, nil
}

// pdfFirstPage renders the first page of a PDF (most receipts are single page)
func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

func isPDF(data []byte, mimeType string) bool {
	return mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func mimeForFormat(format string) string {
	switch format {
	case formatJPEG:
		return "image/jpeg"
	case formatPNG:
		return "image/png"
	}
	return "image/" + format
}
