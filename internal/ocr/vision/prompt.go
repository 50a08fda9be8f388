// Package vision reads receipts through multimodal LLMs (Gemini, Ollama)
// asked to transcribe the image line by line.
package vision

import (
	"net/http"
	"strings"

	"github.com/zombor/home-inventory/internal/ocr"
)

// linePrompt is shared by all providers
const linePrompt = `You are transcribing a photographed store receipt for an OCR pipeline. Read every printed line of the receipt, top to bottom, exactly as printed. Do not correct spelling, do not merge or split lines, and do not interpret prices.

Return ONLY valid JSON in this exact format:
{
  "lines": [
    {"text": "WALMART", "confidence": 0.97, "box": {"x": 120, "y": 40, "width": 300, "height": 32}},
    {"text": "GV BRD WHEAT 2.99", "confidence": 0.91, "box": {"x": 20, "y": 210, "width": 560, "height": 24}}
  ]
}

Important:
- "text" is the full printed line, including prices on the same row
- "confidence" is your certainty in the transcription, between 0 and 1
- "box" is the line's pixel bounding box; use 0 for every field if unknown
- Skip blank lines
- If the image contains no readable text return {"lines": []}
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// imageFormat returns the short format name genai expects ("png", "jpeg")
func imageFormat(data []byte) string {
	mime := http.DetectContentType(data)
	if format, ok := strings.CutPrefix(mime, "image/"); ok {
		return format
	}
	return "png"
}

// promptFor adds a language hint when the caller asked for one other than
// English.
func promptFor(opts ocr.Options) string {
	if opts.Language == "" || opts.Language == "eng" {
		return linePrompt
	}
	return linePrompt + "\n- The receipt is printed in language code " + opts.Language
}
