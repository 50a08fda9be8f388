package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/home-inventory/internal/ocr"
)

// defaultConfidence applies to lines the model returned without a score
const defaultConfidence = 0.5

// lineJSON mirrors ocr.Line with the "box" key the prompt asks for
type lineJSON struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Box        ocr.Box  `json:"box"`
}

// parseLinesJSON extracts recognized lines from a model reply
func parseLinesJSON(text string) (*ocr.Raw, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var resp struct {
		Lines []lineJSON `json:"lines"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	raw := &ocr.Raw{Lines: make([]ocr.Line, 0, len(resp.Lines))}
	for _, l := range resp.Lines {
		line := ocr.Line{Text: strings.TrimSpace(l.Text), Box: l.Box}
		if line.Text == "" {
			continue
		}
		line.Confidence = defaultConfidence
		if l.Confidence != nil {
			line.Confidence = *l.Confidence
		}
		raw.Lines = append(raw.Lines, line)
	}
	return raw, nil
}
