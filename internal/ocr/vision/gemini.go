package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/home-inventory/internal/ocr"
)

// Gemini implements ocr.Engine using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Name implements ocr.Engine
func (g *Gemini) Name() string {
	return "gemini"
}

// Recognize transcribes the receipt into lines. Page segmentation and engine
// modes have no Gemini equivalent and are ignored.
func (g *Gemini) Recognize(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Raw, error) {
	parts := []genai.Part{
		genai.ImageData(imageFormat(image), image),
		genai.Text(promptFor(opts)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	raw, err := parseLinesJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing gemini lines: %w", err)
	}
	return raw, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
