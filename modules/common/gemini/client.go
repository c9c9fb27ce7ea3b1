package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"

	"google.golang.org/genai"

	"archiviz-render-server/modules/common/config"
)

// ErrNoContent - the response carried no usable image or text part
var ErrNoContent = errors.New("no content generated in response")

// Request - one upstream generation/analysis call
type Request struct {
	Model  string
	Parts  []*genai.Part
	Config *genai.GenerateContentConfig
}

// Result - the first usable payload extracted from a response
type Result struct {
	ImageData []byte
	MIMEType  string
	Text      string
}

// Client - thin wrapper over the genai SDK
type Client struct {
	genaiClient *genai.Client
}

// NewClient - create the Gemini client from config
func NewClient(ctx context.Context) *Client {
	cfg := config.GetConfig()

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Printf("❌ Failed to create Genai client: %v", err)
		return nil
	}

	log.Println("✅ Genai client initialized")
	return &Client{genaiClient: genaiClient}
}

// Dispatch - send exactly one call and extract the first image or text part
func (c *Client) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || len(req.Parts) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	content := &genai.Content{Parts: req.Parts}

	log.Printf("📤 Sending request to Gemini (model: %s, parts: %d)", req.Model, len(req.Parts))
	resp, err := c.genaiClient.Models.GenerateContent(
		ctx,
		req.Model,
		[]*genai.Content{content},
		req.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	return ExtractResult(resp)
}

// ExtractResult - first inline-image part wins, then the first text part
func ExtractResult(resp *genai.GenerateContentResponse) (*Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoContent
	}

	var firstText string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				log.Printf("✅ Received image from Gemini: %d bytes (%s)", len(part.InlineData.Data), mimeType)
				return &Result{ImageData: part.InlineData.Data, MIMEType: mimeType}, nil
			}
			if firstText == "" && part.Text != "" {
				firstText = part.Text
			}
		}
	}

	if firstText != "" {
		return &Result{Text: firstText}, nil
	}

	return nil, ErrNoContent
}
