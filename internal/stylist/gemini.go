// internal/stylist/gemini.go
package stylist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/model"
)

const (
	chatModel  = "gemini-2.5-flash-preview-09-2025"
	imageModel = "gemini-3-pro-image-preview"
)

// systemInstruction frames every stylist conversation.
const systemInstruction = `You are a personal fashion stylist. Give concise,
practical outfit advice grounded in the user's wardrobe and preferences.
Answer in the language the user writes in.`

// Gemini implements Client against the Google generative AI API.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini-backed stylist client.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Close releases the underlying connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// SendMessage implements Client.
func (g *Gemini) SendMessage(ctx context.Context, history []model.ChatMessage, message string) (string, error) {
	gm := g.client.GenerativeModel(chatModel)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	session := gm.StartChat()
	session.History = make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", sverrors.Wrap(sverrors.SV_UNAVAILABLE, "stylist chat failed", err)
	}
	text, err := firstText(resp)
	if err != nil {
		return "", err
	}
	return text, nil
}

// AnalyzeGarment implements Client. The prompt pins the category to the
// English enum regardless of the requested output language.
func (g *Gemini) AnalyzeGarment(ctx context.Context, imageData []byte, mimeType, language string) (*ItemDraft, error) {
	if language == "" {
		language = "en"
	}
	prompt := fmt.Sprintf(`Analyze this image of a clothing item. Return ONLY a valid JSON object (no markdown formatting, no backticks) with the following fields:
- name: A short, descriptive name for the item in %[1]s (e.g., "Blue Denim Jacket" or "Jaqueta Jeans Azul").
- category: One of "tops", "bottoms", "shoes", "accessories", "outerwear" (ALWAYS in English, do not translate this value).
- color: The primary color of the item in %[1]s.
- style: The style of the item in %[1]s (e.g., "Casual", "Formal", "Sporty").
- brand: The brand name if visible, otherwise null.
- description: A brief description of the item in %[1]s.`, language)

	format := "jpeg"
	if _, sub, found := strings.Cut(mimeType, "/"); found {
		format = sub
	}

	gm := g.client.GenerativeModel(chatModel)
	resp, err := gm.GenerateContent(ctx,
		genai.Text(prompt),
		genai.ImageData(format, imageData),
	)
	if err != nil {
		return nil, sverrors.Wrap(sverrors.SV_UNAVAILABLE, "garment analysis failed", err)
	}
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	var draft ItemDraft
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &draft); err != nil {
		return nil, sverrors.Wrap(sverrors.SV_DATA, "garment analysis returned malformed JSON", err)
	}
	if !draft.Category.Valid() {
		return nil, sverrors.New(sverrors.SV_DATA, fmt.Sprintf("garment analysis returned unknown category %q", draft.Category))
	}
	return &draft, nil
}

// AnalyzeProfile implements Client.
func (g *Gemini) AnalyzeProfile(ctx context.Context, text string) (*ProfileAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze the following user description of their style preferences and extract the following structured data in JSON format.
IMPORTANT: The output values MUST be in the SAME LANGUAGE as the User Description. If the user writes in Portuguese, the values must be in Portuguese.

Fields to extract:
- favoriteColors: Array of strings
- preferredItems: Array of strings
- dislikes: Array of strings (Extract explicit negative preferences, e.g., "I don't like", "hate", "avoid")
- occasions: Array of strings
- bodyType: String (e.g., "Athletic", "Slim", "Plus Size", or "Unspecified")
- favoriteBrands: Array of strings
- styleGoals: String (Summary of their goals in the SAME LANGUAGE as input)

User Description: %q`, text)

	gm := g.client.GenerativeModel(chatModel)
	gm.ResponseMIMEType = "application/json"
	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, sverrors.Wrap(sverrors.SV_UNAVAILABLE, "profile analysis failed", err)
	}
	raw, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	var analysis ProfileAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &analysis); err != nil {
		return nil, sverrors.Wrap(sverrors.SV_DATA, "profile analysis returned malformed JSON", err)
	}
	return &analysis, nil
}

// GenerateTryOn implements Client.
func (g *Gemini) GenerateTryOn(ctx context.Context, personImage []byte, itemImages [][]byte, prompt string) ([]byte, error) {
	fullPrompt := `Compose the provided clothing item images onto the person in the first image,
keeping the person's identity, pose and proportions unchanged. Produce a single
photorealistic try-on image.`
	if prompt != "" {
		fullPrompt += "\n\nAdditional direction: " + prompt
	}

	parts := []genai.Part{
		genai.Text(fullPrompt),
		genai.ImageData("jpeg", personImage),
	}
	for _, img := range itemImages {
		if len(img) == 0 {
			continue
		}
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	gm := g.client.GenerativeModel(imageModel)
	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, sverrors.Wrap(sverrors.SV_UNAVAILABLE, "try-on generation failed", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, sverrors.New(sverrors.SV_DATA, "try-on generation returned no content")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(genai.Blob); ok {
			return blob.Data, nil
		}
	}
	return nil, sverrors.New(sverrors.SV_DATA, "try-on generation returned no image")
}

// firstText extracts the first text part of a response.
func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", sverrors.New(sverrors.SV_DATA, "model returned no content")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", sverrors.New(sverrors.SV_DATA, "model returned no text")
}

// stripCodeFence removes markdown code fences some model replies wrap
// around JSON payloads.
func stripCodeFence(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
