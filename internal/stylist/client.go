// internal/stylist/client.go
// Package stylist provides the AI styling assistant: conversational advice,
// garment photo analysis, free-text profile extraction, and virtual try-on
// generation. The rest of the service depends only on the Client interface;
// the Gemini implementation lives behind it.
package stylist

import (
	"context"

	"github.com/stylevault/stylevault-go/internal/model"
)

// ItemDraft is the structured result of a garment photo analysis. It is a
// draft: the caller assigns the item ID and attaches the image before the
// item enters the wardrobe.
type ItemDraft struct {
	Name        string         `json:"name"`        // Short descriptive name, localized
	Category    model.Category `json:"category"`    // Category enum value, always English
	Color       string         `json:"color"`       // Primary color, localized
	Style       string         `json:"style"`       // Style descriptor, localized
	Brand       string         `json:"brand"`       // Brand name if visible, empty otherwise
	Description string         `json:"description"` // Brief description, localized
}

// ProfileAnalysis is the structured extraction of a free-text style
// description. Values stay in the language the user wrote in.
type ProfileAnalysis struct {
	FavoriteColors []string `json:"favoriteColors"` // Colors the user names positively
	PreferredItems []string `json:"preferredItems"` // Garment kinds the user favors
	Dislikes       []string `json:"dislikes"`       // Explicit negative preferences
	Occasions      []string `json:"occasions"`      // Occasions the user dresses for
	BodyType       string   `json:"bodyType"`       // Body type, or "Unspecified"
	FavoriteBrands []string `json:"favoriteBrands"` // Brands the user names
	StyleGoals     string   `json:"styleGoals"`     // Goal summary in the user's language
}

// Client is the AI styling assistant boundary.
type Client interface {
	// SendMessage continues the stylist conversation: history is the prior
	// exchange, message the new user turn. The reply is the assistant turn.
	SendMessage(ctx context.Context, history []model.ChatMessage, message string) (string, error)

	// AnalyzeGarment extracts structured attributes from a garment photo.
	// Free-text fields come back in the requested language; the category is
	// always a member of the English enum.
	AnalyzeGarment(ctx context.Context, imageData []byte, mimeType, language string) (*ItemDraft, error)

	// AnalyzeProfile extracts structured style preferences from a free-text
	// self-description.
	AnalyzeProfile(ctx context.Context, text string) (*ProfileAnalysis, error)

	// GenerateTryOn composes the person photo with the given wardrobe item
	// photos into a generated try-on image.
	GenerateTryOn(ctx context.Context, personImage []byte, itemImages [][]byte, prompt string) ([]byte, error)

	// Close releases the underlying connection.
	Close() error
}
