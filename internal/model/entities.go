// internal/model/entities.go
// Package model defines the data structures used throughout the StyleVault service.
// These structures represent the core domain objects for user profiles, wardrobe
// items, chat histories, gallery items, and usage counters.
package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityKey identifies one of the logical collections managed by the sync
// coordinator. The set is closed: every key maps deterministically to a
// local cache key and a per-user remote location.
type EntityKey string

const (
	KeyUserProfile EntityKey = "user-profile" // Single profile document per user
	KeyWardrobe    EntityKey = "wardrobe"     // Unordered wardrobe item collection
	KeyChatHistory EntityKey = "chat-history" // Ordered chat message sequence

	// KeySyncStatus is a synthetic key delivered to subscribers when a sync
	// cycle begins or ends. It never corresponds to stored data.
	KeySyncStatus EntityKey = "SYNC_STATUS"
)

// EntityKeys lists the three synced entity keys in sync order.
var EntityKeys = []EntityKey{KeyUserProfile, KeyWardrobe, KeyChatHistory}

// Valid reports whether k names a synced entity collection.
func (k EntityKey) Valid() bool {
	switch k {
	case KeyUserProfile, KeyWardrobe, KeyChatHistory:
		return true
	}
	return false
}

// Category is the closed wardrobe item category set. Values are stored in
// English regardless of the user's display language.
type Category string

const (
	CategoryTops        Category = "tops"
	CategoryBottoms     Category = "bottoms"
	CategoryShoes       Category = "shoes"
	CategoryAccessories Category = "accessories"
	CategoryOuterwear   Category = "outerwear"
)

// Categories lists all valid wardrobe categories.
var Categories = []Category{CategoryTops, CategoryBottoms, CategoryShoes, CategoryAccessories, CategoryOuterwear}

// Valid reports whether c is a member of the category enum.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// UserProfile is a single free-form attribute document per user (name,
// preferences, body type, style goals, onboarding flag). It is created on
// first onboarding save and only ever overwritten, never deleted. Remote
// writes are additive merges: new fields overlay old ones.
type UserProfile map[string]interface{}

// WardrobeItem is a photographed clothing item with AI-extracted attributes.
// The ID is client-generated, time-based, and immutable once assigned; no
// two items in a user's collection share an ID.
type WardrobeItem struct {
	ID          string    `json:"id" db:"item_id"`              // Time-based unique identifier (ULID)
	Name        string    `json:"name" db:"name"`               // Short descriptive name
	Category    Category  `json:"category" db:"category"`       // One of the category enum values
	Colors      []string  `json:"colors" db:"colors"`           // Primary colors
	Styles      []string  `json:"styles" db:"styles"`           // Style descriptors (casual, formal, ...)
	Brand       string    `json:"brand,omitempty" db:"brand"`   // Brand name if known
	Description string    `json:"description,omitempty" db:"description"` // Free-form description
	ImageURL    string    `json:"imageUrl,omitempty" db:"image_url"`      // Data URI or durable remote URL
	UpdatedAt   time.Time `json:"updatedAt,omitempty" db:"updated_at"`    // Server-assigned on remote write
}

// NewItemID generates a time-based wardrobe item identifier.
func NewItemID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// ChatMessage is one entry in the ordered stylist conversation. The history
// is append-only from the user's perspective; remotely the full sequence is
// replaced wholesale per sync cycle rather than appended per message.
type ChatMessage struct {
	Role      string    `json:"role"`      // "user" or "assistant"
	Content   string    `json:"content"`   // Message text
	CreatedAt time.Time `json:"createdAt"` // Client-side creation time
}

// GalleryItem is a generated virtual try-on result. Gallery items are
// remote-only: they are written and read directly against the remote store
// with no local cache copy.
type GalleryItem struct {
	ID        string    `json:"id" db:"gallery_id"`     // Server-assigned identifier
	ImageURL  string    `json:"imageUrl" db:"image_url"` // Durable blob reference
	ItemIDs   []string  `json:"itemIds" db:"item_ids"`   // Wardrobe items composed into the look
	Prompt    string    `json:"prompt" db:"prompt"`      // Generation prompt text
	CreatedAt time.Time `json:"createdAt" db:"created_at"` // Server-assigned creation time
}

// LimitType names a metered feature with a per-day usage cap.
type LimitType string

const (
	LimitWardrobeAnalysis LimitType = "wardrobe-analysis" // Garment image analysis calls
	LimitLookGeneration   LimitType = "look-generation"   // Try-on image generation calls
)

// Valid reports whether t is a known limit type.
func (t LimitType) Valid() bool {
	return t == LimitWardrobeAnalysis || t == LimitLookGeneration
}

// DailyLimit is the per-day cap applied to every metered feature.
const DailyLimit = 5

// UsageCounter is the stored per-user usage document. Counts for a stale
// LastReset date read as zero; the reset is committed lazily by the next
// increment rather than by reads.
type UsageCounter struct {
	LastReset        string `json:"lastReset" db:"last_reset"`               // YYYY-MM-DD of the counted day
	WardrobeAnalysis int    `json:"wardrobeAnalysis" db:"wardrobe_analysis"` // Analysis calls today
	LookGeneration   int    `json:"lookGeneration" db:"look_generation"`     // Generation calls today
}

// Count returns the stored count for a limit type.
func (c UsageCounter) Count(t LimitType) int {
	switch t {
	case LimitWardrobeAnalysis:
		return c.WardrobeAnalysis
	case LimitLookGeneration:
		return c.LookGeneration
	}
	return 0
}

// SetCount sets the stored count for a limit type.
func (c *UsageCounter) SetCount(t LimitType, n int) {
	switch t {
	case LimitWardrobeAnalysis:
		c.WardrobeAnalysis = n
	case LimitLookGeneration:
		c.LookGeneration = n
	}
}

// UsageStatus is the caller-facing result of a usage limit check.
type UsageStatus struct {
	Allowed   bool `json:"allowed"`   // Whether another call is permitted today
	Remaining int  `json:"remaining"` // Calls left today
	Limit     int  `json:"limit"`     // The daily cap
}

// DayStamp formats t as the YYYY-MM-DD day marker used by usage counters.
func DayStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
