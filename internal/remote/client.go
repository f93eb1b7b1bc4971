// internal/remote/client.go
// Package remote provides implementations of the Client interface for the
// cloud document store, with in-memory and PostgreSQL backends. The remote
// store is the durable copy of every synced entity; the local cache is the
// fast copy. All operations are scoped to a single user.
package remote

import (
	"context"
	"errors"

	"github.com/stylevault/stylevault-go/internal/model"
)

// Standard errors returned by the remote storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a document is not found
	ErrConflict = errors.New("conflict")  // Returned when a document already exists
)

// Client interface defines the remote storage operations required by the
// sync coordinator and the HTTP surface. It is implemented by both the
// in-memory and PostgreSQL backends.
//
// Failure classes matter to callers: implementations wrap transport-level
// failures as SV_UNAVAILABLE, access-control rejections as SV_PERMISSION,
// and malformed-entity failures as SV_DATA (see internal/errors).
type Client interface {
	// Profile operations. Saves are additive merges: fields present in the
	// given profile overlay the stored document, absent fields survive.
	GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error)
	SaveUserProfile(ctx context.Context, userID string, profile model.UserProfile) error

	// Wardrobe operations. DeleteWardrobeItem is idempotent and succeeds
	// when the item is already gone. SyncWardrobeItems reconciles the full remote
	// collection against the given set: every given item is upserted and
	// every remote item absent from the set is deleted.
	GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error)
	SaveWardrobeItem(ctx context.Context, userID string, item model.WardrobeItem) error
	DeleteWardrobeItem(ctx context.Context, userID, itemID string) error
	SyncWardrobeItems(ctx context.Context, userID string, items []model.WardrobeItem) error

	// Chat history operations. The stored history is a single document
	// replaced wholesale on save.
	GetChatHistory(ctx context.Context, userID string) ([]model.ChatMessage, error)
	SaveChatHistory(ctx context.Context, userID string, msgs []model.ChatMessage) error

	// Gallery operations. Gallery items are remote-only and never flow
	// through the sync coordinator. SaveGalleryItem assigns the ID and
	// creation time and returns the stored item.
	SaveGalleryItem(ctx context.Context, userID string, item model.GalleryItem) (*model.GalleryItem, error)
	ListGallery(ctx context.Context, userID string) ([]model.GalleryItem, error)
	DeleteGalleryItem(ctx context.Context, userID, galleryID string) error

	// Usage metering. CheckUsageLimit never mutates the counter: counts
	// under a stale day stamp read as zero and the reset is committed by
	// the next IncrementUsage.
	CheckUsageLimit(ctx context.Context, userID string, limit model.LimitType) (model.UsageStatus, error)
	IncrementUsage(ctx context.Context, userID string, limit model.LimitType) error
}
