// internal/remote/instrument.go
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/stylevault/stylevault-go/internal/metrics"
	"github.com/stylevault/stylevault-go/internal/model"
)

// instrumented wraps a Client and records per-operation counters and
// latencies. Not-found reads count as ok: absence is a normal answer for a
// first-time user, not a store failure.
type instrumented struct {
	next Client
	m    *metrics.Metrics
}

// NewInstrumented returns a Client that forwards every call to next and
// records it in m.
func NewInstrumented(next Client, m *metrics.Metrics) Client {
	return &instrumented{next: next, m: m}
}

// Close releases the wrapped client's resources when it holds any.
func (i *instrumented) Close() {
	if c, ok := i.next.(interface{ Close() }); ok {
		c.Close()
	}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	i.m.RemoteOperationTotal.WithLabelValues(op, status).Inc()
	i.m.RemoteOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (i *instrumented) GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	start := time.Now()
	profile, err := i.next.GetUserProfile(ctx, userID)
	i.observe("get_profile", start, err)
	return profile, err
}

func (i *instrumented) SaveUserProfile(ctx context.Context, userID string, profile model.UserProfile) error {
	start := time.Now()
	err := i.next.SaveUserProfile(ctx, userID, profile)
	i.observe("save_profile", start, err)
	return err
}

func (i *instrumented) GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error) {
	start := time.Now()
	items, err := i.next.GetWardrobe(ctx, userID)
	i.observe("get_wardrobe", start, err)
	return items, err
}

func (i *instrumented) SaveWardrobeItem(ctx context.Context, userID string, item model.WardrobeItem) error {
	start := time.Now()
	err := i.next.SaveWardrobeItem(ctx, userID, item)
	i.observe("save_wardrobe_item", start, err)
	return err
}

func (i *instrumented) DeleteWardrobeItem(ctx context.Context, userID, itemID string) error {
	start := time.Now()
	err := i.next.DeleteWardrobeItem(ctx, userID, itemID)
	i.observe("delete_wardrobe_item", start, err)
	return err
}

func (i *instrumented) SyncWardrobeItems(ctx context.Context, userID string, items []model.WardrobeItem) error {
	start := time.Now()
	err := i.next.SyncWardrobeItems(ctx, userID, items)
	i.observe("sync_wardrobe", start, err)
	return err
}

func (i *instrumented) GetChatHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	start := time.Now()
	msgs, err := i.next.GetChatHistory(ctx, userID)
	i.observe("get_chat", start, err)
	return msgs, err
}

func (i *instrumented) SaveChatHistory(ctx context.Context, userID string, msgs []model.ChatMessage) error {
	start := time.Now()
	err := i.next.SaveChatHistory(ctx, userID, msgs)
	i.observe("save_chat", start, err)
	return err
}

func (i *instrumented) SaveGalleryItem(ctx context.Context, userID string, item model.GalleryItem) (*model.GalleryItem, error) {
	start := time.Now()
	saved, err := i.next.SaveGalleryItem(ctx, userID, item)
	i.observe("save_gallery_item", start, err)
	return saved, err
}

func (i *instrumented) ListGallery(ctx context.Context, userID string) ([]model.GalleryItem, error) {
	start := time.Now()
	items, err := i.next.ListGallery(ctx, userID)
	i.observe("list_gallery", start, err)
	return items, err
}

func (i *instrumented) DeleteGalleryItem(ctx context.Context, userID, galleryID string) error {
	start := time.Now()
	err := i.next.DeleteGalleryItem(ctx, userID, galleryID)
	i.observe("delete_gallery_item", start, err)
	return err
}

func (i *instrumented) CheckUsageLimit(ctx context.Context, userID string, limit model.LimitType) (model.UsageStatus, error) {
	start := time.Now()
	status, err := i.next.CheckUsageLimit(ctx, userID, limit)
	i.observe("check_usage", start, err)
	return status, err
}

func (i *instrumented) IncrementUsage(ctx context.Context, userID string, limit model.LimitType) error {
	start := time.Now()
	err := i.next.IncrementUsage(ctx, userID, limit)
	i.observe("increment_usage", start, err)
	return err
}
