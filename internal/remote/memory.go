// internal/remote/memory.go
package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stylevault/stylevault-go/internal/model"
)

// memory implements the Client interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu        sync.RWMutex                           // Protects concurrent access to maps
	profiles  map[string]model.UserProfile           // Map of user ID to profile document
	wardrobes map[string]map[string]model.WardrobeItem // Map of user ID to item ID to item
	chats     map[string][]model.ChatMessage         // Map of user ID to chat history
	galleries map[string]map[string]model.GalleryItem // Map of user ID to gallery ID to item
	usage     map[string]model.UsageCounter          // Map of user ID to usage counter
	now       func() time.Time                       // Clock, replaceable in tests
}

// NewMemory creates a new in-memory remote store implementation.
// Returns a Client that can be used for testing or development.
func NewMemory() Client {
	return &memory{
		profiles:  make(map[string]model.UserProfile),
		wardrobes: make(map[string]map[string]model.WardrobeItem),
		chats:     make(map[string][]model.ChatMessage),
		galleries: make(map[string]map[string]model.GalleryItem),
		usage:     make(map[string]model.UsageCounter),
		now:       time.Now,
	}
}

func (m *memory) GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.profiles[userID]
	if !exists {
		return nil, ErrNotFound
	}
	p := make(model.UserProfile, len(stored))
	for k, v := range stored {
		p[k] = v
	}
	return p, nil
}

func (m *memory) SaveUserProfile(ctx context.Context, userID string, profile model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.profiles[userID]
	if !exists {
		stored = make(model.UserProfile, len(profile))
	}
	// Merge semantics: given fields overlay stored ones.
	for k, v := range profile {
		stored[k] = v
	}
	m.profiles[userID] = stored
	return nil
}

func (m *memory) GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]model.WardrobeItem, 0, len(m.wardrobes[userID]))
	for _, item := range m.wardrobes[userID] {
		items = append(items, item)
	}
	// Map iteration order is random; item IDs are time-ordered ULIDs.
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memory) SaveWardrobeItem(ctx context.Context, userID string, item model.WardrobeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertItemLocked(userID, item)
	return nil
}

func (m *memory) upsertItemLocked(userID string, item model.WardrobeItem) {
	if m.wardrobes[userID] == nil {
		m.wardrobes[userID] = make(map[string]model.WardrobeItem)
	}
	item.UpdatedAt = m.now().UTC()
	m.wardrobes[userID][item.ID] = item
}

// DeleteWardrobeItem is idempotent: deleting an absent item succeeds, so a
// retried delete after a dropped response does not surface as an error.
func (m *memory) DeleteWardrobeItem(ctx context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.wardrobes[userID], itemID)
	return nil
}

func (m *memory) SyncWardrobeItems(ctx context.Context, userID string, items []model.WardrobeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(items))
	for _, item := range items {
		keep[item.ID] = true
		m.upsertItemLocked(userID, item)
	}
	for id := range m.wardrobes[userID] {
		if !keep[id] {
			delete(m.wardrobes[userID], id)
		}
	}
	return nil
}

func (m *memory) GetChatHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.chats[userID]
	if !exists {
		return nil, ErrNotFound
	}
	msgs := make([]model.ChatMessage, len(stored))
	copy(msgs, stored)
	return msgs, nil
}

func (m *memory) SaveChatHistory(ctx context.Context, userID string, msgs []model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]model.ChatMessage, len(msgs))
	copy(stored, msgs)
	m.chats[userID] = stored
	return nil
}

func (m *memory) SaveGalleryItem(ctx context.Context, userID string, item model.GalleryItem) (*model.GalleryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.galleries[userID] == nil {
		m.galleries[userID] = make(map[string]model.GalleryItem)
	}
	item.ID = uuid.NewString()
	item.CreatedAt = m.now().UTC()
	m.galleries[userID][item.ID] = item
	return &item, nil
}

func (m *memory) ListGallery(ctx context.Context, userID string) ([]model.GalleryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]model.GalleryItem, 0, len(m.galleries[userID]))
	for _, item := range m.galleries[userID] {
		items = append(items, item)
	}
	// Newest first
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memory) DeleteGalleryItem(ctx context.Context, userID, galleryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.galleries[userID][galleryID]; !exists {
		return ErrNotFound
	}
	delete(m.galleries[userID], galleryID)
	return nil
}

func (m *memory) CheckUsageLimit(ctx context.Context, userID string, limit model.LimitType) (model.UsageStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counter := m.usage[userID]
	count := 0
	// A stale day stamp reads as zero without rewriting the counter.
	if counter.LastReset == model.DayStamp(m.now()) {
		count = counter.Count(limit)
	}
	return model.UsageStatus{
		Allowed:   count < model.DailyLimit,
		Remaining: max(model.DailyLimit-count, 0),
		Limit:     model.DailyLimit,
	}, nil
}

func (m *memory) IncrementUsage(ctx context.Context, userID string, limit model.LimitType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := model.DayStamp(m.now())
	counter := m.usage[userID]
	if counter.LastReset != today {
		counter = model.UsageCounter{LastReset: today}
	}
	counter.SetCount(limit, counter.Count(limit)+1)
	m.usage[userID] = counter
	return nil
}
