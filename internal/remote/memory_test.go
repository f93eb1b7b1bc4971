// internal/remote/memory_test.go
package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stylevault/stylevault-go/internal/model"
)

func TestProfileMerge(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if _, err := c.GetUserProfile(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.SaveUserProfile(ctx, "u1", model.UserProfile{"name": "Ada", "bodyType": "athletic"}); err != nil {
		t.Fatalf("SaveUserProfile: %v", err)
	}
	// A later partial save overlays, it must not drop existing fields.
	if err := c.SaveUserProfile(ctx, "u1", model.UserProfile{"name": "Ada L.", "styleGoal": "minimal"}); err != nil {
		t.Fatalf("SaveUserProfile: %v", err)
	}

	p, err := c.GetUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserProfile: %v", err)
	}
	if p["name"] != "Ada L." || p["bodyType"] != "athletic" || p["styleGoal"] != "minimal" {
		t.Fatalf("merged profile = %v", p)
	}
}

func TestWardrobeCRUD(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	items, err := c.GetWardrobe(ctx, "u1")
	if err != nil || len(items) != 0 {
		t.Fatalf("empty wardrobe = %v, %v", items, err)
	}

	a := model.WardrobeItem{ID: model.NewItemID(), Name: "Tee", Category: model.CategoryTops}
	b := model.WardrobeItem{ID: model.NewItemID(), Name: "Boots", Category: model.CategoryShoes}
	for _, item := range []model.WardrobeItem{a, b} {
		if err := c.SaveWardrobeItem(ctx, "u1", item); err != nil {
			t.Fatalf("SaveWardrobeItem: %v", err)
		}
	}

	items, _ = c.GetWardrobe(ctx, "u1")
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not assigned on save")
	}

	if err := c.DeleteWardrobeItem(ctx, "u1", a.ID); err != nil {
		t.Fatalf("DeleteWardrobeItem: %v", err)
	}
	// A retried delete of an already-gone item succeeds.
	if err := c.DeleteWardrobeItem(ctx, "u1", a.ID); err != nil {
		t.Fatalf("second delete = %v", err)
	}
	items, _ = c.GetWardrobe(ctx, "u1")
	if len(items) != 1 || items[0].ID != b.ID {
		t.Fatalf("after delete: %v", items)
	}
}

func TestSyncWardrobeItemsReconcilesFullSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	stale := model.WardrobeItem{ID: model.NewItemID(), Name: "Old coat", Category: model.CategoryOuterwear}
	kept := model.WardrobeItem{ID: model.NewItemID(), Name: "Jeans", Category: model.CategoryBottoms}
	c.SaveWardrobeItem(ctx, "u1", stale)
	c.SaveWardrobeItem(ctx, "u1", kept)

	kept.Name = "Raw denim jeans"
	fresh := model.WardrobeItem{ID: model.NewItemID(), Name: "Scarf", Category: model.CategoryAccessories}
	if err := c.SyncWardrobeItems(ctx, "u1", []model.WardrobeItem{kept, fresh}); err != nil {
		t.Fatalf("SyncWardrobeItems: %v", err)
	}

	items, _ := c.GetWardrobe(ctx, "u1")
	if len(items) != 2 {
		t.Fatalf("got %d items after sync", len(items))
	}
	byID := map[string]model.WardrobeItem{}
	for _, item := range items {
		byID[item.ID] = item
	}
	if _, exists := byID[stale.ID]; exists {
		t.Fatal("stale item survived sync")
	}
	if byID[kept.ID].Name != "Raw denim jeans" {
		t.Fatalf("kept item not updated: %v", byID[kept.ID])
	}
	if _, exists := byID[fresh.ID]; !exists {
		t.Fatal("fresh item missing after sync")
	}
}

func TestChatHistoryReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if _, err := c.GetChatHistory(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := []model.ChatMessage{{Role: "user", Content: "hi"}}
	second := []model.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	c.SaveChatHistory(ctx, "u1", first)
	c.SaveChatHistory(ctx, "u1", second)

	msgs, err := c.GetChatHistory(ctx, "u1")
	if err != nil || len(msgs) != 2 || msgs[1].Role != "assistant" {
		t.Fatalf("GetChatHistory = %v, %v", msgs, err)
	}
}

func TestGallery(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	saved, err := c.SaveGalleryItem(ctx, "u1", model.GalleryItem{ImageURL: "s3://look.jpg", Prompt: "office look"})
	if err != nil {
		t.Fatalf("SaveGalleryItem: %v", err)
	}
	if saved.ID == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("server fields not assigned: %+v", saved)
	}

	items, err := c.ListGallery(ctx, "u1")
	if err != nil || len(items) != 1 || items[0].ID != saved.ID {
		t.Fatalf("ListGallery = %v, %v", items, err)
	}

	if err := c.DeleteGalleryItem(ctx, "u1", saved.ID); err != nil {
		t.Fatalf("DeleteGalleryItem: %v", err)
	}
	if err := c.DeleteGalleryItem(ctx, "u1", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

func TestUsageLimitLazyReset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().(*memory)

	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day1 }

	status, err := m.CheckUsageLimit(ctx, "u1", model.LimitWardrobeAnalysis)
	if err != nil || !status.Allowed || status.Remaining != model.DailyLimit {
		t.Fatalf("fresh status = %+v, %v", status, err)
	}

	for i := 0; i < model.DailyLimit; i++ {
		if err := m.IncrementUsage(ctx, "u1", model.LimitWardrobeAnalysis); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
	}
	status, _ = m.CheckUsageLimit(ctx, "u1", model.LimitWardrobeAnalysis)
	if status.Allowed || status.Remaining != 0 {
		t.Fatalf("exhausted status = %+v", status)
	}

	// The other limit type is metered independently.
	status, _ = m.CheckUsageLimit(ctx, "u1", model.LimitLookGeneration)
	if !status.Allowed || status.Remaining != model.DailyLimit {
		t.Fatalf("independent limit status = %+v", status)
	}

	// Next day: the stale counter reads as zero without being rewritten.
	m.now = func() time.Time { return day1.Add(24 * time.Hour) }
	status, _ = m.CheckUsageLimit(ctx, "u1", model.LimitWardrobeAnalysis)
	if !status.Allowed || status.Remaining != model.DailyLimit {
		t.Fatalf("next-day status = %+v", status)
	}
	if m.usage["u1"].WardrobeAnalysis != model.DailyLimit {
		t.Fatal("check must not rewrite the stored counter")
	}

	// The first increment of the new day commits the reset.
	m.IncrementUsage(ctx, "u1", model.LimitWardrobeAnalysis)
	if got := m.usage["u1"]; got.WardrobeAnalysis != 1 || got.LookGeneration != 0 {
		t.Fatalf("after reset increment: %+v", got)
	}
}
