// internal/sync/coordinator_test.go
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stylevault/stylevault-go/internal/auth"
	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/localstore"
	"github.com/stylevault/stylevault-go/internal/model"
	"github.com/stylevault/stylevault-go/internal/remote"
	"github.com/stylevault/stylevault-go/internal/schema"
)

// fakeScheduler collects scheduled callbacks so tests fire debounce
// windows deterministically.
type fakeScheduler struct {
	mu      gosync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{fn: fn}
	s.pending = append(s.pending, t)
	return t
}

// fire runs every pending non-stopped callback, as if all debounce
// windows elapsed.
func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	fired := 0
	for _, t := range pending {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.fn()
		fired++
	}
	return fired
}

type fixture struct {
	coord  *Coordinator
	local  *localstore.Store
	remote remote.Client
	source *auth.SessionSource
	sched  *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local, err := localstore.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("schema.NewValidator: %v", err)
	}

	f := &fixture{
		local:  local,
		remote: remote.NewMemory(),
		source: auth.NewSessionSource(),
		sched:  &fakeScheduler{},
	}
	f.coord = New(local, f.remote, f.source, validator, Options{
		Scheduler: f.sched,
		Logger:    logger,
	})
	t.Cleanup(f.coord.Close)
	return f
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestReadAfterWriteBeforeDebounce(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")

	profile := mustJSON(t, model.UserProfile{"name": "Ada"})
	if !f.coord.SetItem(model.KeyUserProfile, profile) {
		t.Fatal("SetItem failed")
	}

	// The value must be readable immediately, before any timer fires.
	got, ok := f.coord.GetItem(model.KeyUserProfile)
	if !ok || got != profile {
		t.Fatalf("GetItem = %q, %v", got, ok)
	}

	// Nothing reached the remote store yet.
	if _, err := f.remote.GetUserProfile(context.Background(), "u1"); err == nil {
		t.Fatal("remote profile present before debounce fired")
	}

	f.sched.fire()
	remoteProfile, err := f.remote.GetUserProfile(context.Background(), "u1")
	if err != nil || remoteProfile["name"] != "Ada" {
		t.Fatalf("remote profile after flush = %v, %v", remoteProfile, err)
	}
}

func TestExactlyOneNotificationPerMutation(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")

	type notification struct {
		key   model.EntityKey
		value string
	}
	var notified []notification
	f.coord.Subscribe(func(key model.EntityKey, value string) {
		notified = append(notified, notification{key, value})
	})

	profile := mustJSON(t, model.UserProfile{"name": "Ada"})
	f.coord.SetItem(model.KeyUserProfile, profile)
	if len(notified) != 1 || notified[0].key != model.KeyUserProfile {
		t.Fatalf("notifications = %v", notified)
	}
	if notified[0].value != profile {
		t.Fatalf("notification value = %q, want the written document", notified[0].value)
	}

	// Flushing the push must not notify again.
	f.sched.fire()
	if len(notified) != 1 {
		t.Fatalf("notifications after flush = %v", notified)
	}

	f.coord.RemoveItem(model.KeyUserProfile)
	if len(notified) != 2 || notified[1].value != "" {
		t.Fatalf("notifications after remove = %v", notified)
	}
}

func TestDebounceCoalescesToLastValue(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")

	for _, name := range []string{"v1", "v2", "v3"} {
		f.coord.SetItem(model.KeyUserProfile, mustJSON(t, model.UserProfile{"name": name}))
	}

	if fired := f.sched.fire(); fired != 1 {
		t.Fatalf("fired %d pushes, want 1", fired)
	}
	profile, err := f.remote.GetUserProfile(context.Background(), "u1")
	if err != nil || profile["name"] != "v3" {
		t.Fatalf("remote profile = %v, %v", profile, err)
	}
}

func TestSignedOutWritesStayLocal(t *testing.T) {
	f := newFixture(t)

	f.coord.SetItem(model.KeyUserProfile, mustJSON(t, model.UserProfile{"name": "Ada"}))
	if fired := f.sched.fire(); fired != 0 {
		t.Fatalf("scheduled %d pushes while signed out", fired)
	}
	if got, ok := f.coord.GetItem(model.KeyUserProfile); !ok || got == "" {
		t.Fatal("local value missing")
	}
}

func TestInvalidWriteRejected(t *testing.T) {
	f := newFixture(t)

	bad := mustJSON(t, []map[string]interface{}{{"id": "x", "name": "Coat", "category": "abrigos"}})
	if f.coord.SetItem(model.KeyWardrobe, bad) {
		t.Fatal("out-of-enum category accepted")
	}
	if f.coord.SetItem("not-an-entity", `{}`) {
		t.Fatal("unknown key accepted")
	}
	if f.coord.SetItem(model.KeyWardrobe, `{not json`) {
		t.Fatal("non-JSON accepted")
	}
}

func TestMergeOnLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Remote has {1, 2}, seeded before sign-in.
	item1 := model.WardrobeItem{ID: "01A", Name: "Remote tee", Category: model.CategoryTops}
	item2 := model.WardrobeItem{ID: "01B", Name: "Shared jeans", Category: model.CategoryBottoms}
	f.remote.SaveWardrobeItem(ctx, "u1", item1)
	f.remote.SaveWardrobeItem(ctx, "u1", item2)
	f.remote.SaveUserProfile(ctx, "u1", model.UserProfile{"name": "Ada"})

	// Local (anonymous, offline) has {2', 3}: a stale copy of the shared
	// item and one item created offline.
	staleShared := item2
	staleShared.Name = "Stale local jeans"
	item3 := model.WardrobeItem{ID: "01C", Name: "Offline scarf", Category: model.CategoryAccessories}
	f.coord.SetItem(model.KeyWardrobe, mustJSON(t, []model.WardrobeItem{staleShared, item3}))

	// Sign-in triggers adoption of the anonymous partition and the merge.
	f.source.SignIn("u1")

	items, ok := f.local.Wardrobe("u1")
	if !ok || len(items) != 3 {
		t.Fatalf("merged wardrobe = %v, %v", items, ok)
	}
	byID := map[string]model.WardrobeItem{}
	for _, item := range items {
		byID[item.ID] = item
	}
	if byID["01B"].Name != "Shared jeans" {
		t.Fatalf("remote did not win shared id: %v", byID["01B"])
	}
	if _, exists := byID["01C"]; !exists {
		t.Fatal("local-only item lost in merge")
	}

	// The remote profile overwrote the (absent) local one.
	if profile, ok := f.local.Profile("u1"); !ok || profile["name"] != "Ada" {
		t.Fatalf("profile after merge = %v, %v", profile, ok)
	}

	// The merge found local-only items, so a push-back was scheduled.
	if fired := f.sched.fire(); fired == 0 {
		t.Fatal("no push-back scheduled after merge")
	}
	remoteItems, _ := f.remote.GetWardrobe(ctx, "u1")
	if len(remoteItems) != 3 {
		t.Fatalf("remote wardrobe after push-back = %v", remoteItems)
	}
}

func TestSyncStatusNotifications(t *testing.T) {
	f := newFixture(t)

	var statusEvents []string
	f.coord.Subscribe(func(key model.EntityKey, value string) {
		if key == model.KeySyncStatus {
			statusEvents = append(statusEvents, value)
		}
	})

	f.source.SignIn("u1")

	if len(statusEvents) != 2 || statusEvents[0] != "true" || statusEvents[1] != "false" {
		t.Fatalf("status transitions = %v, want [true false]", statusEvents)
	}
	status := f.coord.SyncStatus()
	if status.Syncing || status.LastSyncedAt == nil {
		t.Fatalf("status after sync = %+v", status)
	}
}

func TestSyncFromCloudRequiresUser(t *testing.T) {
	f := newFixture(t)
	if err := f.coord.SyncFromCloud(context.Background()); err == nil {
		t.Fatal("sync succeeded without a user")
	}
}

func TestFetchFailureKeepsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := model.WardrobeItem{ID: "01A", Name: "Tee", Category: model.CategoryTops}
	f.coord.SetItem(model.KeyWardrobe, mustJSON(t, []model.WardrobeItem{item}))

	f.source.SignIn("u1")
	f.sched.fire()

	// Swap in a failing remote and sync again: local data must survive.
	f.coord.remote = unavailableClient{}
	if err := f.coord.SyncFromCloud(ctx); err == nil {
		t.Fatal("expected degraded sync to report its errors")
	}
	items, ok := f.local.Wardrobe("u1")
	if !ok || len(items) != 1 || items[0].ID != "01A" {
		t.Fatalf("local wardrobe after failed fetch = %v, %v", items, ok)
	}
}

func TestOfflineAddThenLoginReachesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := model.WardrobeItem{ID: model.NewItemID(), Name: "Offline coat", Category: model.CategoryOuterwear}
	f.coord.SetItem(model.KeyWardrobe, mustJSON(t, []model.WardrobeItem{item}))

	f.source.SignIn("u1")
	f.sched.fire()

	remoteItems, err := f.remote.GetWardrobe(ctx, "u1")
	if err != nil || len(remoteItems) != 1 || remoteItems[0].ID != item.ID {
		t.Fatalf("remote wardrobe = %v, %v", remoteItems, err)
	}
}

func TestRemoveItemClearsRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SignIn("u1")
	f.sched.fire() // drain the sign-in cycle

	item := model.WardrobeItem{ID: "01A", Name: "Tee", Category: model.CategoryTops}
	f.coord.SetItem(model.KeyWardrobe, mustJSON(t, []model.WardrobeItem{item}))
	f.sched.fire()
	if remoteItems, _ := f.remote.GetWardrobe(ctx, "u1"); len(remoteItems) != 1 {
		t.Fatalf("remote wardrobe before removal = %v", remoteItems)
	}

	if !f.coord.RemoveItem(model.KeyWardrobe) {
		t.Fatal("RemoveItem failed")
	}
	if _, ok := f.coord.GetItem(model.KeyWardrobe); ok {
		t.Fatal("local value still present after removal")
	}

	// The removal flushes as an empty reconciliation, not a skip.
	f.sched.fire()
	remoteItems, err := f.remote.GetWardrobe(ctx, "u1")
	if err != nil || len(remoteItems) != 0 {
		t.Fatalf("remote wardrobe after removal = %v, %v", remoteItems, err)
	}
}

func TestSignOutCancelsPendingPushes(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")
	f.sched.fire() // drain the sign-in cycle

	f.coord.SetItem(model.KeyUserProfile, mustJSON(t, model.UserProfile{"name": "Ada"}))
	f.source.SignOut()

	if fired := f.sched.fire(); fired != 0 {
		t.Fatalf("%d pushes fired after sign-out", fired)
	}
	if _, err := f.remote.GetUserProfile(context.Background(), "u1"); err == nil {
		t.Fatal("profile pushed after sign-out")
	}
}

func TestSyncAllToCloudNotifiesStatus(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")
	f.sched.fire() // drain the sign-in cycle

	f.coord.SetItem(model.KeyUserProfile, mustJSON(t, model.UserProfile{"name": "Ada"}))

	var statusEvents []string
	f.coord.Subscribe(func(key model.EntityKey, value string) {
		if key == model.KeySyncStatus {
			statusEvents = append(statusEvents, value)
		}
	})

	if err := f.coord.SyncAllToCloud(context.Background()); err != nil {
		t.Fatalf("SyncAllToCloud: %v", err)
	}
	if len(statusEvents) != 2 || statusEvents[0] != "true" || statusEvents[1] != "false" {
		t.Fatalf("status transitions = %v, want [true false]", statusEvents)
	}
	if status := f.coord.SyncStatus(); status.Syncing || status.LastSyncedAt == nil {
		t.Fatalf("status after force push = %+v", status)
	}
}

// gateClient parks the profile fetch so a reconciliation cycle can be held
// mid-flight.
type gateClient struct {
	remote.Client
	enter   chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gateClient) GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	g.calls.Add(1)
	g.enter <- struct{}{}
	<-g.release
	return g.Client.GetUserProfile(ctx, userID)
}

func TestConcurrentSyncRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.source.SignIn("u1")

	gate := &gateClient{Client: f.remote, enter: make(chan struct{}, 1), release: make(chan struct{})}
	f.coord.remote = gate

	done := make(chan error, 1)
	go func() { done <- f.coord.SyncFromCloud(context.Background()) }()
	<-gate.enter // first cycle is inside its fetch

	// Entering again while the cycle runs must no-op without touching the
	// remote store.
	if err := f.coord.SyncFromCloud(context.Background()); err != nil {
		t.Fatalf("re-entrant sync returned %v", err)
	}
	if got := gate.calls.Load(); got != 1 {
		t.Fatalf("re-entrant sync fetched, calls = %d", got)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("sync returned %v", err)
	}
	if got := gate.calls.Load(); got != 1 {
		t.Fatalf("profile fetched %d times, want 1", got)
	}
}

func TestUserViewsIsolatePartitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.coord.ForUser("user-a")
	b := f.coord.ForUser("user-b")

	chatA := mustJSON(t, []model.ChatMessage{{Role: "user", Content: "a-private"}})
	if !a.SetItem(model.KeyChatHistory, chatA) {
		t.Fatal("SetItem failed")
	}

	// The write is visible only through A's view, whatever the device
	// session says.
	if got, ok := a.GetItem(model.KeyChatHistory); !ok || got != chatA {
		t.Fatalf("A's chat = %q, %v", got, ok)
	}
	if _, ok := b.GetItem(model.KeyChatHistory); ok {
		t.Fatal("B's view can read A's chat history")
	}

	// The push lands in A's remote partition only.
	f.sched.fire()
	msgs, err := f.remote.GetChatHistory(ctx, "user-a")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("A's remote chat = %v, %v", msgs, err)
	}
	if _, err := f.remote.GetChatHistory(ctx, "user-b"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("B's remote chat err = %v, want not found", err)
	}
}

// unavailableClient fails every call as a transient remote outage.
type unavailableClient struct{}

func (unavailableClient) err() error {
	return sverrors.New(sverrors.SV_UNAVAILABLE, "remote store unreachable")
}

func (c unavailableClient) GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	return nil, c.err()
}

func (c unavailableClient) SaveUserProfile(ctx context.Context, userID string, profile model.UserProfile) error {
	return c.err()
}

func (c unavailableClient) GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error) {
	return nil, c.err()
}

func (c unavailableClient) SaveWardrobeItem(ctx context.Context, userID string, item model.WardrobeItem) error {
	return c.err()
}

func (c unavailableClient) DeleteWardrobeItem(ctx context.Context, userID, itemID string) error {
	return c.err()
}

func (c unavailableClient) SyncWardrobeItems(ctx context.Context, userID string, items []model.WardrobeItem) error {
	return c.err()
}

func (c unavailableClient) GetChatHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	return nil, c.err()
}

func (c unavailableClient) SaveChatHistory(ctx context.Context, userID string, msgs []model.ChatMessage) error {
	return c.err()
}

func (c unavailableClient) SaveGalleryItem(ctx context.Context, userID string, item model.GalleryItem) (*model.GalleryItem, error) {
	return nil, c.err()
}

func (c unavailableClient) ListGallery(ctx context.Context, userID string) ([]model.GalleryItem, error) {
	return nil, c.err()
}

func (c unavailableClient) DeleteGalleryItem(ctx context.Context, userID, galleryID string) error {
	return c.err()
}

func (c unavailableClient) CheckUsageLimit(ctx context.Context, userID string, limit model.LimitType) (model.UsageStatus, error) {
	return model.UsageStatus{}, c.err()
}

func (c unavailableClient) IncrementUsage(ctx context.Context, userID string, limit model.LimitType) error {
	return c.err()
}
