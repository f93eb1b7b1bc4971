// internal/remote/instrument_test.go
package remote

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/metrics"
	"github.com/stylevault/stylevault-go/internal/model"
)

// failingClient errors on every wardrobe read.
type failingClient struct {
	Client
}

func (f *failingClient) GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error) {
	return nil, sverrors.New(sverrors.SV_UNAVAILABLE, "store offline")
}

func TestInstrumentedCountsOperations(t *testing.T) {
	m := metrics.NewMetrics()
	rc := NewInstrumented(NewMemory(), m)
	ctx := context.Background()

	okBefore := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("save_profile", "ok"))
	if err := rc.SaveUserProfile(ctx, "user-1", model.UserProfile{"name": "Dana"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	okAfter := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("save_profile", "ok"))
	if okAfter != okBefore+1 {
		t.Fatalf("save_profile ok count = %v, want %v", okAfter, okBefore+1)
	}

	profile, err := rc.GetUserProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile["name"] != "Dana" {
		t.Fatalf("profile = %+v, decorated client altered the result", profile)
	}
}

func TestInstrumentedNotFoundCountsAsOk(t *testing.T) {
	m := metrics.NewMetrics()
	rc := NewInstrumented(NewMemory(), m)

	okBefore := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_chat", "ok"))
	errBefore := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_chat", "error"))

	if _, err := rc.GetChatHistory(context.Background(), "nobody"); err != ErrNotFound {
		t.Fatalf("get chat err = %v, want ErrNotFound", err)
	}

	if got := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_chat", "ok")); got != okBefore+1 {
		t.Fatalf("get_chat ok count = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_chat", "error")); got != errBefore {
		t.Fatalf("get_chat error count = %v, want %v", got, errBefore)
	}
}

func TestInstrumentedCountsErrors(t *testing.T) {
	m := metrics.NewMetrics()
	rc := NewInstrumented(&failingClient{Client: NewMemory()}, m)

	errBefore := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_wardrobe", "error"))
	if _, err := rc.GetWardrobe(context.Background(), "user-1"); err == nil {
		t.Fatal("expected wardrobe read to fail")
	}
	errAfter := testutil.ToFloat64(m.RemoteOperationTotal.WithLabelValues("get_wardrobe", "error"))
	if errAfter != errBefore+1 {
		t.Fatalf("get_wardrobe error count = %v, want %v", errAfter, errBefore+1)
	}
}
