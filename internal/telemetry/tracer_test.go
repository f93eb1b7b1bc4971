// internal/telemetry/tracer_test.go
package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitAndShutdown(t *testing.T) {
	shutdown, err := Init("stylevault-test", "", "")
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown tracer: %v", err)
	}
}
