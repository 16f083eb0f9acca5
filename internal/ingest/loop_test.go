package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skywalker-88/anomstream/internal/alertpub"
	"github.com/skywalker-88/anomstream/internal/bus"
	"github.com/skywalker-88/anomstream/internal/confirm"
	"github.com/skywalker-88/anomstream/internal/detect"
	"github.com/skywalker-88/anomstream/internal/rules"
	"github.com/skywalker-88/anomstream/internal/window"
)

func newLoop(t *testing.T, interval int64) (*Loop, *bus.MemoryBus, *window.Store) {
	t.Helper()
	b := bus.NewMemoryBus(256)
	store := window.NewStore(60)
	tracker := confirm.New()
	ruleSet := rules.Default(500.0, 0.05, 0.5, 60)
	detector := detect.New(store, tracker, ruleSet, 2)
	publisher := alertpub.New(b, "alerts.fired", 300*time.Second)
	loop := New(b, store, detector, publisher, Config{PollTimeout: 20 * time.Millisecond, DetectionIntervalMessages: interval})
	return loop, b, store
}

func encode(t *testing.T, service string, latency float64, isError bool) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"service":    service,
		"latency_ms": latency,
		"error":      isError,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestLoop_RecordsEveryPolledMessage(t *testing.T) {
	loop, b, store := newLoop(t, 5)

	for i := 0; i < 5; i++ {
		b.Enqueue(bus.Message{Value: encode(t, "api-service", 1000, false)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Processed() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()
	cancel()
	<-done

	w := store.GetWindow("api-service")
	if w == nil || w.Len() != 5 {
		t.Fatalf("expected 5 recorded samples, got window=%+v", w)
	}
}

func TestLoop_MalformedMessageSkippedAndCommitted(t *testing.T) {
	loop, b, _ := newLoop(t, 10)
	b.Enqueue(bus.Message{Value: []byte("not json")})
	b.Enqueue(bus.Message{Value: encode(t, "api-service", 100, false)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Processed() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()
	cancel()
	<-done

	if loop.Processed() != 1 {
		t.Fatalf("expected 1 successfully-processed message (malformed one skipped), got %d", loop.Processed())
	}
}

func TestLoop_MissingFieldsDefaulted(t *testing.T) {
	loop, b, store := newLoop(t, 10)
	b.Enqueue(bus.Message{Value: []byte(`{}`)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Processed() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()
	cancel()
	<-done

	w := store.GetWindow("unknown")
	if w == nil || w.Len() != 1 {
		t.Fatalf("expected sample recorded against default service 'unknown', got %+v", w)
	}
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	loop, _, _ := newLoop(t, 10)
	loop.Stop()
	loop.Stop() // must not panic
}
