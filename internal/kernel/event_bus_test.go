package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"memoria/pkg/memoria"
)

// TestEventBusPublishDeliversMatchingSubscriptions verifies filtered publish delivery.
func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	voices := make(chan *memoria.Event, 1)
	texts := make(chan *memoria.Event, 1)
	subscribe(t, bus, memoria.SubscriptionSpec{
		Name:   "voice",
		Filter: memoria.InterestSet{MediaTypes: []memoria.MediaType{memoria.MediaTypeVoice}},
	}, voices)
	subscribe(t, bus, memoria.SubscriptionSpec{
		Name:   "text",
		Filter: memoria.InterestSet{PlainText: true},
	}, texts)

	if err := bus.Publish(context.Background(), newTestEvent("e1", "hallo")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-texts:
		if event.ID != "e1" {
			t.Fatalf("event id = %s, want e1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for text event")
	}
	select {
	case event := <-voices:
		t.Fatalf("voice subscription received %s", event.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestEventBusBackpressurePolicies verifies queue behavior under each drop policy.
func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     memoria.BackpressurePolicy
		wantEvents []string
		wantDrops  int
	}{
		{name: "drop newest keeps queued event", policy: memoria.BackpressureDropNewest, wantEvents: []string{"e1", "e2"}, wantDrops: 1},
		{name: "drop oldest keeps latest event", policy: memoria.BackpressureDropOldest, wantEvents: []string{"e1", "e3"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var dropMu sync.Mutex
			drops := 0
			bus := NewEventBus(1, 1, time.Second, func(_ context.Context, _ string, err error) {
				if errors.Is(err, memoria.ErrEventDropped) {
					dropMu.Lock()
					drops++
					dropMu.Unlock()
				}
			})
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			var first sync.Once
			var mu sync.Mutex
			var processed []string

			_, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{
				Name:         "policy",
				Buffer:       1,
				Workers:      1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *memoria.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			mustPublish(t, bus, newTestEvent("e1", "one"))
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			mustPublish(t, bus, newTestEvent("e2", "two"))
			mustPublish(t, bus, newTestEvent("e3", "three"))
			close(release)

			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})
			mu.Lock()
			got := append([]string(nil), processed...)
			mu.Unlock()
			if got[0] != testCase.wantEvents[0] || got[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", got, testCase.wantEvents)
			}
			dropMu.Lock()
			defer dropMu.Unlock()
			if drops != testCase.wantDrops {
				t.Fatalf("drops = %d, want %d", drops, testCase.wantDrops)
			}
		})
	}
}

// TestEventBusRecoversHandlerPanic verifies panics reach the async error sink.
func TestEventBusRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := NewEventBus(4, 1, time.Second, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{Name: "panicky"},
		func(context.Context, *memoria.Event) error {
			panic("boom")
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	mustPublish(t, bus, newTestEvent("e1", "x"))

	select {
	case err := <-reported:
		if err == nil {
			t.Fatal("expected reported error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for panic report")
	}
}

// TestEventBusNegativeTimeoutDisablesDeadline verifies handlers can opt out of the default timeout.
func TestEventBusNegativeTimeoutDisablesDeadline(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(4, 1, time.Millisecond, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	deadlines := make(chan bool, 1)
	_, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{Name: "unbounded", HandlerTimeout: -1},
		func(ctx context.Context, _ *memoria.Event) error {
			_, hasDeadline := ctx.Deadline()
			deadlines <- hasDeadline
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	mustPublish(t, bus, newTestEvent("e1", "x"))

	select {
	case hasDeadline := <-deadlines:
		if hasDeadline {
			t.Fatal("expected handler context without deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

// TestEventBusCloseRejectsNewPublish verifies publish and subscribe rejection after closure.
func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("e1", "x")); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{}, func(context.Context, *memoria.Event) error {
		return nil
	}); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
}

// TestEventBusRejectsInvalidSubscriptions verifies subscription validation.
func TestEventBusRejectsInvalidSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if _, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{}, nil); !errors.Is(err, memoria.ErrInvalidSubscription) {
		t.Fatalf("nil handler error = %v, want ErrInvalidSubscription", err)
	}
	_, err := bus.Subscribe(context.Background(), memoria.SubscriptionSpec{Backpressure: "explode"},
		func(context.Context, *memoria.Event) error { return nil })
	if !errors.Is(err, memoria.ErrInvalidSubscription) {
		t.Fatalf("bad policy error = %v, want ErrInvalidSubscription", err)
	}
	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
}

func subscribe(t *testing.T, bus *EventBus, spec memoria.SubscriptionSpec, sink chan<- *memoria.Event) {
	t.Helper()

	_, err := bus.Subscribe(context.Background(), spec, func(_ context.Context, event *memoria.Event) error {
		sink <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s failed: %v", spec.Name, err)
	}
}

func mustPublish(t *testing.T, bus *EventBus, event *memoria.Event) {
	t.Helper()

	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish %s failed: %v", event.ID, err)
	}
}

func newTestEvent(id string, text string) *memoria.Event {
	return &memoria.Event{
		ID:         id,
		Kind:       memoria.EventKindMessageCreated,
		OccurredAt: time.Now().UTC(),
		Platform:   memoria.PlatformTelegram,
		Conversation: memoria.Conversation{
			ID:   "chat-1",
			Type: memoria.ConversationTypePrivate,
		},
		Actor:   memoria.Actor{ID: "user-1"},
		Message: &memoria.Message{ID: "msg-1", Text: text},
	}
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
