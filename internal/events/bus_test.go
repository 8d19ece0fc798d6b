package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitReachesEverySubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	done := make(chan struct{}, 2)
	for _, name := range []string{"store", "feed"} {
		bus.Subscribe(EventPlayerJoined, name, func(ctx context.Context, e Event) error {
			if e.Payload.(PlayerJoinedPayload).Name != "alice" {
				t.Errorf("got payload %+v", e.Payload)
			}
			calls.Add(1)
			done <- struct{}{}
			return nil
		})
	}

	bus.Emit(context.Background(), Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{Name: "alice"}})
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler not called")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("got %d calls want 2", got)
	}
}

func TestEmitSyncRecoversAndReportsError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventPlayerKilled, "panics", func(context.Context, Event) error { panic("bad handler") })
	bus.Subscribe(EventPlayerKilled, "fails", func(context.Context, Event) error { return boom })

	err := bus.EmitSync(context.Background(), Event{Type: EventPlayerKilled})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v want %v", err, boom)
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	bus.SubscribeMany([]EventType{EventHeartbeat, EventCycleOverrun}, "mqtt", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventHeartbeat, "lag", func(context.Context, Event) error { return nil })

	bus.Unsubscribe(EventHeartbeat, "mqtt")
	if got := bus.HandlerCount(EventHeartbeat); got != 1 {
		t.Fatalf("got %d handlers want 1", got)
	}
	if got := bus.HandlerCount(EventCycleOverrun); got != 1 {
		t.Fatalf("got %d handlers want 1", got)
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel still open")
	}
	if err := bus.EmitSync(context.Background(), Event{Type: EventHeartbeat}); err != nil {
		t.Fatalf("emit after stop: %v", err)
	}
}
