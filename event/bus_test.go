package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tether/event"
)

func TestBus_PublishWakesSubscriber(t *testing.T) {
	hub := event.NewHub()
	bus := event.NewBus(hub)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "children")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, "children"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	woke, err := bus.Wait(ctx, sub, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !woke {
		t.Fatal("expected wake-up, got timeout")
	}
}

func TestBus_WaitTimeout(t *testing.T) {
	hub := event.NewHub()
	bus := event.NewBus(hub)
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "idle")
	defer sub.Close()

	// A publish on another queue must not wake us.
	_ = bus.Publish(ctx, "other")

	woke, err := bus.Wait(ctx, sub, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if woke {
		t.Error("expected timeout, got wake-up")
	}
}

func TestBus_WaitContextCancel(t *testing.T) {
	hub := event.NewHub()
	bus := event.NewBus(hub)

	sub, _ := bus.Subscribe(context.Background(), "q")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Wait(ctx, sub, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestSubscription_Coalesces(t *testing.T) {
	hub := event.NewHub()
	sub := hub.Add("q")
	defer sub.Close()

	for range 5 {
		hub.Broadcast("q")
	}

	<-sub.C()
	select {
	case <-sub.C():
		t.Fatal("expected wake-ups to coalesce into one")
	default:
	}
}

func TestHub_CloseRemovesSubscription(t *testing.T) {
	hub := event.NewHub()
	a := hub.Add("q")
	b := hub.Add("q")
	if hub.Len("q") != 2 {
		t.Fatalf("Len = %d, want 2", hub.Len("q"))
	}

	_ = a.Close()
	_ = a.Close()
	if hub.Len("q") != 1 {
		t.Errorf("Len after close = %d, want 1", hub.Len("q"))
	}
	_ = b.Close()
	if len(hub.Queues()) != 0 {
		t.Errorf("Queues() = %v, want none", hub.Queues())
	}
}

func TestEvent_EncodeDecode(t *testing.T) {
	e := event.New("parents")
	s, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := event.Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Queue != "parents" || !got.ID.Equal(e.ID) {
		t.Errorf("got %+v, want %+v", got, e)
	}
	if _, err := event.Decode("{"); err == nil {
		t.Error("expected decode error")
	}
}
