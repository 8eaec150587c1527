package observability

import "testing"

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(4)

	bus.Publish(Event{Kind: "request.completed", Fields: map[string]any{"model_id": "gpt-4"}})

	select {
	case ev := <-ch:
		if ev.Kind != "request.completed" {
			t.Errorf("unexpected kind: %v", ev.Kind)
		}
		if ev.Fields["model_id"] != "gpt-4" {
			t.Errorf("unexpected fields: %+v", ev.Fields)
		}
		if ev.At.IsZero() {
			t.Error("expected At to be stamped")
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestBus_FansOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Publish(Event{Kind: "cache.hit"})

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected both subscribers to receive the event, got a=%d b=%d", len(a), len(b))
	}
}

func TestBus_DropsOldestWhenSubscriberBufferIsFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)

	bus.Publish(Event{Kind: "first"})
	bus.Publish(Event{Kind: "second"})

	ev := <-ch
	if ev.Kind != "second" {
		t.Errorf("expected the newest event to survive, got %v", ev.Kind)
	}
	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %d", bus.Dropped())
	}
}

func TestBus_SubscribeWithNonPositiveBufferStillWorks(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(0)

	bus.Publish(Event{Kind: "x"})

	select {
	case <-ch:
	default:
		t.Fatal("expected a usable channel even with buf=0")
	}
}
