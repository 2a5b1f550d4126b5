package engine

import "testing"

func TestEventBusFiltersAndOrder(t *testing.T) {
	eb := NewEventBus()
	var got []string
	eb.Subscribe(func(e Event) { got = append(got, "all:"+e.Type.String()) })
	eb.SubscribeTypes(func(e Event) { got = append(got, "sensor:"+e.Type.String()) }, EventSensorEvent)

	eb.Emit(Event{Type: EventPayloadTransition})
	eb.Emit(Event{Type: EventSensorEvent})

	want := []string{"all:payload-transition", "all:sensor-event", "sensor:sensor-event"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	n := 0
	id := eb.Subscribe(func(Event) { n++ })
	eb.Emit(Event{Type: EventSensorSampled})
	eb.Unsubscribe(id)
	eb.Emit(Event{Type: EventSensorSampled})
	if n != 1 {
		t.Errorf("subscriber called %d times, want 1", n)
	}
}

func TestEventBusSurvivesPanickingSubscriber(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(func(Event) { panic("boom") })
	called := false
	eb.Subscribe(func(Event) { called = true })

	eb.Emit(Event{Type: EventAgentConnected})
	if !called {
		t.Error("second subscriber not called after first panicked")
	}
}
