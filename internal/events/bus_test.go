package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventAlarm, 1)

	bus.Publish(EventAlarm, Alarm{Kind: AlarmCancelExhausted, Key: "k"})
	bus.Publish(EventAlarm, Alarm{Kind: "dropped"}) // buffer full

	select {
	case v := <-ch:
		if a := v.(Alarm); a.Key != "k" {
			t.Fatalf("unexpected alarm %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(EventAlarm, Alarm{})
}
