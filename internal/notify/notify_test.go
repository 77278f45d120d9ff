package notify

import (
	"testing"
)

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(4)
	first, cancelFirst := hub.Subscribe()
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.Notify(Error("Error", "boom", "job-1"))

	for i, ch := range []<-chan Notification{first, second} {
		select {
		case n := <-ch:
			if n.Description != "boom" || n.Level != LevelError || n.JobID != "job-1" {
				t.Fatalf("subscriber %d got %+v", i, n)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Notify(Success("a", "first", ""))
	hub.Notify(Success("b", "second", ""))

	n := <-ch
	if n.Description != "first" {
		t.Fatalf("expected first notification, got %+v", n)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected dropped notification, got %+v", extra)
	default:
	}
}

func TestHubCancelClosesChannelOnce(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	hub.Notify(Warning("w", "after cancel", ""))
}

func TestMultiStampsTime(t *testing.T) {
	var got Notification
	Multi{nil, Func(func(n Notification) { got = n })}.Notify(Notification{Title: "t"})
	if got.At.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}
