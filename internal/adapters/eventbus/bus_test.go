package eventbus

import (
	"testing"
	"time"

	"github.com/homer-dev/homer/internal/models"
)

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(models.Event{Type: models.EventAgentSpawned})

	select {
	case evt := <-sub.Ch():
		if evt.Type != models.EventAgentSpawned {
			t.Fatalf("got %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(models.Event{Type: models.EventState})

	for _, sub := range []interface{ Ch() <-chan models.Event }{sub1, sub2} {
		select {
		case <-sub.Ch():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestBusDisconnectsSlowSubscriberInsteadOfDropping(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < bufferSize+10; i++ {
		b.Publish(models.Event{Type: models.EventAgentOutput})
	}

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected slow subscriber to be disconnected, got %d subscribers", b.SubscriberCount())
	}

	if _, ok := <-sub.Ch(); ok {
		drained := 1
		for range sub.Ch() {
			drained++
		}
		_ = drained
	}
}

func TestBusCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Close()
	sub.Close()

	if b.SubscriberCount() != 0 {
		t.Fatal("expected no subscribers after close")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Close()

	b.Publish(models.Event{Type: models.EventAgentDone})

	if b.SubscriberCount() != 0 {
		t.Fatal("expected subscriber count to remain 0")
	}
}
