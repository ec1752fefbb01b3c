package secondary

import (
	"time"

	"github.com/homer-dev/homer/internal/models"
)

// Subscription is a live subscription to the event bus.
type Subscription interface {
	Ch() <-chan models.Event
	Close()
}

// EventBus is the secondary port for component H's publish side
// (spec.md §4.H, §5).
type EventBus interface {
	Publish(evt models.Event)
	Subscribe() Subscription
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time
