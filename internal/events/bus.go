package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(FramePublishedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case FramePublishedEvent:
		event.Publish(b.dispatcher, e)
	case SchedulerStoppedEvent:
		event.Publish(b.dispatcher, e)
	case ViewerAttachedEvent:
		event.Publish(b.dispatcher, e)
	case ViewerDetachedEvent:
		event.Publish(b.dispatcher, e)
	case ModeChangedEvent:
		event.Publish(b.dispatcher, e)
	case ShootFiredEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e FramePublishedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	// The kelindar/event library infers the event type from the handler
	// signature, so dispatch on the handler's concrete type
	switch h := handler.(type) {
	case func(FramePublishedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SchedulerStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ViewerAttachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ViewerDetachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ModeChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ShootFiredEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
