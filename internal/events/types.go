package events

// Event type constants for kelindar/event.
const (
	TypeFramePublished uint32 = iota + 1
	TypeSchedulerStopped
	TypeViewerAttached
	TypeViewerDetached
	TypeModeChanged
	TypeShootFired
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FramePublishedEvent is emitted for every frame handed to the camera channel.
type FramePublishedEvent struct {
	Seq  uint64 `json:"seq"`
	Path string `json:"path"`
}

// Type returns the event type identifier for FramePublishedEvent.
func (e FramePublishedEvent) Type() uint32 { return TypeFramePublished }

// SchedulerStoppedEvent is emitted when a rate scheduler stops, either
// because its source was exhausted or because it was cancelled.
type SchedulerStoppedEvent struct {
	Channel string `json:"channel"`
	Frames  uint64 `json:"frames"`
	Reason  string `json:"reason"`
}

// Type returns the event type identifier for SchedulerStoppedEvent.
func (e SchedulerStoppedEvent) Type() uint32 { return TypeSchedulerStopped }

// ViewerAttachedEvent is emitted when a viewer session attaches to a channel.
type ViewerAttachedEvent struct {
	Channel    string `json:"channel"`
	RemoteAddr string `json:"remote_addr"`
}

// Type returns the event type identifier for ViewerAttachedEvent.
func (e ViewerAttachedEvent) Type() uint32 { return TypeViewerAttached }

// ViewerDetachedEvent is emitted when a viewer session detaches, whether by
// client disconnect or transport failure.
type ViewerDetachedEvent struct {
	Channel    string `json:"channel"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"`
}

// Type returns the event type identifier for ViewerDetachedEvent.
func (e ViewerDetachedEvent) Type() uint32 { return TypeViewerDetached }

// ModeChangedEvent is emitted when the camera operating mode changes via the
// control API or a config reload.
type ModeChangedEvent struct {
	Mode   string `json:"mode"`
	Source string `json:"source"`
}

// Type returns the event type identifier for ModeChangedEvent.
func (e ModeChangedEvent) Type() uint32 { return TypeModeChanged }

// ShootFiredEvent is emitted when a shutter action is published.
type ShootFiredEvent struct {
	ShotType string `json:"shot_type"`
}

// Type returns the event type identifier for ShootFiredEvent.
func (e ShootFiredEvent) Type() uint32 { return TypeShootFired }
