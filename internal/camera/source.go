// Package camera produces the simulated frame stream: pluggable frame
// sources plus the rate scheduler that drives a source at a fixed target
// rate and publishes each frame reference to a broadcast channel.
package camera

import "errors"

var (
	// ErrEndOfSequence is returned by a finite source once it has produced
	// its last frame.
	ErrEndOfSequence = errors.New("camera: end of sequence")

	// ErrSourceUnavailable indicates the source cannot produce frames:
	// missing directory, no matching files, or a failed encode.
	ErrSourceUnavailable = errors.New("camera: source unavailable")
)

// Frame is one produced frame reference. Immutable once produced;
// sequence numbers are strictly increasing and gap-free per source.
type Frame struct {
	Seq  uint64
	Path string
}

// FrameSource produces an ordered sequence of frame references at no
// particular rate. Implementations are not safe for concurrent use; the
// scheduler is the sole caller.
type FrameSource interface {
	Next() (Frame, error)
}
