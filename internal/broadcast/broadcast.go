// Package broadcast implements named fan-out channels for camera traffic.
//
// A Channel accepts published messages and hands them to every currently
// attached subscription. Publishing never blocks on a slow or absent
// subscriber: frame references are coalesced per subscriber (a new frame
// overwrites a still-undelivered one), while control messages are queued
// and delivered exactly once for as long as the subscriber stays attached.
// A subscriber that falls too far behind on control messages is detached,
// the same way a failed transport would be.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/virtcam/virtcamd/internal/messages"
)

// controlBuffer bounds the per-subscriber control queue. A subscriber that
// cannot drain this many discrete events is treated as failed.
const controlBuffer = 64

var (
	// ErrRegistryClosed is returned when attaching to a closed registry's channel.
	ErrRegistryClosed = errors.New("broadcast: registry is closed")
)

// Stats counts per-channel delivery outcomes.
type Stats struct {
	Published uint64 // messages accepted by Publish
	Coalesced uint64 // frame messages overwritten before delivery
	Detached  uint64 // subscribers force-detached for falling behind
}

// Registry owns all broadcast channels for one server process. It is
// constructed at startup and passed to the scheduler and server; channels
// are created on first use and live until Close.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Channel returns the channel with the given name, creating it if needed.
// On a closed registry the returned channel accepts no attachments.
func (r *Registry) Channel(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		name:   name,
		subs:   make(map[*Subscription]struct{}),
		closed: r.closed,
	}
	r.channels[name] = ch
	return ch
}

// Close detaches every subscriber on every channel and rejects further
// attachments. Publish on a closed channel is a no-op.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.closed = true
	r.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}

// Channel is a named broadcast path. Attach/detach and publish may be
// called concurrently from any goroutine.
type Channel struct {
	name string

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published uint64
	coalesced uint64
	detached  uint64
}

// Name returns the channel's identifier.
func (c *Channel) Name() string { return c.name }

// Attach registers a new subscriber. The subscriber sees only messages
// published after this call; there is no replay.
func (c *Channel) Attach() (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrRegistryClosed
	}

	s := &Subscription{
		channel: c,
		frames:  make(chan messages.Message, 1),
		control: make(chan messages.Message, controlBuffer),
		done:    make(chan struct{}),
	}
	c.subs[s] = struct{}{}
	return s, nil
}

// Detach removes a subscriber and releases any buffered-but-undelivered
// message. Detaching an already-detached subscription is a no-op.
func (c *Channel) Detach(s *Subscription) {
	c.mu.Lock()
	_, attached := c.subs[s]
	delete(c.subs, s)
	c.mu.Unlock()

	if attached {
		s.closeOnce()
	}
}

// Publish delivers msg to every currently attached subscriber and returns
// without waiting for any of them to consume it.
func (c *Channel) Publish(msg messages.Message) {
	c.mu.RLock()

	if c.closed {
		c.mu.RUnlock()
		return
	}

	atomic.AddUint64(&c.published, 1)

	var stale []*Subscription
	for s := range c.subs {
		if msg.Kind() == messages.KindImagePath {
			if s.offerFrame(msg) {
				atomic.AddUint64(&c.coalesced, 1)
			}
		} else {
			if !s.offerControl(msg) {
				stale = append(stale, s)
			}
		}
	}
	c.mu.RUnlock()

	// Subscribers that cannot keep up with discrete events are dropped,
	// never allowed to stall the publisher
	for _, s := range stale {
		atomic.AddUint64(&c.detached, 1)
		c.Detach(s)
	}
}

// Subscribers returns the number of currently attached subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Stats returns a snapshot of the channel's delivery counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&c.published),
		Coalesced: atomic.LoadUint64(&c.coalesced),
		Detached:  atomic.LoadUint64(&c.detached),
	}
}

func (c *Channel) close() {
	c.mu.Lock()
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[*Subscription]struct{})
	c.mu.Unlock()

	for _, s := range subs {
		s.closeOnce()
	}
}

// Subscription is one subscriber's cursor into a channel. Frame messages
// occupy a single-slot buffer with most-recent-wins semantics; control
// messages queue in order.
type Subscription struct {
	channel *Channel

	frames  chan messages.Message
	control chan messages.Message

	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

// Done is closed when the subscription is detached.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next blocks until a message is available or the context or subscription
// ends. Control messages are preferred over a pending frame so discrete
// events are never starved by a fast frame stream. The second return is
// false when the subscription is finished.
func (s *Subscription) Next(ctx context.Context) (messages.Message, bool) {
	// Drain queued control messages first
	select {
	case msg := <-s.control:
		return msg, true
	default:
	}

	select {
	case msg := <-s.control:
		return msg, true
	case msg := <-s.frames:
		return msg, true
	case <-s.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// offerFrame places msg in the frame slot, overwriting a still-undelivered
// frame. Reports whether an older frame was coalesced away.
func (s *Subscription) offerFrame(msg messages.Message) bool {
	select {
	case s.frames <- msg:
		return false
	default:
	}

	// Slot occupied: evict the stale frame and install ours. The consumer
	// may race the eviction and win; either way the slot holds at most
	// one recent frame afterwards.
	coalesced := false
	select {
	case <-s.frames:
		coalesced = true
	default:
	}
	select {
	case s.frames <- msg:
	default:
	}
	return coalesced
}

// offerControl enqueues a discrete event. Reports false when the queue is
// full, meaning the subscriber must be detached.
func (s *Subscription) offerControl(msg messages.Message) bool {
	select {
	case s.control <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeOnce() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)

	// Release the buffered frame, if any
	select {
	case <-s.frames:
	default:
	}
}
