package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/messages"
)

// imageRoute is where the HTTP server exposes the source directory.
// Published frame references are resolvable by any attached viewer.
const imageRoute = "/images/"

// Scheduler drives a FrameSource at a fixed target rate and publishes
// every pulled frame to a broadcast channel. Ticks are anchored to a
// fixed origin, not to the end of the previous pull, so processing jitter
// does not accumulate into rate drift. When a pull overruns its period
// the frame is published late and ticking resumes at the next future slot
// of the original schedule; missed slots are never made up with a burst.
type Scheduler struct {
	source  FrameSource
	channel *broadcast.Channel
	period  time.Duration
	bus     *events.Bus
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for the given source and channel.
// Rate is frames per second and must be positive.
func NewScheduler(source FrameSource, channel *broadcast.Channel, rate int, bus *events.Bus, logger *slog.Logger) (*Scheduler, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("camera: target rate must be a positive integer, got %d", rate)
	}
	return &Scheduler{
		source:  source,
		channel: channel,
		period:  time.Second / time.Duration(rate),
		bus:     bus,
		logger:  logger,
	}, nil
}

// Run pulls and publishes frames until the source is exhausted or the
// context is cancelled. Source exhaustion is a normal stop and returns
// nil; any other source failure stops the scheduler and is returned.
// Subscribers stay attached either way.
func (s *Scheduler) Run(ctx context.Context) error {
	origin := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	var tick int64
	var published uint64

	for {
		tick++
		target := origin.Add(time.Duration(tick) * s.period)
		timer.Reset(time.Until(target))

		select {
		case <-ctx.Done():
			s.stopped(published, "cancelled")
			return ctx.Err()
		case <-timer.C:
		}

		frame, err := s.source.Next()
		if errors.Is(err, ErrEndOfSequence) {
			s.logger.Info("Frame source exhausted", "channel", s.channel.Name(), "frames", published)
			s.stopped(published, "exhausted")
			return nil
		}
		if err != nil {
			s.logger.Error("Frame source failed", "channel", s.channel.Name(), "error", err)
			s.stopped(published, "source_error")
			return err
		}

		ref := imageRoute + filepath.Base(frame.Path)
		s.channel.Publish(messages.ImagePath{Seq: frame.Seq, Path: ref})
		s.bus.Publish(events.FramePublishedEvent{Seq: frame.Seq, Path: ref})
		published++
		s.logger.Debug("Published frame", "seq", frame.Seq, "path", frame.Path)

		// A pull longer than one period leaves us behind schedule. Skip
		// the missed slots and resume at the first future one; throughput
		// briefly falls below the target instead of bursting to catch up.
		if behind := int64(time.Since(origin) / s.period); behind > tick {
			tick = behind
		}
	}
}

func (s *Scheduler) stopped(frames uint64, reason string) {
	s.bus.Publish(events.SchedulerStoppedEvent{
		Channel: s.channel.Name(),
		Frames:  frames,
		Reason:  reason,
	})
}
