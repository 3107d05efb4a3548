// Package metrics exposes Prometheus metrics for the daemon: frame and
// event throughput from the in-process event bus, plus per-channel
// delivery counters from the broadcast registry.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/events"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Counters fed by the event bus
	FramesPublished atomic.Uint64
	SchedulerStops  atomic.Uint64
	ViewersTotal    atomic.Uint64
	ActiveViewers   atomic.Int64
	ModeChanges     atomic.Uint64
	ShotsFired      atomic.Uint64

	registry *prometheus.Registry
	unsubs   []func()
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

// register wires the atomic counters into Prometheus collectors.
func (m *Metrics) register() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_frames_published_total",
			Help: "Total frames handed to the camera channel",
		},
		func() float64 { return float64(m.FramesPublished.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_scheduler_stops_total",
			Help: "Times a rate scheduler stopped",
		},
		func() float64 { return float64(m.SchedulerStops.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_viewers_total",
			Help: "Total viewer sessions ever attached",
		},
		func() float64 { return float64(m.ViewersTotal.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_viewers_active",
			Help: "Currently attached viewer sessions",
		},
		func() float64 { return float64(m.ActiveViewers.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_mode_changes_total",
			Help: "Camera mode changes published",
		},
		func() float64 { return float64(m.ModeChanges.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "virtcam_shots_fired_total",
			Help: "Shutter events published",
		},
		func() float64 { return float64(m.ShotsFired.Load()) },
	))
}

// Observe subscribes the metrics to the event bus. Call Close to detach.
func (m *Metrics) Observe(bus *events.Bus) {
	m.unsubs = append(m.unsubs,
		bus.Subscribe(func(events.FramePublishedEvent) {
			m.FramesPublished.Add(1)
		}),
		bus.Subscribe(func(events.SchedulerStoppedEvent) {
			m.SchedulerStops.Add(1)
		}),
		bus.Subscribe(func(events.ViewerAttachedEvent) {
			m.ViewersTotal.Add(1)
			m.ActiveViewers.Add(1)
		}),
		bus.Subscribe(func(events.ViewerDetachedEvent) {
			m.ActiveViewers.Add(-1)
		}),
		bus.Subscribe(func(events.ModeChangedEvent) {
			m.ModeChanges.Add(1)
		}),
		bus.Subscribe(func(events.ShootFiredEvent) {
			m.ShotsFired.Add(1)
		}),
	)
}

// RegisterChannel exposes a broadcast channel's delivery counters.
func (m *Metrics) RegisterChannel(ch *broadcast.Channel) {
	labels := prometheus.Labels{"channel": ch.Name()}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "virtcam_channel_published_total",
			Help:        "Messages accepted by this channel",
			ConstLabels: labels,
		},
		func() float64 { return float64(ch.Stats().Published) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "virtcam_channel_coalesced_total",
			Help:        "Frame messages overwritten before delivery",
			ConstLabels: labels,
		},
		func() float64 { return float64(ch.Stats().Coalesced) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "virtcam_channel_subscribers",
			Help:        "Currently attached subscribers",
			ConstLabels: labels,
		},
		func() float64 { return float64(ch.Subscribers()) },
	))
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close detaches the metrics from the event bus.
func (m *Metrics) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}
