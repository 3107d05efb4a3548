// Package viewer implements the consuming side of the camera: it attaches
// to the broadcast websocket routes, fetches the frames the camera
// announces, and drives a Display with the decoded images, the measured
// frame rate, and shutter notices.
package viewer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gorilla/websocket"

	"github.com/virtcam/virtcamd/internal/logging"
	"github.com/virtcam/virtcamd/internal/messages"
)

// noticeDuration is how long a shutter notice stays on the display before
// reverting to idle. A second shutter event restarts the countdown.
const noticeDuration = 500 * time.Millisecond

var channelRoutes = []string{"/ws/camera", "/ws/shoot", "/ws/mode"}

// Options configures a Consumer.
type Options struct {
	// ServerURL is the camera server base URL, e.g. http://localhost:8889.
	ServerURL string

	Display Display

	Logger *slog.Logger
}

// Consumer attaches to the camera server and renders its frames. A single
// event loop owns all state; fetches run concurrently but report back
// through the loop, so a frame announced while a fetch is in flight is
// skipped rather than queued.
type Consumer struct {
	base    *url.URL
	display Display
	client  *http.Client
	logger  *slog.Logger

	inbound chan messages.Message
	fetched chan fetchResult
	readErr chan error

	// Loop timing, shortened in tests.
	fpsInterval  time.Duration
	noticePeriod time.Duration

	skipped   atomic.Uint64
	delivered atomic.Uint64
}

type fetchResult struct {
	img image.Image
	seq uint64
	err error
}

// New creates a Consumer for the given server.
func New(opts Options) (*Consumer, error) {
	base, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", opts.ServerURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", opts.ServerURL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("viewer")
	}

	return &Consumer{
		base:         base,
		display:      opts.Display,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		inbound:      make(chan messages.Message, 16),
		fetched:      make(chan fetchResult, 1),
		readErr:      make(chan error, len(channelRoutes)),
		fpsInterval:  time.Second,
		noticePeriod: noticeDuration,
	}, nil
}

// Skipped reports how many frame announcements arrived while a fetch was
// already in flight.
func (c *Consumer) Skipped() uint64 {
	return c.skipped.Load()
}

// Delivered reports how many frames were fetched, decoded and displayed.
func (c *Consumer) Delivered() uint64 {
	return c.delivered.Load()
}

// Run attaches to every channel route and loops until the context is
// cancelled or a connection fails.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, route := range channelRoutes {
		conn, err := c.dial(ctx, route)
		if err != nil {
			return fmt.Errorf("attach %s: %w", route, err)
		}
		defer conn.Close()
		go c.read(ctx, route, conn)
	}

	c.logger.Info("Viewer attached", "server", c.base.String())
	return c.loop(ctx)
}

func (c *Consumer) dial(ctx context.Context, route string) (*websocket.Conn, error) {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = route

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	return conn, err
}

// read decodes inbound messages off one connection and hands them to the
// event loop. A transport error ends the whole viewer.
func (c *Consumer) read(ctx context.Context, route string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case c.readErr <- fmt.Errorf("read %s: %w", route, err):
			case <-ctx.Done():
			}
			return
		}

		msg, err := messages.Decode(data)
		if err != nil {
			c.logger.Warn("Discarding undecodable message", "route", route, "error", err)
			continue
		}

		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// loop is the single owner of viewer state. busy is only read and written
// here, which is what makes skip-if-busy race free.
func (c *Consumer) loop(ctx context.Context) error {
	fpsTicker := time.NewTicker(c.fpsInterval)
	defer fpsTicker.Stop()

	revert := time.NewTimer(c.noticePeriod)
	if !revert.Stop() {
		<-revert.C
	}
	defer revert.Stop()

	busy := false
	frames := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-c.readErr:
			return err

		case msg := <-c.inbound:
			switch m := msg.(type) {
			case messages.ImagePath:
				if busy {
					c.skipped.Add(1)
					continue
				}
				busy = true
				go c.fetch(ctx, m)
			case messages.Shoot:
				c.display.ShowNotice("shoot " + string(m.Type))
				if !revert.Stop() {
					select {
					case <-revert.C:
					default:
					}
				}
				revert.Reset(c.noticePeriod)
			case messages.Mode:
				c.display.SetMode(string(m.Type))
			}

		case res := <-c.fetched:
			busy = false
			if res.err != nil {
				c.logger.Warn("Frame fetch failed", "seq", res.seq, "error", res.err)
				continue
			}
			frames++
			c.delivered.Add(1)
			c.display.ShowFrame(res.img, res.seq)

		case <-fpsTicker.C:
			c.display.ShowFPS(frames)
			frames = 0

		case <-revert.C:
			c.display.ClearNotice()
		}
	}
}

func (c *Consumer) fetch(ctx context.Context, m messages.ImagePath) {
	img, err := c.fetchImage(ctx, m.Path)
	select {
	case c.fetched <- fetchResult{img: img, seq: m.Seq, err: err}:
	case <-ctx.Done():
	}
}

func (c *Consumer) fetchImage(ctx context.Context, path string) (image.Image, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid frame path %q: %w", path, err)
	}
	target := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	return img, nil
}
