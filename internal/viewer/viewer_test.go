package viewer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/virtcam/virtcamd/internal/messages"
)

type fakeDisplay struct {
	frames  chan uint64
	fps     chan int
	notices chan string
	cleared chan time.Time
	modes   chan string
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		frames:  make(chan uint64, 64),
		fps:     make(chan int, 64),
		notices: make(chan string, 64),
		cleared: make(chan time.Time, 64),
		modes:   make(chan string, 64),
	}
}

func (d *fakeDisplay) ShowFrame(_ image.Image, seq uint64) { d.frames <- seq }
func (d *fakeDisplay) ShowFPS(fps int)                     { d.fps <- fps }
func (d *fakeDisplay) ShowNotice(text string)              { d.notices <- text }
func (d *fakeDisplay) ClearNotice()                        { d.cleared <- time.Now() }
func (d *fakeDisplay) SetMode(mode string)                 { d.modes <- mode }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

// newTestConsumer returns a consumer whose loop runs against a frame file
// server, without any websocket attachment.
func newTestConsumer(t *testing.T, display Display) (*Consumer, context.CancelFunc) {
	t.Helper()

	data := pngBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/frames/ok.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/frames/slow.png", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/frames/bad.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	consumer, err := New(Options{
		ServerURL: srv.URL,
		Display:   display,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return consumer, cancel
}

func waitFrame(t *testing.T, display *fakeDisplay) uint64 {
	t.Helper()
	select {
	case seq := <-display.frames:
		return seq
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a frame")
		return 0
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"://nope", "ftp://host"} {
		if _, err := New(Options{ServerURL: raw}); err == nil {
			t.Errorf("New(%q) should fail", raw)
		}
	}
}

func TestFrameAnnouncedWhileBusyIsSkipped(t *testing.T) {
	display := newFakeDisplay()
	consumer, _ := newTestConsumer(t, display)

	consumer.inbound <- messages.ImagePath{Seq: 1, Path: "/frames/slow.png"}
	consumer.inbound <- messages.ImagePath{Seq: 2, Path: "/frames/ok.png"}

	if seq := waitFrame(t, display); seq != 1 {
		t.Errorf("First frame seq = %d, want 1", seq)
	}
	if got := consumer.Skipped(); got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
	if got := consumer.Delivered(); got != 1 {
		t.Errorf("Delivered = %d, want 1", got)
	}

	// Once the fetch completes the next announcement goes through
	consumer.inbound <- messages.ImagePath{Seq: 3, Path: "/frames/ok.png"}
	if seq := waitFrame(t, display); seq != 3 {
		t.Errorf("Next frame seq = %d, want 3", seq)
	}
}

func TestDecodeFailureClearsBusy(t *testing.T) {
	display := newFakeDisplay()
	consumer, _ := newTestConsumer(t, display)

	consumer.inbound <- messages.ImagePath{Seq: 1, Path: "/frames/bad.png"}

	// Keep announcing until one gets through; the failed fetch must not
	// leave the viewer stuck busy.
	deadline := time.Now().Add(2 * time.Second)
	seq := uint64(2)
	for time.Now().Before(deadline) {
		consumer.inbound <- messages.ImagePath{Seq: seq, Path: "/frames/ok.png"}
		seq++
		select {
		case <-display.frames:
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("Viewer stayed busy after a decode failure")
}

func TestFPSReportsPreviousSecond(t *testing.T) {
	display := newFakeDisplay()

	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	consumer, err := New(Options{
		ServerURL: srv.URL,
		Display:   display,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	consumer.fpsInterval = 300 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.loop(ctx) }()

	// Three frames inside the first window, delivered one at a time so
	// none is skipped.
	for seq := uint64(1); seq <= 3; seq++ {
		consumer.inbound <- messages.ImagePath{Seq: seq, Path: "/f.png"}
		waitFrame(t, display)
	}

	select {
	case fps := <-display.fps:
		if fps != 3 {
			t.Errorf("First window fps = %d, want 3", fps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the fps update")
	}

	// No frames in the second window
	select {
	case fps := <-display.fps:
		if fps != 0 {
			t.Errorf("Second window fps = %d, want 0", fps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the second fps update")
	}
}

func TestShootNoticeRevertsAfterTimeout(t *testing.T) {
	display := newFakeDisplay()
	consumer, _ := newTestConsumer(t, display)

	start := time.Now()
	consumer.inbound <- messages.Shoot{Type: messages.ShotSingle}

	select {
	case text := <-display.notices:
		if text != "shoot single" {
			t.Errorf("Notice = %q, want %q", text, "shoot single")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the notice")
	}

	select {
	case at := <-display.cleared:
		if elapsed := at.Sub(start); elapsed < noticeDuration {
			t.Errorf("Notice cleared after %v, want at least %v", elapsed, noticeDuration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notice never cleared")
	}
}

func TestSecondShootRestartsNoticeTimer(t *testing.T) {
	display := newFakeDisplay()
	consumer, _ := newTestConsumer(t, display)

	consumer.inbound <- messages.Shoot{Type: messages.ShotSingle}
	<-display.notices

	time.Sleep(noticeDuration / 2)
	second := time.Now()
	consumer.inbound <- messages.Shoot{Type: messages.ShotBurst}
	if text := <-display.notices; text != "shoot burst" {
		t.Errorf("Notice = %q, want %q", text, "shoot burst")
	}

	select {
	case at := <-display.cleared:
		if elapsed := at.Sub(second); elapsed < noticeDuration {
			t.Errorf("Notice cleared %v after the second shot, want at least %v", elapsed, noticeDuration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notice never cleared")
	}
}

func TestModeMessageUpdatesDisplay(t *testing.T) {
	display := newFakeDisplay()
	consumer, _ := newTestConsumer(t, display)

	consumer.inbound <- messages.Mode{Type: messages.ModeSmart}

	select {
	case mode := <-display.modes:
		if mode != "smart" {
			t.Errorf("Mode = %q, want smart", mode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the mode update")
	}
}
