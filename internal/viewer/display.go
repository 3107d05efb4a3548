package viewer

import (
	"fmt"
	"image"
	"io"
	"sync"
)

// Display renders viewer output. All methods are called from the
// Consumer's event loop, one at a time.
type Display interface {
	// ShowFrame presents a decoded frame.
	ShowFrame(img image.Image, seq uint64)

	// ShowFPS presents the frame count of the previous completed second.
	ShowFPS(fps int)

	// ShowNotice presents a transient notice such as a shutter event.
	ShowNotice(text string)

	// ClearNotice reverts the notice area to idle.
	ClearNotice()

	// SetMode presents the current camera operating mode.
	SetMode(mode string)
}

// TerminalDisplay writes a one line status to a writer. Frames update the
// line in place; FPS and notices are folded into it.
type TerminalDisplay struct {
	mu     sync.Mutex
	w      io.Writer
	mode   string
	notice string
	fps    int
}

// NewTerminalDisplay creates a display writing to w.
func NewTerminalDisplay(w io.Writer) *TerminalDisplay {
	return &TerminalDisplay{w: w}
}

func (d *TerminalDisplay) ShowFrame(img image.Image, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bounds := img.Bounds()
	fmt.Fprintf(d.w, "\rframe %06d  %dx%d  %d fps  mode=%s  %s\x1b[K",
		seq, bounds.Dx(), bounds.Dy(), d.fps, d.modeLocked(), d.notice)
}

func (d *TerminalDisplay) ShowFPS(fps int) {
	d.mu.Lock()
	d.fps = fps
	d.mu.Unlock()
}

func (d *TerminalDisplay) ShowNotice(text string) {
	d.mu.Lock()
	d.notice = text
	d.mu.Unlock()
}

func (d *TerminalDisplay) ClearNotice() {
	d.mu.Lock()
	d.notice = ""
	d.mu.Unlock()
}

func (d *TerminalDisplay) SetMode(mode string) {
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
}

func (d *TerminalDisplay) modeLocked() string {
	if d.mode == "" {
		return "unknown"
	}
	return d.mode
}
