package camera

import (
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// retainCount is how many generated images are kept on disk before the
// oldest is deleted.
const retainCount = 100

// SyntheticSource generates a fresh noise image on every call, stamps the
// sequence number on it, and writes it as PNG into the save directory.
// The sequence is infinite.
type SyntheticSource struct {
	width   int
	height  int
	saveDir string
	seq     uint64
	rng     *rand.Rand
}

// NewSyntheticSource validates the output directory and creates the
// generator for the given resolution.
func NewSyntheticSource(width, height int, saveDir string) (*SyntheticSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid resolution %dx%d", ErrSourceUnavailable, width, height)
	}
	info, err := os.Stat(saveDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: save path %q is not an existing directory", ErrSourceUnavailable, saveDir)
	}

	return &SyntheticSource{
		width:   width,
		height:  height,
		saveDir: saveDir,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Next synthesizes one image, saves it, and returns its path as the frame
// reference. Encode failures surface as ErrSourceUnavailable.
func (s *SyntheticSource) Next() (Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+s.width*4]
		for x := 0; x < s.width*4; x += 4 {
			v := uint8(s.rng.Intn(256))
			row[x] = v
			row[x+1] = v
			row[x+2] = v
			row[x+3] = 0xff
		}
	}
	s.stampSequence(img)

	path := filepath.Join(s.saveDir, fmt.Sprintf("%06d.png", s.seq))
	if err := s.writePNG(path, img); err != nil {
		return Frame{}, fmt.Errorf("%w: encode %q: %v", ErrSourceUnavailable, path, err)
	}
	s.cleanOld()

	frame := Frame{Seq: s.seq, Path: path}
	s.seq++
	return frame, nil
}

// stampSequence draws the current sequence number onto the image so
// viewers can see frame progression at a glance.
func (s *SyntheticSource) stampSequence(img *image.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(fmt.Sprintf("%06d", s.seq))
}

func (s *SyntheticSource) writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cleanOld removes the image that fell out of the retention window, if
// any. A missing file is not an error.
func (s *SyntheticSource) cleanOld() {
	if s.seq < retainCount {
		return
	}
	old := filepath.Join(s.saveDir, fmt.Sprintf("%06d.png", s.seq-retainCount))
	_ = os.Remove(old)
}
