package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfiguration marks invalid startup configuration. It is fatal: the
// process reports it to the operator and does not proceed to streaming.
var ErrConfiguration = errors.New("config: invalid configuration")

// Stream is the validated streaming configuration consumed by the core.
// Exactly one source is active: the directory cycler when SourceDir is
// set, otherwise the synthetic generator.
type Stream struct {
	Rate int

	// Directory cycler
	SourceDir   string
	FilePattern string
	Cycle       bool

	// Synthetic generator
	Resolution string // "height,width" as supplied by the operator
	SaveDir    string

	// Parsed from Resolution by Validate
	Width  int
	Height int
}

// Synthetic reports whether the synthetic generator is the active source.
func (s *Stream) Synthetic() bool { return s.SourceDir == "" }

// Validate checks the configuration and resolves the resolution string.
// All failures wrap ErrConfiguration and are detected before any
// streaming goroutine starts.
func (s *Stream) Validate() error {
	if s.Rate <= 0 {
		return fmt.Errorf("%w: target rate must be a positive integer, got %d", ErrConfiguration, s.Rate)
	}

	if !s.Synthetic() {
		if s.FilePattern == "" {
			return fmt.Errorf("%w: file pattern is required with a source directory", ErrConfiguration)
		}
		return nil
	}

	if s.SaveDir == "" {
		return fmt.Errorf("%w: save directory is required for the synthetic source", ErrConfiguration)
	}

	width, height, err := ParseResolution(s.Resolution)
	if err != nil {
		return err
	}
	s.Width = width
	s.Height = height
	return nil
}

// ParseResolution parses an operator-supplied resolution of exactly two
// comma-separated positive integers, height first ("720,1280" is 720
// high and 1280 wide). Anything else is a configuration error.
func ParseResolution(res string) (width, height int, err error) {
	parts := strings.Split(res, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: resolution must be two comma-separated integers (height,width), got %q", ErrConfiguration, res)
	}

	height, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w: resolution height %q is not a positive integer", ErrConfiguration, parts[0])
	}
	width, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w: resolution width %q is not a positive integer", ErrConfiguration, parts[1])
	}

	return width, height, nil
}
