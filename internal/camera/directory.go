package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirectorySource serves image files from a directory in lexicographic
// order. With cycling enabled it restarts from the first file after the
// last; otherwise it signals end-of-sequence.
type DirectorySource struct {
	files []string
	cycle bool
	index int
	seq   uint64
}

// NewDirectorySource enumerates files in dir matching the glob pattern
// (for example "*.jpg"). It fails when the directory does not exist or
// no files match.
func NewDirectorySource(dir, pattern string, cycle bool) (*DirectorySource, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not an existing directory", ErrSourceUnavailable, dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrSourceUnavailable, pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files matching %q in %q", ErrSourceUnavailable, pattern, dir)
	}
	sort.Strings(files)

	return &DirectorySource{files: files, cycle: cycle}, nil
}

// Len returns the number of enumerated files.
func (d *DirectorySource) Len() int { return len(d.files) }

// Next returns the next file reference, cycling or ending per
// configuration.
func (d *DirectorySource) Next() (Frame, error) {
	if d.index >= len(d.files) {
		if !d.cycle {
			return Frame{}, ErrEndOfSequence
		}
		d.index = 0
	}

	frame := Frame{Seq: d.seq, Path: d.files[d.index]}
	d.index++
	d.seq++
	return frame, nil
}
