// Package scratch hands out temporary files for a single processing run and
// tracks them until they are released.
package scratch

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Space allocates scratch files inside one directory
type Space struct {
	dir string

	mu          sync.Mutex
	outstanding int
}

// NewSpace creates the directory if needed. An empty dir uses os.TempDir.
func NewSpace(dir string) (*Space, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Space{dir: dir}, nil
}

// Dir returns the scratch directory
func (s *Space) Dir() string {
	return s.dir
}

// Outstanding returns the number of files acquired and not yet released
func (s *Space) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// File is a scratch file. Release must be called on every path.
type File struct {
	space    *Space
	file     *os.File
	once     sync.Once
	released error
}

// Acquire creates a new scratch file
func (s *Space) Acquire(pattern string) (*File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()
	return &File{space: s, file: f}, nil
}

// Name returns the file path
func (f *File) Name() string {
	return f.file.Name()
}

// Fill copies r into the file and returns the byte count
func (f *File) Fill(r io.Reader) (int64, error) {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	if err := f.file.Truncate(0); err != nil {
		return 0, err
	}
	return io.Copy(f.file, r)
}

// Bytes reads the whole file
func (f *File) Bytes() ([]byte, error) {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f.file)
}

// Release closes and removes the file. It is safe to call more than once.
func (f *File) Release() error {
	f.once.Do(func() {
		cerr := f.file.Close()
		rerr := os.Remove(f.file.Name())
		if rerr != nil && os.IsNotExist(rerr) {
			rerr = nil
		}
		f.space.mu.Lock()
		f.space.outstanding--
		f.space.mu.Unlock()
		if rerr != nil {
			f.released = rerr
		} else if cerr != nil {
			f.released = cerr
		}
	})
	return f.released
}
