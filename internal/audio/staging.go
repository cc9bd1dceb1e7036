// Package audio stages voice payloads on disk and transcodes OGG voice notes
// into WAV for providers that do not accept Opus.
package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const stagedFilePattern = "memoria-audio-*"

// Workspace owns the directory in which temporary audio files are staged.
//
// An empty directory means os.TempDir.
type Workspace struct {
	dir string
}

// NewWorkspace creates one staging workspace rooted at dir.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{dir: strings.TrimSpace(dir)}
}

// StagedFile is one temporary file that must be released by its owner.
type StagedFile struct {
	path string

	once sync.Once
	err  error
}

// Create acquires an empty staged file whose name ends in ext.
func (w *Workspace) Create(ext string) (*StagedFile, *os.File, error) {
	if w == nil {
		return nil, nil, fmt.Errorf("stage audio: nil workspace")
	}

	file, err := os.CreateTemp(w.dir, stagedFilePattern+ext)
	if err != nil {
		return nil, nil, fmt.Errorf("stage audio create: %w", err)
	}

	return &StagedFile{path: file.Name()}, file, nil
}

// Stage writes data to a new staged file whose name ends in ext.
func (w *Workspace) Stage(data []byte, ext string) (*StagedFile, error) {
	staged, file, err := w.Create(ext)
	if err != nil {
		return nil, err
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = staged.Release()
		return nil, fmt.Errorf("stage audio write: %w", err)
	}

	return staged, nil
}

// Path returns the staged file location.
func (f *StagedFile) Path() string {
	if f == nil {
		return ""
	}

	return f.path
}

// Release removes the staged file. It is safe to call more than once.
func (f *StagedFile) Release() error {
	if f == nil {
		return nil
	}

	f.once.Do(func() {
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("release staged audio %s: %w", f.path, err)
		}
	})

	return f.err
}
