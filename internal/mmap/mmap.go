// Package mmap wraps read-only memory mapping of model files so large
// indexes can be opened without copying their bulk into process memory.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a read-only view of a file's contents.
type Mapping struct {
	data []byte
	f    *os.File
}

// Open maps the named file read-only. The file must be non-empty.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() <= 0 {
		f.Close()
		return nil, fmt.Errorf("mmap %s: empty file", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Mapping{data: data, f: f}, nil
}

// Data returns the mapped bytes. The slice is invalid after Close.
func (m *Mapping) Data() []byte { return m.data }

// Close unmaps the file and releases the descriptor. Safe to call twice.
func (m *Mapping) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
