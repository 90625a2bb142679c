package model

import (
	"fmt"
	"os"

	"github.com/liliang-cn/hnsw/internal/mmap"
)

// Save writes the model buffer to the named file verbatim.
func (m *Model) Save(path string) error {
	if err := os.WriteFile(path, m.buf, 0o644); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// Load opens a model file. With useMmap the file is mapped read-only and
// the model reads directly from the mapping; otherwise the whole file is
// copied into process memory. wantDim, when positive, must match the
// stored dimension.
func Load(path string, useMmap bool, wantDim int) (*Model, error) {
	m := &Model{}
	if useMmap {
		mapping, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		m.buf = mapping.Data()
		m.closer = mapping
	} else {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		m.buf = buf
	}
	if err := m.parse(wantDim); err != nil {
		m.Unload()
		return nil, err
	}
	return m, nil
}

// Unload releases the model buffer. When mmap-backed the mapping is
// dropped; afterwards every view previously handed out is invalid.
func (m *Model) Unload() error {
	var err error
	if m.closer != nil {
		err = m.closer.Close()
		m.closer = nil
	}
	m.buf = nil
	m.level0 = nil
	m.higher = nil
	return err
}
