// Package dicomtags provides TagReader implementations: a DICOM header
// decoder, a YAML manifest reader and an in-memory reader.
package dicomtags

import (
	"sort"
	"sync"

	"seriesresolver/internal/models"
)

// MemoryReader serves tag values from memory.
type MemoryReader struct {
	mu    sync.RWMutex
	files map[string]map[models.Tag]string
}

// NewMemoryReader creates an empty reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{files: make(map[string]map[models.Tag]string)}
}

// Set stores one tag value for handle.
func (m *MemoryReader) Set(handle string, tag models.Tag, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags, ok := m.files[handle]
	if !ok {
		tags = make(map[models.Tag]string)
		m.files[handle] = tags
	}
	tags[tag] = value
}

// SetAll stores every value of tags for handle.
func (m *MemoryReader) SetAll(handle string, tags map[models.Tag]string) {
	for t, v := range tags {
		m.Set(handle, t, v)
	}
}

// ReadTag implements models.TagReader.
func (m *MemoryReader) ReadTag(handle string, tag models.Tag) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.files[handle][tag]
	return v, ok, nil
}

// Handles returns every handle with at least one tag, sorted.
func (m *MemoryReader) Handles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for h := range m.files {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Files creates descriptors for every known handle.
func (m *MemoryReader) Files() []*models.FileDescriptor {
	return models.NewFileSet(m.Handles(), m)
}
