package dicomtags

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"seriesresolver/internal/models"
)

// Manifest is the YAML form of pre-extracted headers:
//
//	files:
//	  slice-001.dcm:
//	    SeriesInstanceUID: 1.2.3
//	    0020,0013: "1"
type Manifest struct {
	Files map[string]map[string]string `yaml:"files"`
}

// ManifestReader serves tag values from a Manifest. Relative handles are
// resolved against the manifest's directory when loaded from a file.
type ManifestReader struct {
	*MemoryReader
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte, baseDir string) (*ManifestReader, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	r := &ManifestReader{MemoryReader: NewMemoryReader()}
	for handle, tags := range m.Files {
		if baseDir != "" && !filepath.IsAbs(handle) {
			handle = filepath.Join(baseDir, handle)
		}
		for name, value := range tags {
			t, err := models.ParseTag(name)
			if err != nil {
				return nil, fmt.Errorf("manifest entry %s: %w", handle, err)
			}
			r.Set(handle, t, value)
		}
		if len(tags) == 0 {
			r.mu.Lock()
			r.files[handle] = make(map[models.Tag]string)
			r.mu.Unlock()
		}
	}
	return r, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*ManifestReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// SaveManifest writes the tags of reader for handles as a manifest. Tags are
// keyed by keyword when known.
func SaveManifest(path string, files []*models.FileDescriptor) error {
	m := Manifest{Files: make(map[string]map[string]string, len(files))}
	for _, f := range files {
		tags := make(map[string]string)
		for _, t := range f.CachedTags() {
			if v, ok := f.Lookup(t); ok {
				tags[t.DisplayName()] = v
			}
		}
		m.Files[f.Handle()] = tags
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}
