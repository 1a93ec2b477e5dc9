package dicomtags

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"go.uber.org/zap"

	"seriesresolver/internal/models"
)

// FileReader decodes DICOM headers from disk. Each file is parsed at most
// once, without pixel data, the first time any of its tags is requested.
type FileReader struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*fileEntry
}

type fileEntry struct {
	once sync.Once
	tags map[models.Tag]string
	err  error
}

// NewFileReader creates a reader; a nil logger disables logging.
func NewFileReader(logger *zap.Logger) *FileReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileReader{logger: logger, entries: make(map[string]*fileEntry)}
}

// ReadTag implements models.TagReader. A file that cannot be parsed reports
// the parse error for every tag.
func (r *FileReader) ReadTag(handle string, tag models.Tag) (string, bool, error) {
	e := r.entry(handle)
	e.once.Do(func() {
		e.tags, e.err = parseHeader(handle)
		if e.err != nil {
			r.logger.Warn("failed to parse DICOM header",
				zap.String("file", handle), zap.Error(e.err))
		}
	})
	if e.err != nil {
		return "", false, e.err
	}
	v, ok := e.tags[tag]
	return v, ok, nil
}

func (r *FileReader) entry(handle string) *fileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		e = &fileEntry{}
		r.entries[handle] = e
	}
	return e
}

func parseHeader(path string) (map[models.Tag]string, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	tags := make(map[models.Tag]string, len(ds.Elements))
	for _, el := range ds.Elements {
		if el == nil || el.Value == nil {
			continue
		}
		v, ok := formatValue(el.Value.GetValue())
		if !ok {
			continue
		}
		tags[models.Tag{Group: el.Tag.Group, Element: el.Tag.Element}] = v
	}
	return tags, nil
}

// formatValue renders a decoded element value the way it appears in the
// header text: multiple values joined by a backslash. Sequences, pixel data
// and raw bytes are skipped.
func formatValue(v any) (string, bool) {
	var parts []string
	switch vals := v.(type) {
	case []string:
		parts = make([]string, len(vals))
		for i, s := range vals {
			parts[i] = strings.Trim(s, " \x00")
		}
	case []int:
		parts = make([]string, len(vals))
		for i, n := range vals {
			parts[i] = strconv.Itoa(n)
		}
	case []float64:
		parts = make([]string, len(vals))
		for i, f := range vals {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
	default:
		return "", false
	}
	return strings.Join(parts, `\`), true
}

// Collect returns every regular file under the given paths, sorted. Hidden
// files and directories are skipped.
func Collect(paths ...string) ([]string, error) {
	var out []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("error reading input: %w", err)
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking %s: %w", root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}
