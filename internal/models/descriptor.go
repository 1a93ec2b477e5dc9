package models

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// TagReader reads one attribute of one input file. It is the seam to the
// header decoder: present is false when the file does not carry the tag.
type TagReader interface {
	ReadTag(handle string, tag Tag) (value string, present bool, err error)
}

// FileDescriptor wraps one input file and lazily exposes its tag values.
// Each tag is read from the TagReader at most once; the cached value (or the
// failure) never changes afterwards, so descriptors may be shared between
// concurrent analyses.
type FileDescriptor struct {
	// handle identifies the source file, usually its path
	handle string

	reader TagReader

	mu    sync.Mutex
	cache map[Tag]tagValue
}

type tagValue struct {
	value   string
	present bool
	err     error
}

// NewFileDescriptor creates a descriptor for handle backed by reader.
func NewFileDescriptor(handle string, reader TagReader) *FileDescriptor {
	return &FileDescriptor{
		handle: handle,
		reader: reader,
		cache:  make(map[Tag]tagValue),
	}
}

// NewFileSet creates one descriptor per handle, all sharing reader.
func NewFileSet(handles []string, reader TagReader) []*FileDescriptor {
	files := make([]*FileDescriptor, len(handles))
	for i, h := range handles {
		files[i] = NewFileDescriptor(h, reader)
	}
	return files
}

// Handle returns the source handle.
func (f *FileDescriptor) Handle() string {
	return f.handle
}

func (f *FileDescriptor) load(tag Tag) tagValue {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v, ok := f.cache[tag]; ok {
		return v
	}
	var v tagValue
	if f.reader != nil {
		v.value, v.present, v.err = f.reader.ReadTag(f.handle, tag)
		if v.err != nil {
			v.present = false
		}
		v.value = strings.TrimSpace(v.value)
	}
	f.cache[tag] = v
	return v
}

// Lookup returns the trimmed value of tag and whether it is present.
// Read failures are reported as absent; ReadError returns the cause.
func (f *FileDescriptor) Lookup(tag Tag) (string, bool) {
	v := f.load(tag)
	return v.value, v.present
}

// ReadError returns the error the reader reported for tag, if any.
func (f *FileDescriptor) ReadError(tag Tag) error {
	return f.load(tag).err
}

// Floats parses a backslash-separated numeric value such as
// ImagePositionPatient. ok is false when the tag is absent or malformed.
func (f *FileDescriptor) Floats(tag Tag) ([]float64, bool) {
	raw, present := f.Lookup(tag)
	if !present || raw == "" {
		return nil, false
	}
	return ParseFloats(raw)
}

// Float parses a single numeric value.
func (f *FileDescriptor) Float(tag Tag) (float64, bool) {
	vals, ok := f.Floats(tag)
	if !ok || len(vals) != 1 {
		return 0, false
	}
	return vals[0], true
}

// CachedTags lists the tags loaded so far, in tag order.
func (f *FileDescriptor) CachedTags() []Tag {
	f.mu.Lock()
	defer f.mu.Unlock()

	tags := make([]Tag, 0, len(f.cache))
	for t := range f.cache {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// SplitValues splits a multi-valued DICOM string on backslashes.
func SplitValues(raw string) []string {
	parts := strings.Split(raw, `\`)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ParseFloats parses every component of a multi-valued string.
func ParseFloats(raw string) ([]float64, bool) {
	parts := SplitValues(raw)
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// SortByHandle orders files by handle in place.
func SortByHandle(files []*FileDescriptor) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].handle < files[j].handle
	})
}

// Handles returns the handles of files in order.
func Handles(files []*FileDescriptor) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.handle
	}
	return out
}
