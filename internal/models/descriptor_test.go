package models

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	mu     sync.Mutex
	values map[string]map[Tag]string
	calls  map[Tag]int
	fail   error
}

func (r *countingReader) ReadTag(handle string, tag Tag) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[Tag]int)
	}
	r.calls[tag]++
	if r.fail != nil {
		return "", false, r.fail
	}
	v, ok := r.values[handle][tag]
	return v, ok, nil
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		in   string
		want Tag
	}{
		{"0020,000e", SeriesInstanceUID},
		{"(0020,0013)", InstanceNumber},
		{"0x0020,0x0032", ImagePositionPatient},
		{"SeriesInstanceUID", SeriesInstanceUID},
		{"instancenumber", InstanceNumber},
		{" 0028,0030 ", PixelSpacing},
		{"0009,1001", Tag{Group: 0x0009, Element: 0x1001}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTag(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "PatientsFavouriteColour", "0020", "0020,xyz", "12345,0001", "0020,0013,0001"} {
		_, err := ParseTag(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestTagNames(t *testing.T) {
	assert.Equal(t, "0020,000e", SeriesInstanceUID.String())
	assert.Equal(t, "SeriesInstanceUID", SeriesInstanceUID.DisplayName())

	private := Tag{Group: 0x0029, Element: 0x1010}
	assert.Empty(t, private.Keyword())
	assert.Equal(t, "0029,1010", private.DisplayName())

	known := KnownTags()
	for i := 1; i < len(known); i++ {
		assert.True(t, known[i-1].Less(known[i]), "KnownTags not sorted at %d", i)
	}
}

func TestFileDescriptorCachesReads(t *testing.T) {
	r := &countingReader{values: map[string]map[Tag]string{
		"a.dcm": {SeriesInstanceUID: " 1.2.3 ", ImagePositionPatient: `0\0.5\-12`},
	}}
	f := NewFileDescriptor("a.dcm", r)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := f.Lookup(SeriesInstanceUID)
			assert.True(t, ok)
			assert.Equal(t, "1.2.3", v)
		}()
	}
	wg.Wait()

	_, ok := f.Lookup(InstanceNumber)
	assert.False(t, ok)
	_, ok = f.Lookup(InstanceNumber)
	assert.False(t, ok)

	pos, ok := f.Floats(ImagePositionPatient)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0.5, -12}, pos)

	assert.Equal(t, 1, r.calls[SeriesInstanceUID])
	assert.Equal(t, 1, r.calls[InstanceNumber])
	assert.Equal(t, []Tag{SeriesInstanceUID, InstanceNumber, ImagePositionPatient}, f.CachedTags())
}

func TestFileDescriptorReadError(t *testing.T) {
	boom := errors.New("truncated header")
	r := &countingReader{fail: boom}
	f := NewFileDescriptor("broken.dcm", r)

	_, ok := f.Lookup(SeriesInstanceUID)
	assert.False(t, ok)
	assert.ErrorIs(t, f.ReadError(SeriesInstanceUID), boom)
	assert.NoError(t, NewFileDescriptor("nil.dcm", nil).ReadError(SeriesInstanceUID))
}

func TestFloatParsing(t *testing.T) {
	vals, ok := ParseFloats(`1\0\0\0\1\0`)
	require.True(t, ok)
	assert.Len(t, vals, 6)

	_, ok = ParseFloats(`1\x\0`)
	assert.False(t, ok)

	r := &countingReader{values: map[string]map[Tag]string{
		"a": {SliceThickness: "1.25", PixelSpacing: `0.5\0.5`},
	}}
	f := NewFileDescriptor("a", r)
	v, ok := f.Float(SliceThickness)
	assert.True(t, ok)
	assert.Equal(t, 1.25, v)
	_, ok = f.Float(PixelSpacing)
	assert.False(t, ok, "multi-valued tag is not a single float")
}

func TestSortByHandle(t *testing.T) {
	files := NewFileSet([]string{"c", "a", "b"}, nil)
	SortByHandle(files)
	assert.Equal(t, []string{"a", "b", "c"}, Handles(files))
}
