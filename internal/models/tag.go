package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tag addresses one DICOM attribute by group and element number.
type Tag struct {
	Group   uint16
	Element uint16
}

// Well-known tags used by the built-in configurations and the geometry checks.
var (
	SOPClassUID             = Tag{0x0008, 0x0016}
	SOPInstanceUID          = Tag{0x0008, 0x0018}
	AcquisitionTime         = Tag{0x0008, 0x0032}
	Modality                = Tag{0x0008, 0x0060}
	SeriesDescription       = Tag{0x0008, 0x103e}
	SliceThickness          = Tag{0x0018, 0x0050}
	StudyInstanceUID        = Tag{0x0020, 0x000d}
	SeriesInstanceUID       = Tag{0x0020, 0x000e}
	SeriesNumber            = Tag{0x0020, 0x0011}
	AcquisitionNumber       = Tag{0x0020, 0x0012}
	InstanceNumber          = Tag{0x0020, 0x0013}
	ImagePositionPatient    = Tag{0x0020, 0x0032}
	ImageOrientationPatient = Tag{0x0020, 0x0037}
	TemporalPositionIndex   = Tag{0x0020, 0x9128}
	SliceLocation           = Tag{0x0020, 0x1041}
	NumberOfFrames          = Tag{0x0028, 0x0008}
	Rows                    = Tag{0x0028, 0x0010}
	Columns                 = Tag{0x0028, 0x0011}
	PixelSpacing            = Tag{0x0028, 0x0030}
)

var keywords = map[Tag]string{
	SOPClassUID:             "SOPClassUID",
	SOPInstanceUID:          "SOPInstanceUID",
	AcquisitionTime:         "AcquisitionTime",
	Modality:                "Modality",
	SeriesDescription:       "SeriesDescription",
	SliceThickness:          "SliceThickness",
	StudyInstanceUID:        "StudyInstanceUID",
	SeriesInstanceUID:       "SeriesInstanceUID",
	SeriesNumber:            "SeriesNumber",
	AcquisitionNumber:       "AcquisitionNumber",
	InstanceNumber:          "InstanceNumber",
	ImagePositionPatient:    "ImagePositionPatient",
	ImageOrientationPatient: "ImageOrientationPatient",
	TemporalPositionIndex:   "TemporalPositionIndex",
	SliceLocation:           "SliceLocation",
	NumberOfFrames:          "NumberOfFrames",
	Rows:                    "Rows",
	Columns:                 "Columns",
	PixelSpacing:            "PixelSpacing",
}

var byKeyword = func() map[string]Tag {
	m := make(map[string]Tag, len(keywords))
	for t, k := range keywords {
		m[strings.ToLower(k)] = t
	}
	return m
}()

// String returns the tag as "gggg,eeee" in lower-case hex.
func (t Tag) String() string {
	return fmt.Sprintf("%04x,%04x", t.Group, t.Element)
}

// Keyword returns the dictionary keyword for well-known tags, or "".
func (t Tag) Keyword() string {
	return keywords[t]
}

// DisplayName returns the keyword when known and the hex form otherwise.
func (t Tag) DisplayName() string {
	if k := t.Keyword(); k != "" {
		return k
	}
	return t.String()
}

// ParseTag accepts "gggg,eeee", "(gggg,eeee)", "0xgggg,0xeeee" or a known keyword.
func ParseTag(s string) (Tag, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "("), ")")
	if t, ok := byKeyword[strings.ToLower(trimmed)]; ok {
		return t, nil
	}

	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return Tag{}, fmt.Errorf("invalid tag %q: expected gggg,eeee or a known keyword", s)
	}
	group, err := parseHex16(parts[0])
	if err != nil {
		return Tag{}, fmt.Errorf("invalid tag group in %q: %w", s, err)
	}
	element, err := parseHex16(parts[1])
	if err != nil {
		return Tag{}, fmt.Errorf("invalid tag element in %q: %w", s, err)
	}
	return Tag{Group: group, Element: element}, nil
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("%q is not a 16-bit hex number", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// KnownTags lists the dictionary in tag order.
func KnownTags() []Tag {
	tags := make([]Tag, 0, len(keywords))
	for t := range keywords {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// Less orders tags by group, then element.
func (t Tag) Less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}
