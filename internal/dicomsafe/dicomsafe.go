package dicomsafe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const magicOffset = 128

// IsDICOM reports whether the payload carries the DICM preamble magic.
func IsDICOM(data []byte) bool {
	return len(data) >= magicOffset+4 && string(data[magicOffset:magicOffset+4]) == "DICM"
}

// File wraps a parsed DICOM dataset.
type File struct {
	ds dicom.Dataset
}

// Parse decodes a DICOM payload.
func Parse(data []byte) (*File, error) {
	if !IsDICOM(data) {
		return nil, errors.New("missing DICM preamble")
	}
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}
	return &File{ds: ds}, nil
}

// ParseFile decodes a DICOM file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dicom file: %w", err)
	}
	return Parse(data)
}

// Image decodes the first pixel-data frame as a grayscale-convertible image.
func (f *File) Image() (image.Image, error) {
	element, err := f.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("locate pixel data: %w", err)
	}
	info, ok := element.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, errors.New("pixel data element has unexpected value type")
	}
	if len(info.Frames) == 0 {
		return nil, errors.New("pixel data has no frames")
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// AcquisitionTime returns the frame's acquisition timestamp, falling back to
// content and study stamps when the acquisition pair is absent.
func (f *File) AcquisitionTime() (time.Time, bool) {
	date := f.stringValue(tag.AcquisitionDate)
	if date == "" {
		date = f.stringValue(tag.ContentDate)
	}
	if date == "" {
		date = f.stringValue(tag.StudyDate)
	}
	tod := f.stringValue(tag.AcquisitionTime)
	if tod == "" {
		tod = f.stringValue(tag.ContentTime)
	}
	return ParseTimestamp(date, tod)
}

// Bytes serializes the dataset back to the DICOM wire form.
func (f *File) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := dicom.Write(&buf, f.ds); err != nil {
		return nil, fmt.Errorf("write dicom: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *File) stringValue(t tag.Tag) string {
	element, err := f.ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	values, ok := element.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// ParseTimestamp combines DICOM DA and TM strings (fractional seconds
// tolerated) into a UTC timestamp.
func ParseTimestamp(date, tod string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if len(date) != 8 {
		return time.Time{}, false
	}
	tod = strings.TrimSpace(tod)
	if i := strings.IndexByte(tod, '.'); i >= 0 {
		tod = tod[:i]
	}
	if len(tod) > 6 {
		tod = tod[:6]
	}
	for len(tod) < 6 {
		tod += "0"
	}
	stamp, err := time.ParseInLocation("20060102150405", date+tod, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}
