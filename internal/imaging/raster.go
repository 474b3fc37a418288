package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"curator/internal/dicomsafe"
	"curator/internal/services"
)

// Raster is a decoded grayscale pixel grid, row-major.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// UnsupportedFormatError reports a payload that is not one of the accepted
// image formats. It carries the classification marker so the intake gate can
// route the run to review.
type UnsupportedFormatError struct {
	Path   string
	Detail string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unsupported image format: %s: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("unsupported image format: %s", e.Detail)
}

func (e *UnsupportedFormatError) Unwrap() error { return services.ErrClassification }

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// DecodeBytes decodes a PNG, JPEG, or DICOM payload into a grayscale raster.
func DecodeBytes(data []byte) (*Raster, error) {
	switch {
	case bytes.HasPrefix(data, pngMagic),
		len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &UnsupportedFormatError{Detail: err.Error()}
		}
		return fromImage(img), nil
	case dicomsafe.IsDICOM(data):
		file, err := dicomsafe.Parse(data)
		if err != nil {
			return nil, &UnsupportedFormatError{Detail: err.Error()}
		}
		img, err := file.Image()
		if err != nil {
			return nil, &UnsupportedFormatError{Detail: err.Error()}
		}
		return fromImage(img), nil
	default:
		return nil, &UnsupportedFormatError{Detail: "not a PNG, JPEG, or DICOM payload"}
	}
}

// DecodeFile reads and decodes an image file.
func DecodeFile(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image file: %w", err)
	}
	raster, err := DecodeBytes(data)
	if err != nil {
		var unsupported *UnsupportedFormatError
		if errors.As(err, &unsupported) {
			return nil, &UnsupportedFormatError{Path: path, Detail: unsupported.Detail}
		}
		return nil, err
	}
	return raster, nil
}

func fromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	raster := &Raster{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]uint8, bounds.Dx()*bounds.Dy()),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			raster.Pix[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			i++
		}
	}
	return raster
}

// At returns the pixel value at (x, y). Callers must stay in bounds.
func (r *Raster) At(x, y int) uint8 {
	return r.Pix[y*r.Width+x]
}

// Clone returns an independent copy of the raster.
func (r *Raster) Clone() *Raster {
	pix := make([]uint8, len(r.Pix))
	copy(pix, r.Pix)
	return &Raster{Width: r.Width, Height: r.Height, Pix: pix}
}
