// Package dicomio reads DICOM slice files: series metadata for grouping and
// the first pixel frame for stacking.
package dicomio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mrivolumes/internal/models"
)

// ErrNoPixelData is returned for files that carry no decodable frame.
var ErrNoPixelData = errors.New("no pixel data")

// Reader implements series.HeaderReader and reconstruction.SliceReader for DICOM files.
type Reader struct{}

// NewReader returns a DICOM reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadHeader parses a file up to, but not including, its pixel data.
func (r *Reader) ReadHeader(path string) (models.SliceHeader, error) {
	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return models.SliceHeader{}, fmt.Errorf("failed to parse DICOM header: %w", err)
	}
	return HeaderFromDataset(dataset), nil
}

// ReadSlice parses a file fully and returns its first frame as a plane.
func (r *Reader) ReadSlice(path string) (models.Plane, error) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return models.Plane{}, fmt.Errorf("failed to parse DICOM file: %w", err)
	}
	return PlaneFromDataset(dataset)
}

// HeaderFromDataset extracts the series identifier and instance number.
func HeaderFromDataset(dataset dicom.Dataset) models.SliceHeader {
	var h models.SliceHeader
	if uid, ok := stringValue(dataset, tag.SeriesInstanceUID); ok {
		h.SeriesID = uid
	}
	if n, ok := intValue(dataset, tag.InstanceNumber); ok {
		h.InstanceNumber = n
		h.HasInstance = true
	}
	return h
}

// PlaneFromDataset converts the first pixel frame of a dataset into a plane.
func PlaneFromDataset(dataset dicom.Dataset) (models.Plane, error) {
	pixelElement, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return models.Plane{}, ErrNoPixelData
	}
	if pixelElement.Value.ValueType() != dicom.PixelData {
		return models.Plane{}, fmt.Errorf("%w: unexpected value type %d", ErrNoPixelData, pixelElement.Value.ValueType())
	}

	pixelDataInfo := dicom.MustGetPixelDataInfo(pixelElement.Value)
	if len(pixelDataInfo.Frames) == 0 {
		return models.Plane{}, ErrNoPixelData
	}

	fr := pixelDataInfo.Frames[0]
	if !fr.IsEncapsulated() {
		native, err := fr.GetNativeFrame()
		if err != nil {
			return models.Plane{}, fmt.Errorf("failed to decode frame: %w", err)
		}
		representation, _ := intValue(dataset, tag.PixelRepresentation)
		return PlaneFromNative(native, representation == 1)
	}

	img, err := fr.GetImage()
	if err != nil {
		return models.Plane{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return PlaneFromImage(img), nil
}

// PlaneFromNative copies the stored values of a native frame into a plane,
// reinterpreting them as two's complement when signed is set. Only the first
// sample of each pixel is kept. Rescale slope and intercept are not applied.
func PlaneFromNative(native frame.INativeFrame, signed bool) (models.Plane, error) {
	rows, cols, spp := native.Rows(), native.Cols(), native.SamplesPerPixel()
	if spp < 1 {
		spp = 1
	}
	plane := models.Plane{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}

	var (
		sample func(i int) float64
		n      int
	)
	switch raw := native.RawDataSlice().(type) {
	case []uint8:
		sample = func(i int) float64 {
			if signed {
				return float64(int8(raw[i]))
			}
			return float64(raw[i])
		}
		n = len(raw)
	case []uint16:
		sample = func(i int) float64 {
			if signed {
				return float64(int16(raw[i]))
			}
			return float64(raw[i])
		}
		n = len(raw)
	case []uint32:
		sample = func(i int) float64 {
			if signed {
				return float64(int32(raw[i]))
			}
			return float64(raw[i])
		}
		n = len(raw)
	case []int:
		sample = func(i int) float64 { return float64(raw[i]) }
		n = len(raw)
	default:
		return models.Plane{}, fmt.Errorf("unsupported native sample type %T", raw)
	}

	if n < rows*cols*spp {
		return models.Plane{}, fmt.Errorf("frame holds %d samples, want %d", n, rows*cols*spp)
	}
	for i := range plane.Data {
		plane.Data[i] = sample(i * spp)
	}
	return plane, nil
}

// PlaneFromImage converts an image into a plane of raw gray levels. 16-bit
// images keep their stored values; other images are converted through the
// 16-bit gray model.
func PlaneFromImage(img image.Image) models.Plane {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := models.Plane{
		Rows: height,
		Cols: width,
		Data: make([]float64, width*height),
	}

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				plane.Data[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				plane.Data[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				plane.Data[y*width+x] = float64(g.Y)
			}
		}
	}

	return plane
}

// stringValue returns the first string of an element, trimmed of padding.
func stringValue(dataset dicom.Dataset, t tag.Tag) (string, bool) {
	element, err := dataset.FindElementByTag(t)
	if err != nil || element.Value == nil {
		return "", false
	}
	if element.Value.ValueType() != dicom.Strings {
		return "", false
	}
	values := dicom.MustGetStrings(element.Value)
	if len(values) == 0 {
		return "", false
	}
	v := strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
	return v, v != ""
}

// intValue reads an integer element stored either as IS strings or as ints.
func intValue(dataset dicom.Dataset, t tag.Tag) (int, bool) {
	element, err := dataset.FindElementByTag(t)
	if err != nil || element.Value == nil {
		return 0, false
	}
	switch element.Value.ValueType() {
	case dicom.Ints:
		values := dicom.MustGetInts(element.Value)
		if len(values) == 0 {
			return 0, false
		}
		return values[0], true
	case dicom.Strings:
		s, ok := stringValue(dataset, t)
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
