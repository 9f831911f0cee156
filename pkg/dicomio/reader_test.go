package dicomio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustNewElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	element, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return element
}

// TestHeaderFromDataset verifies extraction of the series identifier and instance number
func TestHeaderFromDataset(t *testing.T) {
	dataset := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.SeriesInstanceUID, []string{"1.2.276.0.7230010.3.1.3 "}),
		mustNewElement(t, tag.InstanceNumber, []string{"12"}),
	}}

	header := HeaderFromDataset(dataset)
	assert.Equal(t, "1.2.276.0.7230010.3.1.3", header.SeriesID)
	assert.True(t, header.HasInstance)
	assert.Equal(t, 12, header.InstanceNumber)
}

// TestHeaderFromDatasetMissingTags verifies that absent tags leave the header empty
func TestHeaderFromDatasetMissingTags(t *testing.T) {
	dataset := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.InstanceNumber, []string{"not-a-number"}),
	}}

	header := HeaderFromDataset(dataset)
	assert.Empty(t, header.SeriesID)
	assert.False(t, header.HasInstance)
}

// TestPlaneFromDatasetWithoutPixels verifies the no-pixel-data error
func TestPlaneFromDatasetWithoutPixels(t *testing.T) {
	dataset := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.SeriesInstanceUID, []string{"1.2.3"}),
	}}

	_, err := PlaneFromDataset(dataset)
	assert.True(t, errors.Is(err, ErrNoPixelData))
}

// pixelDataset wraps a native frame in a dataset with the given pixel representation
func pixelDataset(t *testing.T, native frame.INativeFrame, representation int) dicom.Dataset {
	t.Helper()
	info := dicom.PixelDataInfo{Frames: []*frame.Frame{{NativeData: native}}}
	return dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.PixelRepresentation, []int{representation}),
		mustNewElement(t, tag.PixelData, info),
	}}
}

// TestPlaneFromDatasetSigned verifies that signed 16-bit samples keep their sign
func TestPlaneFromDatasetSigned(t *testing.T) {
	native := &frame.NativeFrame[uint16]{
		RawData:                 []uint16{65531, 100},
		InternalRows:            1,
		InternalCols:            2,
		InternalSamplesPerPixel: 1,
		InternalBitsPerSample:   16,
	}

	plane, err := PlaneFromDataset(pixelDataset(t, native, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, 100}, plane.Data)

	plane, err = PlaneFromDataset(pixelDataset(t, native, 0))
	require.NoError(t, err)
	assert.Equal(t, []float64{65531, 100}, plane.Data)
}

// TestPlaneFromDataset32Bit verifies that 32-bit samples are not truncated
func TestPlaneFromDataset32Bit(t *testing.T) {
	native := &frame.NativeFrame[uint32]{
		RawData:                 []uint32{70000, 4294967295},
		InternalRows:            2,
		InternalCols:            1,
		InternalSamplesPerPixel: 1,
		InternalBitsPerSample:   32,
	}

	plane, err := PlaneFromDataset(pixelDataset(t, native, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, plane.Rows)
	assert.Equal(t, []float64{70000, 4294967295}, plane.Data)

	plane, err = PlaneFromDataset(pixelDataset(t, native, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{70000, -1}, plane.Data)
}

// TestPlaneFromNative verifies first-sample selection and short frames
func TestPlaneFromNative(t *testing.T) {
	rgb := &frame.NativeFrame[uint8]{
		RawData:                 []uint8{10, 20, 30, 40, 50, 60},
		InternalRows:            1,
		InternalCols:            2,
		InternalSamplesPerPixel: 3,
		InternalBitsPerSample:   8,
	}
	plane, err := PlaneFromNative(rgb, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 40}, plane.Data)

	short := &frame.NativeFrame[uint16]{
		RawData:                 []uint16{1},
		InternalRows:            2,
		InternalCols:            2,
		InternalSamplesPerPixel: 1,
		InternalBitsPerSample:   16,
	}
	_, err = PlaneFromNative(short, false)
	assert.Error(t, err)
}

// TestPlaneFromImage verifies that stored gray levels are kept in row-major order
func TestPlaneFromImage(t *testing.T) {
	img16 := image.NewGray16(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img16.SetGray16(x, y, color.Gray16{Y: uint16(1000*y + x)})
		}
	}

	plane := PlaneFromImage(img16)
	assert.Equal(t, 2, plane.Rows)
	assert.Equal(t, 3, plane.Cols)
	assert.Equal(t, []float64{0, 1, 2, 1000, 1001, 1002}, plane.Data)

	img8 := image.NewGray(image.Rect(0, 0, 2, 2))
	img8.SetGray(1, 1, color.Gray{Y: 200})
	plane = PlaneFromImage(img8)
	assert.Equal(t, []float64{0, 0, 0, 200}, plane.Data)

	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rgba.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	plane = PlaneFromImage(rgba)
	assert.Equal(t, []float64{65535}, plane.Data)
}

// TestReaderRejectsNonDICOM verifies that garbage files fail at the header stage
func TestReaderRejectsNonDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.dcm")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a dicom file"), 0644))

	reader := NewReader()
	_, err := reader.ReadHeader(path)
	assert.Error(t, err)

	_, err = reader.ReadSlice(path)
	assert.Error(t, err)
}
