// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Based on the nifti1 header definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mrivolumes/internal/models"
)

const (
	headerSize = 348
	dataOffset = 352
)

// Transform codes for qform_code / sform_code.
const (
	XFormUnknown     = 0
	XFormScannerAnat = 1
	XFormAligned     = 2
)

// Units: millimetres and seconds, packed as in xyzt_units.
const unitsMMSec = 2 | 8

var (
	// ErrNot3D is returned for files whose data array is not three dimensional.
	ErrNot3D = errors.New("not a 3D image")

	// ErrInvalidHeader is returned when the header fails basic validation.
	ErrInvalidHeader = errors.New("invalid nifti1 header")

	magicSingleFile = [4]byte{'n', '+', '1', 0}
)

// Header is the on-disk nifti1 header.
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  byte
type Header struct {
	SizeOfHdr      int32    // Must be 348
	UnusedDataType [10]byte // Unused
	UnusedDbName   [18]byte // Unused
	UnusedExtents  int32    // Unused
	UnusedSession  int16    // Unused
	UnusedRegular  byte     // Unused
	DimInfo        byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // "n+1\0" for single-file images
}

// bytesPerVoxel returns the storage size of a datatype.
func bytesPerVoxel(dt models.DataType) (int, error) {
	switch dt {
	case models.Uint8, models.Int8:
		return 1, nil
	case models.Int16, models.Uint16:
		return 2, nil
	case models.Int32, models.Uint32, models.Float32:
		return 4, nil
	case models.Float64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported datatype %s", dt)
	}
}

// newHeader builds the header written for a volume.
func newHeader(vol *models.Volume, description string) (Header, error) {
	nb, err := bytesPerVoxel(vol.DataType)
	if err != nil {
		return Header{}, err
	}
	for i, n := range vol.Shape {
		if n <= 0 || n > math.MaxInt16 {
			return Header{}, fmt.Errorf("axis %d has unsupported length %d", i, n)
		}
	}

	h := Header{
		SizeOfHdr: headerSize,
		Dim:       [8]int16{3, int16(vol.Shape[0]), int16(vol.Shape[1]), int16(vol.Shape[2]), 1, 1, 1, 1},
		DataType:  int16(vol.DataType),
		BitPix:    int16(nb * 8),
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: unitsMMSec,
		QFormCode: XFormUnknown,
		SFormCode: XFormAligned,
		Magic:     magicSingleFile,
	}

	h.PixDim[0] = 1
	for col := 0; col < 3; col++ {
		var norm float64
		for row := 0; row < 3; row++ {
			v := vol.Affine.At(row, col)
			norm += v * v
		}
		h.PixDim[col+1] = float32(math.Sqrt(norm))
	}
	for i := 4; i < 8; i++ {
		h.PixDim[i] = 1
	}

	rows := []*[4]float32{&h.SRowX, &h.SRowY, &h.SRowZ}
	for r, dst := range rows {
		for c := 0; c < 4; c++ {
			dst[c] = float32(vol.Affine.At(r, c))
		}
	}

	copy(h.Descrip[:], description)
	return h, nil
}

// validate checks the parts of the header this package depends on.
func (h *Header) validate() error {
	if h.SizeOfHdr != headerSize {
		return fmt.Errorf("%w: header size %d", ErrInvalidHeader, h.SizeOfHdr)
	}
	if h.Magic != magicSingleFile {
		return fmt.Errorf("%w: data must be stored in the same file as the header", ErrInvalidHeader)
	}
	if h.Dim[0] != 3 {
		return fmt.Errorf("%w: %d dimensions", ErrNot3D, h.Dim[0])
	}
	for i := 1; i <= 3; i++ {
		if h.Dim[i] <= 0 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrInvalidHeader, i, h.Dim[i])
		}
	}
	if _, err := bytesPerVoxel(models.DataType(h.DataType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	return nil
}

// Affine returns the voxel-to-world transform encoded in the header: the
// sform when set, else the qform, else a diagonal built from pixdim.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SFormCode > 0:
		a := mat.NewDense(4, 4, nil)
		for c := 0; c < 4; c++ {
			a.Set(0, c, float64(h.SRowX[c]))
			a.Set(1, c, float64(h.SRowY[c]))
			a.Set(2, c, float64(h.SRowZ[c]))
		}
		a.Set(3, 3, 1)
		return a
	case h.QFormCode > 0:
		return h.quaternAffine()
	default:
		return models.DiagonalAffine([3]float64{
			nonZero(float64(h.PixDim[1])),
			nonZero(float64(h.PixDim[2])),
			nonZero(float64(h.PixDim[3])),
		})
	}
}

func (h *Header) quaternAffine() *mat.Dense {
	b := float64(h.QuaternB)
	c := float64(h.QuaternC)
	d := float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// a is zero: renormalise (b, c, d)
		norm := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*norm, c*norm, d*norm
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := float64(h.PixDim[0])
	if qfac == 0 {
		qfac = 1
	}
	dx := nonZero(float64(h.PixDim[1]))
	dy := nonZero(float64(h.PixDim[2]))
	dz := nonZero(float64(h.PixDim[3])) * qfac

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return math.Abs(v)
}

// byteOrderFor guesses the byte order from the header size field.
func byteOrderFor(raw []byte) (binary.ByteOrder, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: short header", ErrInvalidHeader)
	}
	if int32(binary.LittleEndian.Uint32(raw)) == headerSize {
		return binary.LittleEndian, nil
	}
	if int32(binary.BigEndian.Uint32(raw)) == headerSize {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: cannot infer byte order", ErrInvalidHeader)
}
