package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RawSliceFile is a slice file discovered on disk together with the header
// fields needed to group and order it.
type RawSliceFile struct {
	// Path is the location of the file
	Path string

	// SeriesID is the series the file was grouped under
	SeriesID string

	// InstanceNumber is the acquisition order from the header, valid when HasInstance is set
	InstanceNumber int
	HasInstance    bool
}

// SliceHeader is the metadata read from a slice file without its pixel payload.
type SliceHeader struct {
	// SeriesID is empty when the file carries no series identifier
	SeriesID string

	InstanceNumber int
	HasInstance    bool
}

// SeriesGroup is a series identifier with the files that belong to it.
type SeriesGroup struct {
	SeriesID string
	Files    []RawSliceFile
}

// Paths returns the file paths of the group in their current order.
func (g SeriesGroup) Paths() []string {
	paths := make([]string, len(g.Files))
	for i, f := range g.Files {
		paths[i] = f.Path
	}
	return paths
}

// Plane is a single decoded 2D slice in row-major order.
type Plane struct {
	Rows int
	Cols int
	Data []float64
}

// Shape returns the in-plane dimensions as (rows, cols).
func (p Plane) Shape() [2]int {
	return [2]int{p.Rows, p.Cols}
}

// DataType is the on-disk sample type of a volume, using NIfTI datatype codes.
type DataType int16

const (
	Uint8   DataType = 2
	Int16   DataType = 4
	Int32   DataType = 8
	Float32 DataType = 16
	Float64 DataType = 64
	Int8    DataType = 256
	Uint16  DataType = 512
	Uint32  DataType = 768
)

// String returns a short name for the datatype.
func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	default:
		return fmt.Sprintf("datatype(%d)", int16(d))
	}
}

// IsInteger reports whether samples of this type are stored as integers.
func (d DataType) IsInteger() bool {
	return d != Float32 && d != Float64
}

// Volume is a 3D array of intensity samples with a voxel-to-world transform.
type Volume struct {
	// Data holds the samples in row-major order, the last axis varying fastest
	Data []float64

	// Shape is the size of each axis; assembled series are (slices, rows, cols)
	Shape [3]int

	// Affine is the 4x4 transform from array indices to physical coordinates
	Affine *mat.Dense

	// DataType is the sample type used when the volume is written
	DataType DataType
}

// NewVolume allocates a zero-filled volume with an identity transform.
func NewVolume(shape [3]int, dt DataType) *Volume {
	return &Volume{
		Data:     make([]float64, shape[0]*shape[1]*shape[2]),
		Shape:    shape,
		Affine:   IdentityAffine(),
		DataType: dt,
	}
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// Index returns the flat offset of voxel (i, j, k).
func (v *Volume) Index(i, j, k int) int {
	return (i*v.Shape[1]+j)*v.Shape[2] + k
}

// At returns the sample at (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a sample at (i, j, k).
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Index(i, j, k)] = value
}

// Spacing returns the absolute value of the affine diagonal, which is the
// voxel size for axis-aligned transforms.
func (v *Volume) Spacing() [3]float64 {
	var s [3]float64
	for i := 0; i < 3; i++ {
		s[i] = math.Abs(v.Affine.At(i, i))
	}
	return s
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:     data,
		Shape:    v.Shape,
		Affine:   mat.DenseCopyOf(v.Affine),
		DataType: v.DataType,
	}
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Shape == o.Shape
}

// IdentityAffine returns a 4x4 identity transform.
func IdentityAffine() *mat.Dense {
	return DiagonalAffine([3]float64{1, 1, 1})
}

// DiagonalAffine returns a transform that scales each axis by the given spacing.
func DiagonalAffine(spacing [3]float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		spacing[0], 0, 0, 0,
		0, spacing[1], 0, 0,
		0, 0, spacing[2], 0,
		0, 0, 0, 1,
	})
}
