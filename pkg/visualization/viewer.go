package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mrivolumes/internal/models"
)

// AnyLabel selects every voxel greater than zero in MaskSlice.
const AnyLabel = -1

// Viewer cuts 2D slices out of a volume for display
type Viewer struct {
	vol *models.Volume

	// intensity window used for grayscale normalisation
	min, max float64
}

// NewViewer creates a viewer whose grayscale window spans the full intensity
// range of the volume
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.min = floats.Min(vol.Data)
		v.max = floats.Max(vol.Data)
	}
	return v
}

// Volume returns the volume being viewed
func (v *Viewer) Volume() *models.Volume {
	return v.vol
}

// planeShape returns the (rows, cols) of a slice normal to axis
func (v *Viewer) planeShape(axis int) (int, int, error) {
	s := v.vol.Shape
	switch axis {
	case 0:
		return s[1], s[2], nil
	case 1:
		return s[0], s[2], nil
	case 2:
		return s[0], s[1], nil
	default:
		return 0, 0, fmt.Errorf("invalid axis: %d (must be 0, 1, or 2)", axis)
	}
}

// sample returns the voxel at row r, column c of the slice at position along axis
func (v *Viewer) sample(axis, position, r, c int) float64 {
	switch axis {
	case 0:
		return v.vol.At(position, r, c)
	case 1:
		return v.vol.At(r, position, c)
	default:
		return v.vol.At(r, c, position)
	}
}

func (v *Viewer) checkPosition(axis, position int) (int, int, error) {
	rows, cols, err := v.planeShape(axis)
	if err != nil {
		return 0, 0, err
	}
	if position < 0 || position >= v.vol.Shape[axis] {
		return 0, 0, fmt.Errorf("position %d outside axis %d of length %d", position, axis, v.vol.Shape[axis])
	}
	return rows, cols, nil
}

// ExtractSlice extracts the 2D slice at position along axis as a grayscale
// image normalised to the intensity range of the volume. Image rows follow
// the lower remaining axis.
func (v *Viewer) ExtractSlice(axis, position int) (*image.Gray, error) {
	rows, cols, err := v.checkPosition(axis, position)
	if err != nil {
		return nil, err
	}

	scale := 0.0
	if v.max > v.min {
		scale = 255 / (v.max - v.min)
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			value := (v.sample(axis, position, r, c) - v.min) * scale
			img.SetGray(c, r, color.Gray{Y: uint8(value + 0.5)})
		}
	}
	return img, nil
}

// MidSlice extracts the middle slice along axis
func (v *Viewer) MidSlice(axis int) (*image.Gray, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("invalid axis: %d (must be 0, 1, or 2)", axis)
	}
	return v.ExtractSlice(axis, v.vol.Shape[axis]/2)
}

// MaskSlice returns an opaque pixel for every voxel of the slice equal to
// label, or greater than zero for AnyLabel
func (v *Viewer) MaskSlice(axis, position, label int) (*image.Alpha, error) {
	rows, cols, err := v.checkPosition(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewAlpha(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			s := v.sample(axis, position, r, c)
			if (label == AnyLabel && s > 0) || (label != AnyLabel && int(math.Round(s)) == label) {
				img.SetAlpha(c, r, color.Alpha{A: 255})
			}
		}
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion of the given size starting at start.
// The affine of the region is shifted so that world coordinates are preserved.
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	for a := 0; a < 3; a++ {
		if start[a] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[a] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[a]+size[a] > v.vol.Shape[a] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	region := models.NewVolume(size, v.vol.DataType)
	for i := 0; i < size[0]; i++ {
		for j := 0; j < size[1]; j++ {
			src := v.vol.Index(start[0]+i, start[1]+j, start[2])
			dst := region.Index(i, j, 0)
			copy(region.Data[dst:dst+size[2]], v.vol.Data[src:src+size[2]])
		}
	}

	offset := mat.NewVecDense(4, []float64{float64(start[0]), float64(start[1]), float64(start[2]), 1})
	var origin mat.VecDense
	origin.MulVec(v.vol.Affine, offset)
	region.Affine = mat.DenseCopyOf(v.vol.Affine)
	for r := 0; r < 3; r++ {
		region.Affine.Set(r, 3, origin.AtVec(r))
	}
	return region, nil
}

// SaveSliceSequence writes every slice along axis as a PNG image in outputDir
func (v *Viewer) SaveSliceSequence(axis int, outputDir string) error {
	if _, _, err := v.planeShape(axis); err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.vol.Shape[axis]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%d_%03d.png", axis, pos))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}

	return nil
}
