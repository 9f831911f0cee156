package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mrivolumes/internal/models"
)

// axisMap holds, for every output index along one axis, the two input
// neighbours and the weight of the upper one.
type axisMap struct {
	lo, hi []int
	w      []float64
}

// newAxisMap maps n output samples onto n_in input samples with the end
// points aligned: in = out * (n_in - 1) / (n_out - 1).
func newAxisMap(nIn, nOut int) axisMap {
	m := axisMap{
		lo: make([]int, nOut),
		hi: make([]int, nOut),
		w:  make([]float64, nOut),
	}
	scale := 0.0
	if nOut > 1 {
		scale = float64(nIn-1) / float64(nOut-1)
	}
	for o := 0; o < nOut; o++ {
		x := float64(o) * scale
		lo := int(math.Floor(x))
		if lo > nIn-1 {
			lo = nIn - 1
		}
		hi := lo + 1
		if hi > nIn-1 {
			hi = nIn - 1
		}
		m.lo[o] = lo
		m.hi[o] = hi
		m.w[o] = x - float64(lo)
	}
	return m
}

// ZoomShape returns the output shape for the given zoom factors.
func ZoomShape(shape [3]int, factors [3]float64) [3]int {
	var out [3]int
	for i := range shape {
		out[i] = int(math.Round(float64(shape[i]) * factors[i]))
		if out[i] < 1 {
			out[i] = 1
		}
	}
	return out
}

// Zoom resamples a volume by per-axis factors with trilinear interpolation.
// The affine and datatype are copied unchanged; callers adjust them.
func Zoom(vol *models.Volume, factors [3]float64) (*models.Volume, error) {
	for i, f := range factors {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("zoom factor %d must be positive and finite, got %g", i, f)
		}
	}
	return resampleTo(vol, ZoomShape(vol.Shape, factors)), nil
}

func resampleTo(vol *models.Volume, shape [3]int) *models.Volume {
	out := &models.Volume{
		Data:     make([]float64, shape[0]*shape[1]*shape[2]),
		Shape:    shape,
		Affine:   mat.DenseCopyOf(vol.Affine),
		DataType: vol.DataType,
	}
	if shape == vol.Shape {
		copy(out.Data, vol.Data)
		return out
	}

	mi := newAxisMap(vol.Shape[0], shape[0])
	mj := newAxisMap(vol.Shape[1], shape[1])
	mk := newAxisMap(vol.Shape[2], shape[2])

	pos := 0
	for i := 0; i < shape[0]; i++ {
		i0, i1, wi := mi.lo[i], mi.hi[i], mi.w[i]
		for j := 0; j < shape[1]; j++ {
			j0, j1, wj := mj.lo[j], mj.hi[j], mj.w[j]
			for k := 0; k < shape[2]; k++ {
				k0, k1, wk := mk.lo[k], mk.hi[k], mk.w[k]

				c00 := lerp(vol.At(i0, j0, k0), vol.At(i0, j0, k1), wk)
				c01 := lerp(vol.At(i0, j1, k0), vol.At(i0, j1, k1), wk)
				c10 := lerp(vol.At(i1, j0, k0), vol.At(i1, j0, k1), wk)
				c11 := lerp(vol.At(i1, j1, k0), vol.At(i1, j1, k1), wk)

				out.Data[pos] = lerp(lerp(c00, c01, wj), lerp(c10, c11, wj), wi)
				pos++
			}
		}
	}
	return out
}

func lerp(a, b, w float64) float64 {
	if w == 0 {
		return a
	}
	return a + (b-a)*w
}

// ResampleIsotropic resamples a volume so every voxel is spacing mm wide.
// The current spacing is read from the affine diagonal; the diagonal of the
// returned affine is sign(old) * spacing and the other entries are kept.
func ResampleIsotropic(vol *models.Volume, spacing float64) (*models.Volume, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("target spacing must be positive, got %g", spacing)
	}

	current := vol.Spacing()
	var factors [3]float64
	for i, s := range current {
		if s == 0 {
			return nil, fmt.Errorf("affine has zero spacing on axis %d", i)
		}
		factors[i] = s / spacing
	}

	out, err := Zoom(vol, factors)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		sign := 1.0
		if vol.Affine.At(i, i) < 0 {
			sign = -1
		}
		out.Affine.Set(i, i, sign*spacing)
	}
	return out, nil
}

// PadOrCrop centres a volume in a grid of the target shape, cropping axes
// that are too long and zero-padding axes that are too short.
func PadOrCrop(vol *models.Volume, shape [3]int) (*models.Volume, error) {
	for i, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("target shape axis %d must be positive, got %d", i, n)
		}
	}

	out := &models.Volume{
		Data:     make([]float64, shape[0]*shape[1]*shape[2]),
		Shape:    shape,
		Affine:   mat.DenseCopyOf(vol.Affine),
		DataType: vol.DataType,
	}

	var cropStart, insertStart, span [3]int
	for a := 0; a < 3; a++ {
		cur, tgt := vol.Shape[a], shape[a]
		if cur > tgt {
			cropStart[a] = (cur - tgt) / 2
			span[a] = tgt
		} else {
			span[a] = cur
		}
		insertStart[a] = (tgt - span[a]) / 2
	}

	for i := 0; i < span[0]; i++ {
		for j := 0; j < span[1]; j++ {
			src := vol.Index(cropStart[0]+i, cropStart[1]+j, cropStart[2])
			dst := out.Index(insertStart[0]+i, insertStart[1]+j, insertStart[2])
			copy(out.Data[dst:dst+span[2]], vol.Data[src:src+span[2]])
		}
	}
	return out, nil
}

// ResizeToShape resamples a volume to exactly the target shape using
// per-axis factors target/current. The affine is kept as is.
func ResizeToShape(vol *models.Volume, shape [3]int) (*models.Volume, error) {
	for i, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("target shape axis %d must be positive, got %d", i, n)
		}
	}
	return resampleTo(vol, shape), nil
}

// Canonicalize resamples a volume to an isotropic grid and then centres it
// in the target shape.
func Canonicalize(vol *models.Volume, shape [3]int, spacing float64) (*models.Volume, error) {
	iso, err := ResampleIsotropic(vol, spacing)
	if err != nil {
		return nil, err
	}
	return PadOrCrop(iso, shape)
}
