package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrivolumes/internal/models"
)

// cubeVolume returns a label volume with a cube of the given label starting at offset
func cubeVolume(shape [3]int, offset [3]int, size, label int, spacing [3]float64) *models.Volume {
	vol := models.NewVolume(shape, models.Uint8)
	vol.Affine = models.DiagonalAffine(spacing)
	for i := offset[0]; i < offset[0]+size; i++ {
		for j := offset[1]; j < offset[1]+size; j++ {
			for k := offset[2]; k < offset[2]+size; k++ {
				vol.Set(i, j, k, float64(label))
			}
		}
	}
	return vol
}

// TestCompareMasksIdentical verifies that identical masks score 1
func TestCompareMasksIdentical(t *testing.T) {
	a := cubeVolume([3]int{8, 8, 8}, [3]int{2, 2, 2}, 3, 1, [3]float64{1, 1, 1})
	o, err := CompareMasks(a, a.Clone(), 1)
	require.NoError(t, err)
	assert.Equal(t, 27, o.TruePositive)
	assert.Equal(t, 0, o.FalsePositive)
	assert.Equal(t, 0, o.FalseNegative)
	assert.Equal(t, 512-27, o.TrueNegative)
	assert.Equal(t, 1.0, o.Dice)
	assert.Equal(t, 1.0, o.Jaccard)
	assert.Equal(t, 0.0, o.VolumeDifference)
	assert.Equal(t, 1.0, o.Precision())
	assert.Equal(t, 1.0, o.Recall())
}

// TestBinarizeRoundsLabels verifies that interpolated label values map to the
// nearest class
func TestBinarizeRoundsLabels(t *testing.T) {
	vol := models.NewVolume([3]int{1, 1, 5}, models.Float32)
	copy(vol.Data, []float64{0.4, 0.6, 1.4, 1.9, 2.2})

	assert.Equal(t, []bool{false, true, true, false, false}, Binarize(vol, 1))
	assert.Equal(t, []bool{false, false, false, true, true}, Binarize(vol, 2))
	assert.Equal(t, []bool{true, false, false, false, false}, Binarize(vol, 0))
	assert.Equal(t, []bool{true, true, true, true, true}, Binarize(vol, AnyLabel))
}

// TestCompareMasksDisjoint verifies that disjoint masks score 0
func TestCompareMasksDisjoint(t *testing.T) {
	a := cubeVolume([3]int{8, 8, 8}, [3]int{0, 0, 0}, 2, 2, [3]float64{2, 1, 1})
	b := cubeVolume([3]int{8, 8, 8}, [3]int{5, 5, 5}, 2, 2, [3]float64{2, 1, 1})
	o, err := CompareMasks(a, b, AnyLabel)
	require.NoError(t, err)
	assert.Equal(t, 0.0, o.Dice)
	assert.Equal(t, 0.0, o.Jaccard)
	assert.Equal(t, 16.0, o.PredictedVolume)
	assert.Equal(t, 16.0, o.TruthVolume)

	// label 1 is absent from both
	o, err = CompareMasks(a, b, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, o.Dice)
}

// TestCompareMasksPartial verifies Dice and Jaccard for a partial overlap
func TestCompareMasksPartial(t *testing.T) {
	pred := models.NewVolume([3]int{1, 1, 4}, models.Uint8)
	truth := models.NewVolume([3]int{1, 1, 4}, models.Uint8)
	copy(pred.Data, []float64{1, 1, 1, 0})
	copy(truth.Data, []float64{0, 1, 1, 0})

	o, err := CompareMasks(pred, truth, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, o.Dice, 1e-12)
	assert.InDelta(t, 2.0/3.0, o.Jaccard, 1e-12)
	assert.InDelta(t, 0.5, o.VolumeDifference, 1e-12)

	_, err = CompareMasks(pred, models.NewVolume([3]int{1, 2, 2}, models.Uint8), 1)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

// TestHausdorffShift verifies that a one-voxel shift gives the spacing along that axis
func TestHausdorffShift(t *testing.T) {
	spacing := [3]float64{1, 1, 2.5}
	a := cubeVolume([3]int{10, 10, 10}, [3]int{3, 3, 3}, 4, 1, spacing)
	b := cubeVolume([3]int{10, 10, 10}, [3]int{3, 3, 4}, 4, 1, spacing)

	d, err := CompareSurfaces(a, b, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, d.Hausdorff, 1e-12)
	assert.LessOrEqual(t, d.Hausdorff95, d.Hausdorff)
	assert.Greater(t, d.MeanSurface, 0.0)

	same, err := CompareSurfaces(a, a, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, same.Hausdorff)
	assert.Equal(t, 0.0, same.Hausdorff95)
}

// TestCompareReport verifies that an empty label yields overlap without distances
func TestCompareReport(t *testing.T) {
	a := cubeVolume([3]int{6, 6, 6}, [3]int{1, 1, 1}, 2, 2, [3]float64{1, 1, 1})

	r, err := Compare(a, a, 2)
	require.NoError(t, err)
	require.NotNil(t, r.Surface)
	assert.Equal(t, 1.0, r.Overlap.Dice)

	r, err = Compare(a, a, 1)
	require.NoError(t, err)
	assert.Nil(t, r.Surface)

	_, err = CompareSurfaces(a, a, 1)
	assert.True(t, errors.Is(err, ErrEmptyMask))
}

// TestIntensityMetrics verifies the intensity similarity measures
func TestIntensityMetrics(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{2, 3, 4, 5, 6, 7, 8, 9}

	assert.InDelta(t, 1.0, RMSE(x, y), 1e-12)
	assert.Equal(t, 0.0, RMSE(x, y[:3]))
	assert.InDelta(t, 1.0, SSIM(x, x), 1e-12)
	assert.Less(t, SSIM(x, y), 1.0)
	assert.True(t, math.IsInf(MutualInformation(x, y), 1))
	assert.Equal(t, 0.0, EntropyDifference(x, y))
	assert.InDelta(t, 3.0, Entropy(x), 1e-12)
	assert.Equal(t, 0.0, Entropy([]float64{5, 5, 5}))

	noisy := []float64{1, 3, 2, 5, 4, 7, 6, 8}
	mi := MutualInformation(x, noisy)
	assert.Greater(t, mi, 0.0)
	assert.False(t, math.IsInf(mi, 1))
}

// TestCompareIntensity verifies the volume level wrapper
func TestCompareIntensity(t *testing.T) {
	a := models.NewVolume([3]int{2, 2, 2}, models.Float32)
	b := models.NewVolume([3]int{2, 2, 2}, models.Float32)
	for i := range a.Data {
		a.Data[i] = float64(i)
		b.Data[i] = float64(i) + 3
	}

	got, err := CompareIntensity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got.RMSE, 1e-12)

	_, err = CompareIntensity(a, models.NewVolume([3]int{1, 1, 1}, models.Float32))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
