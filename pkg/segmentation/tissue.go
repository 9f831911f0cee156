package segmentation

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mrivolumes/internal/models"
)

// Tissue labels after relabelling by ascending mean intensity. Voxels outside
// the brain mask are also 0.
const (
	CSF = 0
	GM  = 1
	WM  = 2
)

// LabelName returns the tissue name of a label for three-class runs.
func LabelName(label int) string {
	switch label {
	case CSF:
		return "CSF"
	case GM:
		return "GM"
	case WM:
		return "WM"
	default:
		return fmt.Sprintf("class %d", label)
	}
}

// Params controls the segmentation.
type Params struct {
	// Clusters is the number of tissue classes
	Clusters int

	// Percentile of the positive intensities used as the automatic mask threshold
	Percentile float64

	// MaxIterations bounds the K-means refinement
	MaxIterations int
}

// DefaultParams returns three classes, a 10th percentile mask and at most 300 iterations.
func DefaultParams() Params {
	return Params{Clusters: 3, Percentile: 10, MaxIterations: 300}
}

// Result is a label volume with per-class statistics.
type Result struct {
	// Labels is a uint8 volume on the grid of the input
	Labels *models.Volume

	// Means are the class mean intensities, ascending
	Means []float64

	// Counts are the number of voxels in each class
	Counts []int

	// Threshold is the automatic mask threshold; zero for an external mask
	Threshold float64

	MaskVoxels int
	Iterations int
}

// AutoMask selects voxels brighter than the given percentile of the positive
// intensities. It returns the mask and the threshold used.
func AutoMask(vol *models.Volume, percentile float64) ([]bool, float64, error) {
	if percentile < 0 || percentile > 100 {
		return nil, 0, fmt.Errorf("percentile must be within [0, 100], got %g", percentile)
	}

	var positive []float64
	for _, v := range vol.Data {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return nil, 0, fmt.Errorf("%w: volume has no positive intensities", ErrNoSamples)
	}
	sort.Float64s(positive)
	threshold := stat.Quantile(percentile/100, stat.LinInterp, positive, nil)

	mask := make([]bool, len(vol.Data))
	for i, v := range vol.Data {
		mask[i] = v > threshold
	}
	return mask, threshold, nil
}

// MaskFromVolume treats every voxel of mask greater than zero as foreground.
func MaskFromVolume(mask *models.Volume, shape [3]int) ([]bool, error) {
	if mask.Shape != shape {
		return nil, fmt.Errorf("mask shape %v does not match image shape %v", mask.Shape, shape)
	}
	out := make([]bool, len(mask.Data))
	for i, v := range mask.Data {
		out[i] = v > 0
	}
	return out, nil
}

// SegmentTissue clusters the masked intensities of vol into tissue classes.
// When mask is nil the automatic percentile mask is used.
func SegmentTissue(vol *models.Volume, mask *models.Volume, params Params) (*Result, error) {
	if params.Clusters > 255 {
		return nil, fmt.Errorf("at most 255 classes fit a uint8 label volume, got %d", params.Clusters)
	}
	result := &Result{}

	var (
		selected []bool
		err      error
	)
	if mask != nil {
		selected, err = MaskFromVolume(mask, vol.Shape)
	} else {
		selected, result.Threshold, err = AutoMask(vol, params.Percentile)
	}
	if err != nil {
		return nil, err
	}

	var (
		values []float64
		index  []int
	)
	for i, in := range selected {
		if in {
			values = append(values, vol.Data[i])
			index = append(index, i)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: mask is empty", ErrNoSamples)
	}
	result.MaskVoxels = len(values)

	clustering, err := KMeans1D(zScore(values), params.Clusters, params.MaxIterations)
	if err != nil {
		return nil, err
	}
	result.Iterations = clustering.Iterations

	k := params.Clusters
	sums := make([]float64, k)
	counts := make([]int, k)
	for i, c := range clustering.Labels {
		sums[c] += values[i]
		counts[c]++
	}
	means := make([]float64, k)
	for c := range means {
		if counts[c] > 0 {
			means[c] = sums[c] / float64(counts[c])
		} else {
			means[c] = clustering.Centroids[c]*stdOf(values) + stat.Mean(values, nil)
		}
	}

	// relabel so that the darkest class is 0
	order := make([]int, k)
	sortedMeans := make([]float64, k)
	copy(sortedMeans, means)
	floats.Argsort(sortedMeans, order)
	rank := make([]int, k)
	for r, c := range order {
		rank[c] = r
	}

	labels := &models.Volume{
		Data:     make([]float64, len(vol.Data)),
		Shape:    vol.Shape,
		Affine:   mat.DenseCopyOf(vol.Affine),
		DataType: models.Uint8,
	}
	for i, c := range clustering.Labels {
		labels.Data[index[i]] = float64(rank[c])
	}

	result.Labels = labels
	result.Means = sortedMeans
	result.Counts = make([]int, k)
	for c, n := range counts {
		result.Counts[rank[c]] = n
	}
	return result, nil
}

// zScore standardises values with the population standard deviation.
func zScore(values []float64) []float64 {
	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		std = 1
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

func stdOf(values []float64) float64 {
	_, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		return 1
	}
	return std
}
