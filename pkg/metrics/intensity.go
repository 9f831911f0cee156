package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mrivolumes/internal/models"
)

// Intensity holds similarity measures between two intensity volumes.
type Intensity struct {
	// RMSE is the root mean square voxel difference
	RMSE float64

	// MI is a Gaussian approximation of the mutual information
	MI float64

	// SSIM is the global structural similarity index
	SSIM float64

	// EntropyDiff is the absolute difference of the 256-bin Shannon entropies
	EntropyDiff float64
}

// CompareIntensity computes the intensity similarity of two volumes on the same grid.
func CompareIntensity(a, b *models.Volume) (*Intensity, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	return &Intensity{
		RMSE:        RMSE(a.Data, b.Data),
		MI:          MutualInformation(a.Data, b.Data),
		SSIM:        SSIM(a.Data, b.Data),
		EntropyDiff: EntropyDifference(a.Data, b.Data),
	}, nil
}

// MutualInformation approximates the mutual information of two samples
// assuming they are jointly Gaussian:
// MI = 0.5 * log(var(X) * var(Y) / (var(X) * var(Y) - cov(X,Y)^2)).
// Perfectly correlated samples give +Inf.
func MutualInformation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}
	varX := stat.PopVariance(x, nil)
	varY := stat.PopVariance(y, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}
	covar := stat.Covariance(x, y, nil) * float64(len(x)-1) / float64(len(x))
	determinant := varX*varY - covar*covar
	if determinant <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/determinant)
}

// RMSE computes the root mean square error
func RMSE(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}
	return floats.Distance(x, y, 2) / math.Sqrt(float64(len(x)))
}

// SSIM computes the global Structural Similarity Index, using the joint
// intensity range of both samples as the dynamic range.
func SSIM(x, y []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	if len(x) != len(y) || len(x) < 2 {
		return 0
	}

	L := math.Max(floats.Max(x), floats.Max(y)) - math.Min(floats.Min(x), floats.Min(y))
	if L == 0 {
		return 1
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	return num / den
}

// EntropyDifference computes the absolute entropy difference
func EntropyDifference(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}
	return math.Abs(Entropy(x) - Entropy(y))
}

// Entropy computes the Shannon entropy, in bits, of a 256-bin histogram of data
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	min, max := floats.Min(data), floats.Max(data)
	if max <= min {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (max - min) / numBins
	for _, v := range data {
		bin := int((v - min) / binWidth)
		if bin >= numBins {
			bin = numBins - 1
		} else if bin < 0 {
			bin = 0
		}
		hist[bin]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
