package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"mrivolumes/internal/models"
)

// Point3D is a voxel centre in physical coordinates
type Point3D struct {
	X, Y, Z float64
}

// Compare implements the kdtree.Comparable interface
func (p Point3D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point3D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point3D) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p Point3D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point3D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Points3D is a collection of Point3D that satisfies kdtree.Interface
type Points3D []Point3D

func (p Points3D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points3D) Len() int                              { return len(p) }
func (p Points3D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points3D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points3D: p, Dim: d}, kdtree.MedianOfMedians(pointPlane{Points3D: p, Dim: d}))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points3D
type pointPlane struct {
	Points3D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points3D[i].X < p.Points3D[j].X
	case 1:
		return p.Points3D[i].Y < p.Points3D[j].Y
	case 2:
		return p.Points3D[i].Z < p.Points3D[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points3D: p.Points3D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points3D[i], p.Points3D[j] = p.Points3D[j], p.Points3D[i]
}

// SurfaceDistance holds symmetric distances between two mask surfaces, in
// the units of the voxel spacing.
type SurfaceDistance struct {
	Hausdorff   float64
	Hausdorff95 float64

	// MeanSurface is the mean of all directed surface distances
	MeanSurface float64
}

// CompareSurfaces measures the distance between the surfaces of a label in
// two volumes. Voxel centres are scaled by the spacing of the truth.
func CompareSurfaces(pred, truth *models.Volume, label int) (*SurfaceDistance, error) {
	if !pred.SameShape(truth) {
		return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, pred.Shape, truth.Shape)
	}
	spacing := truth.Spacing()
	ps := surfacePoints(Binarize(pred, label), truth.Shape, spacing)
	ts := surfacePoints(Binarize(truth, label), truth.Shape, spacing)
	if len(ps) == 0 || len(ts) == 0 {
		return nil, ErrEmptyMask
	}

	forward := directedDistances(ps, ts)
	backward := directedDistances(ts, ps)
	all := append(forward, backward...)
	sort.Float64s(all)

	return &SurfaceDistance{
		Hausdorff:   all[len(all)-1],
		Hausdorff95: stat.Quantile(0.95, stat.LinInterp, all, nil),
		MeanSurface: stat.Mean(all, nil),
	}, nil
}

// directedDistances returns, for every point of from, the distance to the
// closest point of to.
func directedDistances(from, to Points3D) []float64 {
	tree := kdtree.New(to, false)
	out := make([]float64, len(from))
	for i, p := range from {
		_, d := tree.Nearest(p)
		out[i] = math.Sqrt(d)
	}
	return out
}

// surfacePoints returns the foreground voxels that touch the background or
// the edge of the grid along one of the six axis directions.
func surfacePoints(mask []bool, shape [3]int, spacing [3]float64) Points3D {
	n0, n1, n2 := shape[0], shape[1], shape[2]
	at := func(i, j, k int) bool {
		if i < 0 || j < 0 || k < 0 || i >= n0 || j >= n1 || k >= n2 {
			return false
		}
		return mask[(i*n1+j)*n2+k]
	}

	var pts Points3D
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			for k := 0; k < n2; k++ {
				if !at(i, j, k) {
					continue
				}
				if at(i-1, j, k) && at(i+1, j, k) &&
					at(i, j-1, k) && at(i, j+1, k) &&
					at(i, j, k-1) && at(i, j, k+1) {
					continue
				}
				pts = append(pts, Point3D{
					X: float64(i) * spacing[0],
					Y: float64(j) * spacing[1],
					Z: float64(k) * spacing[2],
				})
			}
		}
	}
	return pts
}
