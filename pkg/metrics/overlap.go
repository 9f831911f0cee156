// Package metrics compares a predicted segmentation with a ground truth and
// two intensity volumes with each other.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"mrivolumes/internal/models"
)

// AnyLabel selects every voxel greater than zero.
const AnyLabel = -1

var (
	// ErrShapeMismatch is returned when the compared volumes differ in shape.
	ErrShapeMismatch = errors.New("volumes differ in shape")

	// ErrEmptyMask is returned when a distance needs a foreground that is empty.
	ErrEmptyMask = errors.New("mask has no foreground voxels")
)

// Overlap holds voxel counts and overlap scores for one label.
type Overlap struct {
	TruePositive  int
	FalsePositive int
	FalseNegative int
	TrueNegative  int

	// Dice is 2|P∩T| / (|P|+|T|); 1 when both masks are empty
	Dice float64

	// Jaccard is |P∩T| / |P∪T|; 1 when both masks are empty
	Jaccard float64

	// PredictedVolume and TruthVolume are in cubic millimetres
	PredictedVolume float64
	TruthVolume     float64

	// VolumeDifference is (predicted - truth) / truth; 0 when the truth is empty
	VolumeDifference float64
}

// Binarize returns the voxels whose value rounds to label, or greater than
// zero for AnyLabel. Rounding matches labels interpolated by a resize.
func Binarize(vol *models.Volume, label int) []bool {
	mask := make([]bool, len(vol.Data))
	for i, v := range vol.Data {
		if label == AnyLabel {
			mask[i] = v > 0
		} else {
			mask[i] = int(math.Round(v)) == label
		}
	}
	return mask
}

// CompareMasks computes the overlap of a label between a prediction and the truth.
// Voxel volume is taken from the spacing of the truth.
func CompareMasks(pred, truth *models.Volume, label int) (*Overlap, error) {
	if !pred.SameShape(truth) {
		return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, pred.Shape, truth.Shape)
	}

	p := Binarize(pred, label)
	t := Binarize(truth, label)

	o := &Overlap{}
	for i := range p {
		switch {
		case p[i] && t[i]:
			o.TruePositive++
		case p[i]:
			o.FalsePositive++
		case t[i]:
			o.FalseNegative++
		default:
			o.TrueNegative++
		}
	}

	predCount := o.TruePositive + o.FalsePositive
	truthCount := o.TruePositive + o.FalseNegative
	union := o.TruePositive + o.FalsePositive + o.FalseNegative

	if predCount+truthCount == 0 {
		o.Dice = 1
		o.Jaccard = 1
	} else {
		o.Dice = 2 * float64(o.TruePositive) / float64(predCount+truthCount)
		o.Jaccard = float64(o.TruePositive) / float64(union)
	}

	s := truth.Spacing()
	voxel := s[0] * s[1] * s[2]
	o.PredictedVolume = float64(predCount) * voxel
	o.TruthVolume = float64(truthCount) * voxel
	if truthCount > 0 {
		o.VolumeDifference = float64(predCount-truthCount) / float64(truthCount)
	}
	return o, nil
}

// Precision returns TP / (TP + FP), or 0 without predicted voxels.
func (o *Overlap) Precision() float64 {
	if o.TruePositive+o.FalsePositive == 0 {
		return 0
	}
	return float64(o.TruePositive) / float64(o.TruePositive+o.FalsePositive)
}

// Recall returns TP / (TP + FN), or 0 without truth voxels.
func (o *Overlap) Recall() float64 {
	if o.TruePositive+o.FalseNegative == 0 {
		return 0
	}
	return float64(o.TruePositive) / float64(o.TruePositive+o.FalseNegative)
}
