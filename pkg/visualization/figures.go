package visualization

import (
	"fmt"

	"mrivolumes/internal/models"
)

// midSlices returns the mid slice of a scan along axis and the mask of label
// in each label volume at the same position.
func midSlices(scan *models.Volume, axis, label int, labels ...*models.Volume) (*Viewer, int, []Overlay, error) {
	if axis < 0 || axis > 2 {
		return nil, 0, nil, fmt.Errorf("axis must be 0, 1 or 2, got %d", axis)
	}
	for _, l := range labels {
		if !scan.SameShape(l) {
			return nil, 0, nil, fmt.Errorf("label volume shape %v differs from scan shape %v", l.Shape, scan.Shape)
		}
	}
	pos := scan.Shape[axis] / 2
	overlays := make([]Overlay, len(labels))
	for i, l := range labels {
		mask, err := NewViewer(l).MaskSlice(axis, pos, label)
		if err != nil {
			return nil, 0, nil, err
		}
		overlays[i] = Overlay{Mask: mask}
	}
	return NewViewer(scan), pos, overlays, nil
}

// SegmentationPanels shows the mid slice of a scan next to the same slice
// with one label of its segmentation tinted.
func SegmentationPanels(scan, labels *models.Volume, axis, label int, labelName string) ([]Panel, error) {
	viewer, pos, overlays, err := midSlices(scan, axis, label, labels)
	if err != nil {
		return nil, err
	}
	base, err := viewer.ExtractSlice(axis, pos)
	if err != nil {
		return nil, err
	}
	overlays[0].Color = PredictionColor
	return []Panel{
		{Title: "Original Scan", Base: base},
		{Title: fmt.Sprintf("Segmentation (%s Only)", labelName), Base: base, Overlays: overlays},
	}, nil
}

// ComparisonPanels shows the mid slice of a scan, the predicted mask of a
// label in blue and the ground truth mask in red.
func ComparisonPanels(scan, pred, truth *models.Volume, axis, label int, labelName string) ([]Panel, error) {
	viewer, pos, overlays, err := midSlices(scan, axis, label, pred, truth)
	if err != nil {
		return nil, err
	}
	base, err := viewer.ExtractSlice(axis, pos)
	if err != nil {
		return nil, err
	}
	overlays[0].Color = PredictionColor
	overlays[1].Color = TruthColor
	return []Panel{
		{Title: "MRI", Base: base},
		{Title: "Predicted " + labelName, Base: base, Overlays: overlays[:1]},
		{Title: "Ground truth " + labelName, Base: base, Overlays: overlays[1:]},
	}, nil
}
