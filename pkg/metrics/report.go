package metrics

import (
	"errors"

	"mrivolumes/internal/models"
)

// Report combines the overlap and surface distances of one label.
type Report struct {
	Label   int
	Overlap *Overlap

	// Surface is nil when either mask is empty
	Surface *SurfaceDistance
}

// Compare builds the report for label between a prediction and the truth.
func Compare(pred, truth *models.Volume, label int) (*Report, error) {
	overlap, err := CompareMasks(pred, truth, label)
	if err != nil {
		return nil, err
	}
	report := &Report{Label: label, Overlap: overlap}

	surface, err := CompareSurfaces(pred, truth, label)
	switch {
	case errors.Is(err, ErrEmptyMask):
	case err != nil:
		return nil, err
	default:
		report.Surface = surface
	}
	return report, nil
}
