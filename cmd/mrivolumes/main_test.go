package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrivolumes/internal/models"
	"mrivolumes/pkg/metrics"
	"mrivolumes/pkg/segmentation"
)

// TestWriteReport verifies the printed confusion counts and the relative
// volume difference
func TestWriteReport(t *testing.T) {
	truth := models.NewVolume([3]int{1, 4, 4}, models.Uint8)
	pred := models.NewVolume([3]int{1, 4, 4}, models.Uint8)
	for k := 0; k < 2; k++ {
		truth.Set(0, 1, k, 1)
	}
	for k := 0; k < 3; k++ {
		pred.Set(0, 1, k, 1)
	}

	report, err := metrics.Compare(pred, truth, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	writeReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "TP 2  FP 1  FN 0  TN 13")
	assert.Contains(t, out, "Volume predicted 3.0 mm3, truth 2.0 mm3, difference +50.00%")
	assert.Contains(t, out, "Hausdorff:")

	empty := models.NewVolume([3]int{1, 4, 4}, models.Uint8)
	report, err = metrics.Compare(empty, empty, 1)
	require.NoError(t, err)
	buf.Reset()
	writeReport(&buf, report)
	assert.Contains(t, buf.String(), "Surface distances: n/a (empty mask)")
}

// TestLabelTitle verifies the names used in figure and report titles
func TestLabelTitle(t *testing.T) {
	assert.Equal(t, "GM", labelTitle(segmentation.GM))
	assert.Equal(t, "foreground", labelTitle(metrics.AnyLabel))
}

// TestApplyString verifies that empty overrides keep the configured value
func TestApplyString(t *testing.T) {
	v := "nifti_output"
	applyString(&v, "")
	assert.Equal(t, "nifti_output", v)
	applyString(&v, "out")
	assert.Equal(t, "out", v)
}
