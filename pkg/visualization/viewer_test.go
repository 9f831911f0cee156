package visualization

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrivolumes/internal/models"
)

// gradientVolume creates a (4,6,8) volume whose value grows along the first axis
func gradientVolume() *models.Volume {
	vol := models.NewVolume([3]int{4, 6, 8}, models.Float32)
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			for k := 0; k < 8; k++ {
				vol.Set(i, j, k, float64(i*10))
			}
		}
	}
	return vol
}

// TestExtractSlice verifies slice dimensions and grayscale normalisation
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(gradientVolume())

	img, err := viewer.ExtractSlice(0, 3)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	assert.Equal(t, uint8(255), img.GrayAt(2, 2).Y)

	img, err = viewer.ExtractSlice(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.GrayAt(2, 2).Y)

	img, err = viewer.ExtractSlice(1, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
	assert.Equal(t, uint8(85), img.GrayAt(0, 1).Y)

	img, err = viewer.MidSlice(2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())

	_, err = viewer.ExtractSlice(3, 0)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice(2, 8)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice(2, -1)
	assert.Error(t, err)
}

// TestExtractSliceConstant verifies that a flat volume renders black
func TestExtractSliceConstant(t *testing.T) {
	vol := models.NewVolume([3]int{2, 2, 2}, models.Uint8)
	for i := range vol.Data {
		vol.Data[i] = 7
	}
	img, err := NewViewer(vol).ExtractSlice(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.GrayAt(1, 1).Y)
}

// TestMaskSlice verifies label selection
func TestMaskSlice(t *testing.T) {
	vol := models.NewVolume([3]int{1, 2, 3}, models.Uint8)
	copy(vol.Data, []float64{0, 1, 2, 1, 0, 2})
	viewer := NewViewer(vol)

	gm, err := viewer.MaskSlice(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), gm.AlphaAt(1, 0).A)
	assert.Equal(t, uint8(255), gm.AlphaAt(0, 1).A)
	assert.Equal(t, uint8(0), gm.AlphaAt(2, 0).A)

	resized := models.NewVolume([3]int{1, 1, 2}, models.Float32)
	copy(resized.Data, []float64{1.9, 1.4})
	rounded, err := NewViewer(resized).MaskSlice(0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), rounded.AlphaAt(0, 0).A)
	assert.Equal(t, uint8(0), rounded.AlphaAt(1, 0).A)

	fg, err := viewer.MaskSlice(0, 0, AnyLabel)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), fg.AlphaAt(2, 0).A)
	assert.Equal(t, uint8(0), fg.AlphaAt(0, 0).A)
}

// TestExtractRegion verifies that 3D regions are correctly extracted
func TestExtractRegion(t *testing.T) {
	vol := models.NewVolume([3]int{5, 10, 10}, models.Float32)
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	vol.Affine = models.DiagonalAffine([3]float64{2, 1, 1})
	viewer := NewViewer(vol)

	region, err := viewer.ExtractRegion([3]int{1, 3, 2}, [3]int{2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 3, 4}, region.Shape)

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, vol.At(1+i, 3+j, 2+k), region.At(i, j, k))
			}
		}
	}
	assert.Equal(t, 2.0, region.Affine.At(0, 3))
	assert.Equal(t, 3.0, region.Affine.At(1, 3))
	assert.Equal(t, 2.0, region.Affine.At(2, 3))

	_, err = viewer.ExtractRegion([3]int{-1, 0, 0}, [3]int{1, 1, 1})
	assert.Error(t, err)
	_, err = viewer.ExtractRegion([3]int{0, 0, 0}, [3]int{0, 1, 1})
	assert.Error(t, err)
	_, err = viewer.ExtractRegion([3]int{4, 0, 0}, [3]int{2, 1, 1})
	assert.Error(t, err)
}

// TestSaveSliceSequence verifies that one PNG is written per slice
func TestSaveSliceSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "slices")
	viewer := NewViewer(gradientVolume())

	require.NoError(t, viewer.SaveSliceSequence(0, dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.FileExists(t, filepath.Join(dir, "slice_0_003.png"))

	assert.Error(t, viewer.SaveSliceSequence(5, dir))
}

// TestSaveComparison verifies panel layout, tinting and non-overwriting file names
func TestSaveComparison(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(gradientVolume())

	base, err := viewer.MidSlice(0)
	require.NoError(t, err)
	mask := image.NewAlpha(base.Bounds())
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	panels := []Panel{
		{Title: "MRI", Base: base},
		{Title: "Predicted GM", Base: base, Overlays: []Overlay{{Mask: mask, Color: PredictionColor}}},
		{Title: "Ground truth GM", Base: base, Overlays: []Overlay{{Mask: mask, Color: TruthColor}}},
	}

	first, err := SaveComparison(dir, "gm_comparison", panels, 32)
	require.NoError(t, err)
	second, err := SaveComparison(dir, "gm_comparison", panels, 32)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "gm_comparison_1.png"), first)
	assert.Equal(t, filepath.Join(dir, "gm_comparison_2.png"), second)

	f, err := os.Open(first)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 96, 32+titleHeight), img.Bounds())

	// the prediction panel is tinted blue, the truth panel red
	r, _, b, _ := img.At(48, titleHeight+16).RGBA()
	assert.Greater(t, b, r)
	r, _, b, _ = img.At(80, titleHeight+16).RGBA()
	assert.Greater(t, r, b)

	_, err = Compose(nil, 32)
	assert.Error(t, err)
	_, err = Compose(panels, 0)
	assert.Error(t, err)
}

// TestSavePNGLeavesOnlyTarget verifies that no temporary files remain next to
// a saved image and that an unwritable directory is reported
func TestSavePNGLeavesOnlyTarget(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 4, 4))

	require.NoError(t, SavePNG(img, filepath.Join(dir, "a.png")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.png", entries[0].Name())

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	assert.Error(t, SavePNG(img, filepath.Join(blocker, "b.png")))
}

// TestSegmentationPanels verifies the scan and label panels of a segmentation figure
func TestSegmentationPanels(t *testing.T) {
	scan := gradientVolume()
	labels := models.NewVolume(scan.Shape, models.Uint8)
	labels.Set(2, 1, 3, 1)
	labels.Set(2, 4, 4, 2)

	panels, err := SegmentationPanels(scan, labels, 0, 1, "GM")
	require.NoError(t, err)
	require.Len(t, panels, 2)
	assert.Equal(t, "Original Scan", panels[0].Title)
	assert.Equal(t, "Segmentation (GM Only)", panels[1].Title)
	require.Len(t, panels[1].Overlays, 1)

	mask := panels[1].Overlays[0].Mask
	assert.Equal(t, uint8(255), mask.AlphaAt(3, 1).A)
	assert.Equal(t, uint8(0), mask.AlphaAt(4, 4).A)
	assert.Equal(t, PredictionColor, panels[1].Overlays[0].Color)

	path, err := SaveComparison(t.TempDir(), "segmentation_result", panels, 32)
	require.NoError(t, err)
	assert.Equal(t, "segmentation_result_1.png", filepath.Base(path))

	_, err = SegmentationPanels(scan, models.NewVolume([3]int{1, 1, 1}, models.Uint8), 0, 1, "GM")
	assert.Error(t, err)
	_, err = SegmentationPanels(scan, labels, 3, 1, "GM")
	assert.Error(t, err)
}

// TestComparisonPanels verifies overlay colours of a prediction and truth figure
func TestComparisonPanels(t *testing.T) {
	scan := gradientVolume()
	pred := models.NewVolume(scan.Shape, models.Uint8)
	truth := models.NewVolume(scan.Shape, models.Uint8)
	pred.Set(2, 0, 0, 1)
	truth.Set(2, 0, 1, 1)

	panels, err := ComparisonPanels(scan, pred, truth, 0, 1, "GM")
	require.NoError(t, err)
	require.Len(t, panels, 3)
	assert.Equal(t, PredictionColor, panels[1].Overlays[0].Color)
	assert.Equal(t, TruthColor, panels[2].Overlays[0].Color)
	assert.Equal(t, uint8(255), panels[1].Overlays[0].Mask.AlphaAt(0, 0).A)
	assert.Equal(t, uint8(255), panels[2].Overlays[0].Mask.AlphaAt(1, 0).A)
}
