package reconstruction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"mrivolumes/internal/models"
	"mrivolumes/pkg/interpolation"
	"mrivolumes/pkg/nifti"
)

// VolumeTransform maps a volume onto a new one.
type VolumeTransform func(vol *models.Volume) (*models.Volume, error)

// IsotropicTransform resamples to an isotropic grid of the given spacing and
// centres the result in shape.
func IsotropicTransform(shape [3]int, spacing float64) VolumeTransform {
	return func(vol *models.Volume) (*models.Volume, error) {
		return interpolation.Canonicalize(vol, shape, spacing)
	}
}

// ResizeTransform resamples to exactly shape, keeping the affine.
func ResizeTransform(shape [3]int) VolumeTransform {
	return func(vol *models.Volume) (*models.Volume, error) {
		return interpolation.ResizeToShape(vol, shape)
	}
}

// BatchResult is the outcome for one input volume.
type BatchResult struct {
	InputPath  string
	OutputPath string
	InShape    [3]int
	OutShape   [3]int
	Bytes      int64

	// Skipped is set for inputs that are not 3D images
	Skipped bool
	Err     error
}

// BatchSummary collects the results of a batch run.
type BatchSummary struct {
	Results []BatchResult
}

// Count returns the number of written, skipped and failed inputs.
func (b *BatchSummary) Count() (written, skipped, failed int) {
	for _, r := range b.Results {
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			failed++
		default:
			written++
		}
	}
	return written, skipped, failed
}

// ProcessVolumes applies transform to every .nii and .nii.gz file directly
// inside inputDir and writes each result to outputDir under the same name.
// Inputs that are not 3D are skipped with a warning; other per-file failures
// are recorded and the batch continues.
func ProcessVolumes(inputDir, outputDir string, transform VolumeTransform, logger *log.Logger) (*BatchSummary, error) {
	if logger == nil {
		logger = log.New()
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && nifti.IsVolumeFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	summary := &BatchSummary{}
	for _, name := range names {
		result := processVolume(filepath.Join(inputDir, name), filepath.Join(outputDir, name), transform)
		entry := logger.WithField("path", result.InputPath)
		switch {
		case result.Skipped:
			entry.WithField("error", result.Err).Warn("Skipping volume that is not 3D")
		case result.Err != nil:
			entry.WithField("error", result.Err).Error("Failed to transform volume")
		default:
			entry.WithFields(log.Fields{
				"output": result.OutputPath,
				"from":   result.InShape,
				"to":     result.OutShape,
				"size":   humanize.Bytes(uint64(result.Bytes)),
			}).Info("Saved volume")
		}
		summary.Results = append(summary.Results, result)
	}

	written, skipped, failed := summary.Count()
	logger.WithFields(log.Fields{
		"inputDir": inputDir,
		"written":  written,
		"skipped":  skipped,
		"failed":   failed,
	}).Info("Batch finished")

	return summary, nil
}

func processVolume(in, out string, transform VolumeTransform) BatchResult {
	result := BatchResult{InputPath: in}

	vol, err := nifti.ReadFile(in)
	if err != nil {
		result.Err = err
		result.Skipped = errors.Is(err, nifti.ErrNot3D)
		return result
	}
	result.InShape = vol.Shape

	transformed, err := transform(vol)
	if err != nil {
		result.Err = err
		return result
	}
	result.OutShape = transformed.Shape

	if err := nifti.WriteFile(out, transformed); err != nil {
		result.Err = &FileError{Kind: ErrIOWrite, Path: out, Err: err}
		return result
	}
	result.OutputPath = out
	if info, err := os.Stat(out); err == nil {
		result.Bytes = info.Size()
	}
	return result
}
