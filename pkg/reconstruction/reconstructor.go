package reconstruction

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"mrivolumes/internal/models"
	"mrivolumes/pkg/config"
	"mrivolumes/pkg/interpolation"
	"mrivolumes/pkg/nifti"
	"mrivolumes/pkg/series"
)

const maxSafeNameLen = 50

// SliceReader decodes the pixel data of a slice file.
type SliceReader interface {
	ReadSlice(path string) (models.Plane, error)
}

// Recorder receives the outcome of every group. The run manifest and the
// textfile metrics implement it.
type Recorder interface {
	RecordGroup(result GroupResult) error
}

// Params holds the assembly parameters.
type Params struct {
	// OutputDir receives one volume file per successful series; created if absent
	OutputDir string

	// Extension of the written files, .nii.gz compresses
	Extension string

	// Order is the sort strategy applied to each series (path, natural, instance)
	Order string

	// Transform selects the affine attached to the volume (identity, spacing, canonical)
	Transform string

	// Spacing is the voxel size used by the spacing transform
	Spacing [3]float64

	// TargetShape and TargetSpacing define the canonical grid
	TargetShape   [3]int
	TargetSpacing float64
}

// ParamsFromConfig copies the assembly settings out of a configuration.
func ParamsFromConfig(cfg *config.Config) *Params {
	return &Params{
		OutputDir:     cfg.Output.Dir,
		Extension:     cfg.Output.Extension,
		Order:         cfg.Assembly.Order,
		Transform:     cfg.Assembly.Transform,
		Spacing:       cfg.Assembly.Spacing,
		TargetShape:   cfg.Assembly.TargetShape,
		TargetSpacing: cfg.Assembly.TargetSpacing,
	}
}

// GroupResult is the outcome of assembling one series.
type GroupResult struct {
	// Sequence is the 1-based position of the series in discovery order
	Sequence int
	SeriesID string

	// Files is the number of files in the series before decoding
	Files int

	// Dropped lists files that failed to decode
	Dropped []*FileError

	Shape      [3]int
	OutputPath string
	Bytes      int64

	// Err is nil for a written volume, otherwise it matches one of the failure kinds
	Err error
}

// OK reports whether the group produced an output file.
func (g GroupResult) OK() bool {
	return g.Err == nil
}

// Status names the outcome: "ok" or the failure kind.
func (g GroupResult) Status() string {
	return statusOf(g.Err)
}

// Summary collects the results of a conversion run.
type Summary struct {
	Results []GroupResult

	// Skipped are files dropped during discovery
	Skipped []series.SkippedFile

	BytesWritten int64
	Duration     time.Duration
}

// Succeeded returns the number of groups that produced a file.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of aborted groups.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// DroppedFiles returns the number of files dropped for decode errors.
func (s *Summary) DroppedFiles() int {
	n := 0
	for _, r := range s.Results {
		n += len(r.Dropped)
	}
	return n
}

// Reconstructor turns grouped slice files into volume files.
type Reconstructor struct {
	params    *Params
	reader    SliceReader
	logger    *log.Logger
	recorders []Recorder
}

// NewReconstructor creates a reconstructor. A nil logger logs to stderr.
func NewReconstructor(params *Params, reader SliceReader, logger *log.Logger) *Reconstructor {
	if logger == nil {
		logger = log.New()
	}
	return &Reconstructor{
		params: params,
		reader: reader,
		logger: logger,
	}
}

// AddRecorder registers a recorder notified after every group.
func (r *Reconstructor) AddRecorder(rec Recorder) {
	r.recorders = append(r.recorders, rec)
}

// Process assembles every group of a discovery pass in order. A failing
// group is reported in its result and the run moves on to the next one.
func (r *Reconstructor) Process(grouping *series.Grouping) *Summary {
	start := time.Now()
	summary := &Summary{}
	if grouping != nil {
		summary.Skipped = grouping.Skipped
	}

	if grouping == nil || len(grouping.Groups) == 0 {
		r.logger.Info("No series found, nothing to convert")
		summary.Duration = time.Since(start)
		return summary
	}

	for i, group := range grouping.Groups {
		result := r.AssembleGroup(i+1, group)
		summary.Results = append(summary.Results, result)
		summary.BytesWritten += result.Bytes

		for _, rec := range r.recorders {
			if err := rec.RecordGroup(result); err != nil {
				r.logger.WithFields(log.Fields{
					"series": group.SeriesID,
					"error":  err,
				}).Warn("Failed to record series result")
			}
		}
	}

	summary.Duration = time.Since(start)
	r.logger.WithFields(log.Fields{
		"series":    len(summary.Results),
		"written":   summary.Succeeded(),
		"failed":    summary.Failed(),
		"dropped":   summary.DroppedFiles(),
		"skipped":   len(summary.Skipped),
		"bytes":     humanize.Bytes(uint64(summary.BytesWritten)),
		"duration":  summary.Duration.Round(time.Millisecond),
		"outputDir": r.params.OutputDir,
	}).Info("Conversion finished")

	return summary
}

// AssembleGroup builds and writes the volume of one series.
func (r *Reconstructor) AssembleGroup(seq int, group models.SeriesGroup) GroupResult {
	result := GroupResult{
		Sequence: seq,
		SeriesID: group.SeriesID,
		Files:    len(group.Files),
	}
	entry := r.logger.WithFields(log.Fields{
		"series":   group.SeriesID,
		"sequence": seq,
	})

	vol, dropped, err := r.Assemble(group)
	result.Dropped = dropped
	if err != nil {
		result.Err = err
		entry.WithField("error", err).Error("Series aborted")
		return result
	}
	result.Shape = vol.Shape

	path := filepath.Join(r.params.OutputDir, OutputName(seq, group.SeriesID, r.params.Extension))
	if err := nifti.WriteFile(path, vol); err != nil {
		result.Err = &FileError{Kind: ErrIOWrite, Path: path, Err: err}
		entry.WithField("error", result.Err).Error("Series aborted")
		return result
	}

	result.OutputPath = path
	if info, err := os.Stat(path); err == nil {
		result.Bytes = info.Size()
	}

	entry.WithFields(log.Fields{
		"path":    path,
		"shape":   fmt.Sprintf("%dx%dx%d", vol.Shape[0], vol.Shape[1], vol.Shape[2]),
		"dropped": len(dropped),
		"size":    humanize.Bytes(uint64(result.Bytes)),
	}).Info("Saved volume")
	return result
}

// Assemble sorts, decodes and stacks the files of a series and attaches the
// configured transform. Files that fail to decode are dropped and returned.
func (r *Reconstructor) Assemble(group models.SeriesGroup) (*models.Volume, []*FileError, error) {
	files := make([]models.RawSliceFile, len(group.Files))
	copy(files, group.Files)
	if err := SortFiles(files, r.params.Order); err != nil {
		return nil, nil, err
	}

	var (
		planes  []models.Plane
		paths   []string
		dropped []*FileError
	)
	for _, f := range files {
		plane, err := r.reader.ReadSlice(f.Path)
		if err != nil {
			fe := &FileError{Kind: ErrDecode, Path: f.Path, Err: err}
			r.logger.WithFields(log.Fields{
				"series": group.SeriesID,
				"path":   f.Path,
				"error":  err,
			}).Warn("Dropping slice that failed to decode")
			dropped = append(dropped, fe)
			continue
		}
		planes = append(planes, plane)
		paths = append(paths, f.Path)
	}

	if len(planes) == 0 {
		return nil, dropped, fmt.Errorf("%w: no slice of series %s could be decoded", ErrEmptyGroup, group.SeriesID)
	}

	vol, err := Stack(planes, paths)
	if err != nil {
		return nil, dropped, err
	}

	vol, err = r.applyTransform(vol)
	if err != nil {
		return nil, dropped, err
	}
	return vol, dropped, nil
}

// Stack places the planes along a new first axis, giving shape (N, rows, cols).
// paths names the source of each plane in error messages.
func Stack(planes []models.Plane, paths []string) (*models.Volume, error) {
	if len(planes) == 0 {
		return nil, ErrEmptyGroup
	}

	rows, cols := planes[0].Rows, planes[0].Cols
	for i, p := range planes {
		if p.Rows != rows || p.Cols != cols || len(p.Data) != rows*cols {
			path := ""
			if i < len(paths) {
				path = paths[i]
			}
			return nil, &FileError{
				Kind: ErrShapeMismatch,
				Path: path,
				Err:  fmt.Errorf("slice is %dx%d, expected %dx%d", p.Rows, p.Cols, rows, cols),
			}
		}
	}

	shape := [3]int{len(planes), rows, cols}
	data := make([]float64, 0, shape[0]*rows*cols)
	for _, p := range planes {
		data = append(data, p.Data...)
	}

	return &models.Volume{
		Data:     data,
		Shape:    shape,
		Affine:   models.IdentityAffine(),
		DataType: inferDataType(data),
	}, nil
}

func (r *Reconstructor) applyTransform(vol *models.Volume) (*models.Volume, error) {
	switch r.params.Transform {
	case "", config.TransformIdentity:
		return vol, nil
	case config.TransformSpacing:
		vol.Affine = models.DiagonalAffine(r.params.Spacing)
		return vol, nil
	case config.TransformCanonical:
		resized, err := interpolation.ResizeToShape(vol, r.params.TargetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to resize volume: %w", err)
		}
		s := r.params.TargetSpacing
		resized.Affine = models.DiagonalAffine([3]float64{s, s, s})
		return resized, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", r.params.Transform)
	}
}

// inferDataType picks the narrowest sample type that holds the data exactly.
func inferDataType(data []float64) models.DataType {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v != math.Trunc(v) || math.IsNaN(v) {
			return models.Float32
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	switch {
	case lo >= math.MinInt16 && hi <= math.MaxInt16:
		return models.Int16
	case lo >= 0 && hi <= math.MaxUint16:
		return models.Uint16
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		return models.Int32
	default:
		return models.Float32
	}
}

// SanitizeSeriesID makes a series identifier safe for use in a file name:
// every character other than an ASCII letter or digit becomes '_' and the
// result is cut to 50 bytes.
func SanitizeSeriesID(id string) string {
	var b strings.Builder
	for _, c := range id {
		if c < 128 && (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	safe := b.String()
	if len(safe) > maxSafeNameLen {
		safe = safe[:maxSafeNameLen]
	}
	return safe
}

// OutputName returns series_<seq>_<safe id><ext>.
func OutputName(seq int, seriesID, ext string) string {
	if ext == "" {
		ext = ".nii.gz"
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("series_%d_%s%s", seq, SanitizeSeriesID(seriesID), ext)
}
