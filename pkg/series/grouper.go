// Package series discovers slice files under a directory tree and groups them
// by series identifier.
package series

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"mrivolumes/internal/models"
)

// ErrHeaderRead marks a file whose metadata could not be parsed.
var ErrHeaderRead = errors.New("header read error")

// HeaderReader reads the metadata of a slice file without its pixel payload.
type HeaderReader interface {
	ReadHeader(path string) (models.SliceHeader, error)
}

// SkippedFile is a candidate file that contributed to no group.
type SkippedFile struct {
	Path string
	Err  error
}

func (s SkippedFile) Error() string {
	return fmt.Sprintf("%s: %v", s.Path, s.Err)
}

func (s SkippedFile) Unwrap() []error {
	return []error{ErrHeaderRead, s.Err}
}

// Grouping is the result of a discovery pass.
type Grouping struct {
	// Groups are in first-encounter order across the traversal
	Groups []models.SeriesGroup

	// Skipped lists files whose header could not be read
	Skipped []SkippedFile

	// Candidates is the number of files that matched the extension filter
	Candidates int

	index map[string]int
}

// Lookup returns the group for a series identifier.
func (g *Grouping) Lookup(seriesID string) (models.SeriesGroup, bool) {
	i, ok := g.index[seriesID]
	if !ok {
		return models.SeriesGroup{}, false
	}
	return g.Groups[i], true
}

// FileCount returns the number of grouped files.
func (g *Grouping) FileCount() int {
	n := 0
	for _, grp := range g.Groups {
		n += len(grp.Files)
	}
	return n
}

func (g *Grouping) add(file models.RawSliceFile) {
	i, ok := g.index[file.SeriesID]
	if !ok {
		i = len(g.Groups)
		g.index[file.SeriesID] = i
		g.Groups = append(g.Groups, models.SeriesGroup{SeriesID: file.SeriesID})
	}
	g.Groups[i].Files = append(g.Groups[i].Files, file)
}

// Grouper walks a directory tree and groups slice files by series.
type Grouper struct {
	reader     HeaderReader
	extensions map[string]bool
	logger     *log.Logger
}

// NewGrouper creates a grouper accepting files with the given extensions.
// Matching is case-insensitive; an empty list accepts every regular file.
func NewGrouper(reader HeaderReader, extensions []string, logger *log.Logger) *Grouper {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	if logger == nil {
		logger = log.New()
	}
	return &Grouper{reader: reader, extensions: exts, logger: logger}
}

// Group walks root and returns the series found beneath it. Unreadable
// headers are logged and skipped; only a failing walk is returned as an error.
func (g *Grouper) Group(root string) (*Grouping, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input root %s is not a directory", root)
	}

	result := &Grouping{index: make(map[string]int)}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !g.accepts(path) {
			return nil
		}
		result.Candidates++

		header, err := g.reader.ReadHeader(path)
		if err != nil {
			g.logger.WithFields(log.Fields{
				"path":  path,
				"error": err,
			}).Warn("Skipping file with unreadable header")
			result.Skipped = append(result.Skipped, SkippedFile{Path: path, Err: err})
			return nil
		}

		seriesID := strings.TrimSpace(header.SeriesID)
		if seriesID == "" {
			seriesID = filepath.Base(filepath.Dir(path))
		}

		result.add(models.RawSliceFile{
			Path:           path,
			SeriesID:       seriesID,
			InstanceNumber: header.InstanceNumber,
			HasInstance:    header.HasInstance,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	g.logger.WithFields(log.Fields{
		"root":       root,
		"series":     len(result.Groups),
		"files":      result.FileCount(),
		"skipped":    len(result.Skipped),
		"candidates": result.Candidates,
	}).Info("Grouped slice files")

	return result, nil
}

func (g *Grouper) accepts(path string) bool {
	if len(g.extensions) == 0 {
		return true
	}
	return g.extensions[strings.ToLower(filepath.Ext(path))]
}
