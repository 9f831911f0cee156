package manifest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrivolumes/pkg/reconstruction"
	"mrivolumes/pkg/series"
)

// TestRecordRun verifies that runs and series outcomes are persisted
func TestRecordRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "manifest.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, path, store.Path())

	run, err := store.StartRun("convert", "/data/dicom", "/data/out")
	require.NoError(t, err)

	ok := reconstruction.GroupResult{
		Sequence:   1,
		SeriesID:   "1.2.3",
		Files:      3,
		Shape:      [3]int{3, 10, 10},
		OutputPath: "/data/out/series_1_1_2_3.nii.gz",
		Bytes:      512,
	}
	failed := reconstruction.GroupResult{
		Sequence: 2,
		SeriesID: "4.5.6",
		Files:    2,
		Dropped: []*reconstruction.FileError{
			{Kind: reconstruction.ErrDecode, Path: "a.dcm", Err: fmt.Errorf("no pixel data")},
			{Kind: reconstruction.ErrDecode, Path: "b.dcm", Err: fmt.Errorf("no pixel data")},
		},
		Err: reconstruction.ErrEmptyGroup,
	}
	require.NoError(t, run.RecordGroup(ok))
	require.NoError(t, run.RecordGroup(failed))

	summary := &reconstruction.Summary{
		Results: []reconstruction.GroupResult{ok, failed},
		Skipped: []series.SkippedFile{{Path: "notes.txt", Err: fmt.Errorf("not dicom")}},
	}
	require.NoError(t, run.Finish(summary))

	entries, err := store.Entries(run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ok", entries[0].Status)
	assert.Equal(t, "3x10x10", entries[0].Shape)
	assert.Equal(t, int64(512), entries[0].Bytes)
	assert.Empty(t, entries[0].Error)

	assert.Equal(t, "empty_group", entries[1].Status)
	assert.Equal(t, 2, entries[1].Dropped)
	assert.Empty(t, entries[1].Shape)
	assert.NotEmpty(t, entries[1].Error)

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "convert", runs[0].Command)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 1, runs[0].Skipped)
	assert.NotEmpty(t, runs[0].FinishedAt)
}

// TestReopen verifies that a second run appends to an existing manifest
func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.StartRun("convert", "in", "out")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.StartRun("convert", "in", "out")
	require.NoError(t, err)
	assert.Equal(t, int64(2), run.ID)

	runs, err := store.Runs()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Empty(t, runs[0].FinishedAt)

	_, err = Open("")
	assert.Error(t, err)
}
