package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrivolumes/pkg/reconstruction"
	"mrivolumes/pkg/series"
)

// TestRecordGroup verifies the per-series counters
func TestRecordGroup(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.RecordGroup(reconstruction.GroupResult{Sequence: 1, Bytes: 2048}))
	require.NoError(t, c.RecordGroup(reconstruction.GroupResult{
		Sequence: 2,
		Dropped: []*reconstruction.FileError{
			{Kind: reconstruction.ErrDecode, Path: "a.dcm"},
			{Kind: reconstruction.ErrDecode, Path: "b.dcm"},
		},
		Err: reconstruction.ErrEmptyGroup,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.groups.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.groups.WithLabelValues("empty_group")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.skipped.WithLabelValues("decode")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.bytesWritten))
}

// TestObserveRuns verifies run level metrics and the textfile output
func TestObserveRuns(t *testing.T) {
	c := NewCollector()

	c.ObserveConversion(&reconstruction.Summary{
		Skipped:  []series.SkippedFile{{Path: "x.dcm", Err: errors.New("bad header")}},
		Duration: 1500 * time.Millisecond,
	})
	c.ObserveBatch("resize", &reconstruction.BatchSummary{Results: []reconstruction.BatchResult{
		{InputPath: "a.nii.gz", Bytes: 100},
		{InputPath: "b.nii", Skipped: true, Err: errors.New("not 3D")},
		{InputPath: "c.nii", Err: errors.New("broken")},
	}}, 0.25)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped.WithLabelValues("header_read")))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.duration.WithLabelValues("convert")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.duration.WithLabelValues("resize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.volumes.WithLabelValues("resize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.volumes.WithLabelValues("resize", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.volumes.WithLabelValues("resize", "failed")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.bytesWritten))

	path := filepath.Join(t.TempDir(), "textfile", "mrivolumes.prom")
	require.NoError(t, c.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "mrivolumes_files_skipped_total{kind=\"header_read\"} 1")
	assert.Contains(t, string(raw), "mrivolumes_last_run_duration_seconds{command=\"convert\"} 1.5")
}
