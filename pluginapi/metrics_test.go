package pluginapi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAggregates(t *testing.T) {
	m := NewMetrics()
	m.Record("face_recognition", 10, false, false)
	m.Record("face_recognition", 20, false, false)
	m.Record("face_recognition", 30, true, false)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	s := snap[0]
	require.Equal(t, "face_recognition", s.Plugin)
	require.Equal(t, 3, s.FrameCount)
	require.Equal(t, float64(60), s.TotalDurationMs)
	require.Equal(t, float64(10), s.MinDurationMs)
	require.Equal(t, float64(30), s.MaxDurationMs)
	require.InDelta(t, 20.0, s.AvgDurationMs, 0.001)
	require.Equal(t, 1, s.TimeoutCount)
}

func TestMetricsSnapshotSortedByTotalDurationDescending(t *testing.T) {
	m := NewMetrics()
	m.Record("slow", 100, false, false)
	m.Record("fast", 5, false, false)
	m.Record("medium", 50, false, false)

	snap := m.Snapshot()
	require.Equal(t, []string{"slow", "medium", "fast"}, []string{snap[0].Plugin, snap[1].Plugin, snap[2].Plugin})
}

func TestMetricsRecordErrorWithoutTiming(t *testing.T) {
	m := NewMetrics()
	m.RecordError("object_detection")
	m.RecordError("object_detection")

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 2, snap[0].ErrorCount)
	require.Equal(t, 0, snap[0].FrameCount)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.Record("p", 1, false, false)
	m.Reset()
	require.Empty(t, m.Snapshot())
}

func TestMetricsConcurrentRecordDoesNotLoseWrites(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record("p", 1, false, false)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, n, snap[0].FrameCount)
}
