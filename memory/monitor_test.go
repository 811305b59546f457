package memory

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/videod/metrics"
)

func TestAvailableMBReturnsPositiveValue(t *testing.T) {
	m := NewMonitor(nil)
	mb := m.AvailableMB(context.Background())
	require.Greater(t, mb, uint64(0))
}

func TestMaybeAggressiveCleanupSkipsAboveThreshold(t *testing.T) {
	m := NewMonitor(nil)
	m.aggressiveWait = time.Millisecond
	triggered := m.MaybeAggressiveCleanup(context.Background(), 0)
	require.False(t, triggered)
}

func TestMaybeAggressiveCleanupTriggersBelowThreshold(t *testing.T) {
	m := NewMonitor(nil)
	m.aggressiveWait = time.Millisecond
	triggered := m.MaybeAggressiveCleanup(context.Background(), ^uint64(0))
	require.True(t, triggered)
}

func TestSampleRSSSetsGaugeForThisProcess(t *testing.T) {
	svcMetrics := metrics.NewServiceMetrics()
	m := NewMonitor(svcMetrics)
	m.SampleRSS(context.Background())

	require.Greater(t, testutil.ToFloat64(svcMetrics.ProcessRSSBytes), 0.0)
}

func TestSampleRSSNoopsWithoutMetrics(t *testing.T) {
	m := NewMonitor(nil)
	require.NotPanics(t, func() { m.SampleRSS(context.Background()) })
}

func TestCurrentRSSMBReturnsPositiveValueForThisProcess(t *testing.T) {
	m := NewMonitor(nil)
	mb, ok := m.CurrentRSSMB(context.Background())
	require.True(t, ok)
	require.Greater(t, mb, uint64(0))
}

func TestMaybeAggressiveCleanupRespectsContextCancellation(t *testing.T) {
	m := NewMonitor(nil)
	m.aggressiveWait = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.MaybeAggressiveCleanup(ctx, ^uint64(0))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MaybeAggressiveCleanup did not respect context cancellation")
	}
}
