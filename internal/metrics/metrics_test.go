package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())

	gathered, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, gathered)
}

func TestRecordCycle_IncrementsByQuality(t *testing.T) {
	m := New()
	m.RecordCycle("success")
	m.RecordCycle("success")
	m.RecordCycle("partial")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cyclesTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cyclesTotal.WithLabelValues("partial")))
}

func TestSetPatternConfidence(t *testing.T) {
	m := New()
	m.SetPatternConfidence("pat-1", 0.75)
	assert.Equal(t, 0.75, testutil.ToFloat64(m.patternConfidence.WithLabelValues("pat-1")))
}

func TestRecordBreakerTrip(t *testing.T) {
	m := New()
	m.RecordBreakerTrip("github")
	m.RecordBreakerTrip("github")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.breakerTrips.WithLabelValues("github")))
}

func TestSetSystemPaused(t *testing.T) {
	m := New()
	m.SetSystemPaused(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.systemPaused))
	m.SetSystemPaused(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.systemPaused))
}

func TestSetQueueDepth(t *testing.T) {
	m := New()
	m.SetQueueDepth("pending", 4)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.queueDepth.WithLabelValues("pending")))
}
