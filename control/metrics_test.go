package control

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "fiber")

	m.RecordFiberCreated()
	m.RecordScheduled(3)
	m.RecordTickle()
	m.RecordTimersFired(2)
	m.RecordIOTimeout()
	m.SetPendingEvents(5)
	m.SetIdleThreads(1)
	m.ObserveReactorWait(10 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fibersCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tasksScheduled))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.timersFired))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.pendingEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.idleThreads))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFiberCreated()
		m.RecordScheduled(1)
		m.SetPendingEvents(1)
		m.ObserveReactorWait(time.Second)
	})
}
