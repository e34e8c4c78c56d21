package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveSign("mnemonic", 3*time.Millisecond, nil)
	m.ObserveSign("mnemonic", time.Millisecond, errors.New("boom"))
	m.WatchStarted()
	m.WatchStarted()
	m.WatchStopped()
	m.Transition("SEALED")
	m.StaleUpdate()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.signs.WithLabelValues("mnemonic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signs.WithLabelValues("mnemonic", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("SEALED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleUpdates))
}

func TestMetrics_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSign("raw_key", time.Second, nil)
		m.ObservePoll("ok")
		m.WatchStarted()
		m.WatchStopped()
		m.Transition("PENDING")
		m.StaleUpdate()
		m.Submission("generic", nil)
		m.Request("status", nil)
	})
}
