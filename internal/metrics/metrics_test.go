package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/domain"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("add", time.Now(), nil)
	m.Observe("add", time.Now(), domain.Conflictf("overlap"))
	m.Observe("delete", time.Now(), errors.New("disk I/O error"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("add", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("delete", "unknown")))
}

func TestChanged(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Changed(domain.ActionRestore, 3)
	m.Changed(domain.ActionRestore, 0)
	m.Changed(domain.ActionDelete, 1)

	expected := `
		# HELP skiptrack_markers_changed_total Total number of marker rows written, by action
		# TYPE skiptrack_markers_changed_total counter
		skiptrack_markers_changed_total{action="delete"} 1
		skiptrack_markers_changed_total{action="restore"} 3
	`
	require.NoError(t, testutil.CollectAndCompare(m.MarkersChanged, strings.NewReader(expected)))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration")

	// Unregistered collectors still work
	m := New(nil)
	m.PurgesOutstanding.Set(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PurgesOutstanding))
}
