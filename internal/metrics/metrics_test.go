package metrics_test

import (
	"testing"

	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Refreshes.Inc()
	m.Requests.WithLabelValues(metrics.StatusClass(401)).Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(m.Refreshes))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("4xx")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "network", metrics.StatusClass(0))
	require.Equal(t, "2xx", metrics.StatusClass(204))
	require.Equal(t, "3xx", metrics.StatusClass(302))
	require.Equal(t, "4xx", metrics.StatusClass(401))
	require.Equal(t, "5xx", metrics.StatusClass(503))
}
