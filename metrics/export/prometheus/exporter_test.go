package prometheus

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authhero"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authhero.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authhero.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: authhero.MetricsSnapshot{
			Counters: map[authhero.MetricID]uint64{
				authhero.MetricLoginSuccess: 7,
			},
			Histograms: map[authhero.MetricID][]uint64{
				authhero.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authhero.MetricsSnapshot{
			Counters:   map[authhero.MetricID]uint64{},
			Histograms: map[authhero.MetricID][]uint64{},
		},
	})
	require.Empty(t, exp.Render())
	require.Empty(t, NewExporterFromSource(nil).Render())
}

func TestRenderCountersAndHistograms(t *testing.T) {
	out := NewExporterFromSource(sampleSource()).Render()

	for _, line := range []string{
		"# TYPE authhero_login_success_total counter",
		"authhero_login_success_total 7",
		"authhero_login_failure_total 0",
		"# TYPE authhero_authenticate_latency_seconds histogram",
		`authhero_authenticate_latency_seconds_bucket{le="0.005"} 1`,
		`authhero_authenticate_latency_seconds_bucket{le="0.01"} 3`,
		`authhero_authenticate_latency_seconds_bucket{le="+Inf"} 36`,
		"authhero_authenticate_latency_seconds_count 36",
		"authhero_login_latency_seconds_count 0",
		"authhero_audit_dropped_total 2",
	} {
		require.Contains(t, out, line+"\n")
	}
}

func TestWriteToReportsBytes(t *testing.T) {
	exp := NewExporterFromSource(sampleSource())
	var b strings.Builder
	n, err := exp.WriteTo(&b)
	require.NoError(t, err)
	require.Equal(t, int64(b.Len()), n)
	require.Equal(t, exp.Render(), b.String())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestWriteToSurfacesWriterError(t *testing.T) {
	_, err := NewExporterFromSource(sampleSource()).WriteTo(brokenWriter{})
	require.EqualError(t, err, "closed pipe")
}

func TestHandlerWritesExposition(t *testing.T) {
	exp := NewExporterFromSource(sampleSource())

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "authhero_login_success_total 7\n")
}

func BenchmarkWriteTo(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authhero.MetricsSnapshot{
			Counters: map[authhero.MetricID]uint64{
				authhero.MetricLoginSuccess:         1000,
				authhero.MetricLoginFailure:         40,
				authhero.MetricRefreshSuccess:       800,
				authhero.MetricRefreshFailure:       10,
				authhero.MetricSessionCreated:       800,
				authhero.MetricSessionsRevoked:      20,
				authhero.MetricPasswordResetFailure: 3,
			},
			Histograms: map[authhero.MetricID][]uint64{
				authhero.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	for b.Loop() {
		_, _ = exp.WriteTo(io.Discard)
	}
}
