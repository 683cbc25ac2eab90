package cloudmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPusherModes(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.MetricsPushConfig
		want any
	}{
		{name: "none", cfg: config.MetricsPushConfig{Mode: "none"}, want: nil},
		{name: "remote write", cfg: config.MetricsPushConfig{Mode: "remote_write", RemoteWriteURL: "http://prom:9090/api/v1/write"}, want: &RemoteWritePusher{}},
		{name: "remote write bad url", cfg: config.MetricsPushConfig{Mode: "remote_write", RemoteWriteURL: "::"}, want: nil},
		{name: "pushgateway", cfg: config.MetricsPushConfig{Mode: "pushgateway", PushgatewayURL: "http://pgw:9091"}, want: &PushgatewayPusher{}},
		{name: "pushgateway missing url", cfg: config.MetricsPushConfig{Mode: "pushgateway"}, want: nil},
		{name: "unknown", cfg: config.MetricsPushConfig{Mode: "statsd"}, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPusher(config.Config{AppName: "cloudcost", Metrics: tc.cfg}, nil)
			if tc.want == nil {
				assert.Nil(t, p)
				return
			}
			assert.IsType(t, tc.want, p)
		})
	}
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	registry := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cloudcost_job_runs_total"}, []string{"job"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cloudcost_job_duration_seconds"})
	registry.MustRegister(runs, duration)
	runs.WithLabelValues("costs").Add(2)
	duration.Observe(3)

	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWritePusher(srv.URL, "secret")
	require.NoError(t, p.Push(context.Background(), registry))

	names := map[string]float64{}
	for _, ts := range got.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = ts.Samples[0].Value
			}
		}
	}
	assert.Equal(t, 2.0, names["cloudcost_job_runs_total"])
	assert.Equal(t, 1.0, names["cloudcost_job_duration_seconds_count"])
	assert.Equal(t, 3.0, names["cloudcost_job_duration_seconds_sum"])
}

func TestRemoteWritePusherReportsRejection(t *testing.T) {
	registry := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cloudcost_up"})
	registry.MustRegister(g)
	g.Set(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
}
